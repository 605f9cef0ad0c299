package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/model"
)

// Demo is an in-memory backend for rehearsing the exam without a server.
// Answers are kept in memory and never leave the machine.
type Demo struct {
	sections  []model.Section
	questions map[uuid.UUID][]model.Question
	log       zerolog.Logger

	mu      sync.Mutex
	answers map[uuid.UUID]string
	done    bool
}

// NewDemo returns a demo backend serving DemoExam.
func NewDemo(log zerolog.Logger) *Demo {
	sections, questions := DemoExam()
	return &Demo{
		sections:  sections,
		questions: questions,
		log:       log.With().Str("component", "demo_backend").Logger(),
		answers:   make(map[uuid.UUID]string),
	}
}

// DemoTestID identifies the built-in practice test.
var DemoTestID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

// DemoExam is a short practice exam: an interview, then a picture task
// with two nested parts.
func DemoExam() ([]model.Section, map[uuid.UUID][]model.Question) {
	interview := model.Section{
		ID: uuid.MustParse("00000000-0000-4000-8000-000000000101"), TestID: DemoTestID,
		SectionNumber: 1, Title: "Interview", Instructions: "Answer the examiner's questions about yourself.",
		PreparationTime: 10, SpeakingTime: 30,
	}
	picture := model.Section{
		ID: uuid.MustParse("00000000-0000-4000-8000-000000000102"), TestID: DemoTestID,
		SectionNumber: 2, Title: "Picture description", Instructions: "Look at the picture.",
		PreparationTime: 20, SpeakingTime: 45,
	}
	describe := model.Section{
		ID: uuid.MustParse("00000000-0000-4000-8000-000000000103"), TestID: DemoTestID,
		SectionNumber: 1, Title: "Describe", PreparationTime: 20, SpeakingTime: 45,
		ParentSectionID: &picture.ID,
	}
	compare := model.Section{
		ID: uuid.MustParse("00000000-0000-4000-8000-000000000104"), TestID: DemoTestID,
		SectionNumber: 2, Title: "Compare", PreparationTime: 30, SpeakingTime: 60,
		ParentSectionID: &picture.ID,
	}

	q := func(section model.Section, n int, text string) model.Question {
		return model.Question{ID: uuid.New(), SectionID: section.ID, QuestionNumber: n, QuestionText: text}
	}
	quick := 15
	questions := map[uuid.UUID][]model.Question{
		interview.ID: {
			q(interview, 1, "Introduce yourself."),
			q(interview, 2, "What do you like to do at the weekend?"),
		},
		describe.ID: {q(describe, 1, "Describe what you see in the picture.")},
		compare.ID: {
			func() model.Question {
				x := q(compare, 1, "Compare the two places. Which would you prefer?")
				x.PreparationTime = &quick
				return x
			}(),
		},
	}
	return []model.Section{compare, picture, describe, interview}, questions
}

func (d *Demo) ListSections(_ context.Context, _ uuid.UUID) ([]model.Section, error) {
	return d.sections, nil
}

func (d *Demo) ListQuestions(_ context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	return d.questions[sectionID], nil
}

func (d *Demo) CreateSubmission(_ context.Context, testID, purchaseID uuid.UUID) (*model.Submission, error) {
	return &model.Submission{
		ID:         uuid.New(),
		PurchaseID: purchaseID,
		TestID:     testID,
		Status:     model.SubmissionStatusInProgress,
		StartedAt:  time.Now(),
	}, nil
}

// UploadAudio keeps nothing; the runner's library still holds the audio.
func (d *Demo) UploadAudio(_ context.Context, filename, _ string, data []byte) (string, error) {
	d.log.Debug().Str("filename", filename).Int("bytes", len(data)).Msg("Demo upload")
	return "demo://" + filename, nil
}

func (d *Demo) AppendAnswer(_ context.Context, _, questionID uuid.UUID, audioRef string) error {
	d.mu.Lock()
	d.answers[questionID] = audioRef
	d.mu.Unlock()
	return nil
}

func (d *Demo) Complete(context.Context, uuid.UUID) error {
	d.mu.Lock()
	d.done = true
	n := len(d.answers)
	d.mu.Unlock()
	d.log.Info().Int("answers", n).Msg("Demo exam complete")
	return nil
}

// Answers returns the audio reference recorded per question.
func (d *Demo) Answers() map[uuid.UUID]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uuid.UUID]string, len(d.answers))
	for k, v := range d.answers {
		out[k] = v
	}
	return out
}

// Completed reports whether Complete was called.
func (d *Demo) Completed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}
