package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stemsi/exstem-oral/internal/notify"
	"github.com/stemsi/exstem-oral/internal/recording"
	"github.com/stemsi/exstem-oral/internal/sectiontree"
	"github.com/stemsi/exstem-oral/internal/sequencer"
	"github.com/stemsi/exstem-oral/internal/upload"
)

// Backend is everything a session needs from the exam service.
type Backend interface {
	ListSections(ctx context.Context, testID uuid.UUID) ([]model.Section, error)
	sequencer.QuestionSource
	CreateSubmission(ctx context.Context, testID, purchaseID uuid.UUID) (*model.Submission, error)
	upload.AudioStore
	upload.AnswerAppender
	Completer
}

var (
	ErrNotLoaded           = errors.New("exam questions are not loaded")
	ErrMicrophoneUnchecked = errors.New("microphone check has not been accepted")
	ErrSessionStarted      = errors.New("exam already started")
	ErrSessionStarting     = errors.New("exam is already starting")
)

// SessionConfig identifies the attempt and tunes its parts.
type SessionConfig struct {
	TestID           uuid.UUID
	PurchaseID       uuid.UUID
	FetchConcurrency int
	Controller       Options
}

// Session walks one attempt through its gates: questions loaded, microphone
// check accepted, submission created. Only then does the exam timer start.
type Session struct {
	cfg       SessionConfig
	backend   Backend
	recorder  *recording.Recorder
	selfTest  *recording.SelfTest
	library   *recording.Library
	uploads   *upload.Pipeline
	notes     *notify.Bus[notify.Notification]
	snapshots *notify.Bus[Snapshot]
	log       zerolog.Logger

	mu         sync.RWMutex
	sections   []*model.HierarchicalSection
	questions  []model.FlatQuestion
	starting   bool
	submission *model.Submission
	controller *Controller
	done       chan struct{}
	err        error
}

// NewSession wires a session. The recorder is shared by the microphone check
// and the exam; they never run at the same time.
func NewSession(
	cfg SessionConfig,
	backend Backend,
	recorder *recording.Recorder,
	library *recording.Library,
	uploads *upload.Pipeline,
	notes *notify.Bus[notify.Notification],
	snapshots *notify.Bus[Snapshot],
	log zerolog.Logger,
) *Session {
	return &Session{
		cfg:       cfg,
		backend:   backend,
		recorder:  recorder,
		selfTest:  recording.NewSelfTest(recorder),
		library:   library,
		uploads:   uploads,
		notes:     notes,
		snapshots: snapshots,
		log:       log.With().Str("component", "session").Str("test_id", cfg.TestID.String()).Logger(),
		done:      make(chan struct{}),
	}
}

// Load fetches the section tree and the flat question list. Any fetch
// failure, or an exam without questions, is returned and blocks the start.
func (s *Session) Load(ctx context.Context) error {
	raw, err := s.backend.ListSections(ctx, s.cfg.TestID)
	if err != nil {
		s.notify(notify.Error(notify.CodeExamNotReady, "The exam could not be loaded."))
		return fmt.Errorf("list sections: %w", err)
	}

	roots, anomalies := sectiontree.Build(raw)
	for _, a := range anomalies {
		s.log.Warn().
			Str("kind", string(a.Kind)).
			Str("section_id", a.SectionID.String()).
			Msg("Section tree anomaly")
	}
	if len(anomalies) > 0 {
		s.notify(notify.Warning(notify.CodeDataIntegrity,
			"Some sections of this exam are misconfigured and were placed at the top level.", nil))
	}

	flat := sectiontree.Flatten(roots)
	questions, err := sequencer.Build(ctx, flat, s.backend, s.cfg.FetchConcurrency)
	if err != nil {
		var se *sequencer.SectionError
		switch {
		case errors.As(err, &se):
			s.notify(notify.Error(notify.CodeDataIntegrity,
				fmt.Sprintf("Questions of section %s %q could not be loaded. The exam cannot start.", se.DisplayNumber, se.Title)))
		default:
			s.notify(notify.Error(notify.CodeExamNotReady, "This exam has no questions yet."))
		}
		return err
	}

	s.mu.Lock()
	s.sections = roots
	s.questions = questions
	s.mu.Unlock()

	s.log.Info().Int("sections", len(flat)).Int("questions", len(questions)).Msg("Exam loaded")
	return nil
}

// Start creates the submission and launches the exam on its own goroutine.
// It fails without side effects unless questions are loaded and the
// microphone check was accepted. ctx bounds the whole exam, not just the
// call: cancelling it cancels the exam.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.controller != nil:
		s.mu.Unlock()
		return ErrSessionStarted
	case s.starting:
		s.mu.Unlock()
		return ErrSessionStarting
	case len(s.questions) == 0:
		s.mu.Unlock()
		return ErrNotLoaded
	case !s.selfTest.Accepted():
		s.mu.Unlock()
		return ErrMicrophoneUnchecked
	}
	machine, err := NewMachine(s.questions)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.starting = true
	s.mu.Unlock()

	sub, err := s.backend.CreateSubmission(ctx, s.cfg.TestID, s.cfg.PurchaseID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		s.notify(notify.Error(notify.CodeExamNotReady, "Your attempt could not be registered. Please try again."))
		return fmt.Errorf("create submission: %w", err)
	}
	s.submission = sub

	s.controller = NewController(machine, sub.ID, Deps{
		Recorder:  s.recorder,
		Library:   s.library,
		Uploads:   s.uploads,
		Completer: s.backend,
		Notes:     s.notes,
		Snapshots: s.snapshots,
		Log:       s.log,
	}, s.cfg.Controller)

	go s.run(ctx, s.controller)
	return nil
}

func (s *Session) run(ctx context.Context, c *Controller) {
	err := c.Run(ctx)
	s.uploads.Wait()

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)

	switch {
	case err == nil:
		s.log.Info().Msg("Exam finished")
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		s.log.Info().Msg("Exam cancelled")
	default:
		s.log.Error().Err(err).Msg("Exam stopped")
	}
}

// Done is closed when a started exam has ended and its uploads have drained.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the exam result once Done is closed.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SelfTest returns the microphone check.
func (s *Session) SelfTest() *recording.SelfTest { return s.selfTest }

// Controller returns the running exam, or nil before Start.
func (s *Session) Controller() *Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controller
}

// Sections returns the loaded section tree.
func (s *Session) Sections() []*model.HierarchicalSection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sections
}

// Questions returns the loaded flat question list.
func (s *Session) Questions() []model.FlatQuestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questions
}

// Submission returns the created submission, or nil before Start.
func (s *Session) Submission() *model.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submission
}

// ErrNotRetryable is returned when uploads cannot be retried in the
// current exam phase.
var ErrNotRetryable = errors.New("uploads can only be retried before the exam is submitted")

// RetryUploads resubmits every recording whose upload has not succeeded and
// returns how many were queued.
func (s *Session) RetryUploads() (int, error) {
	c, sub := s.Controller(), s.Submission()
	if c == nil || sub == nil || c.Snapshot().Phase.Terminal() {
		return 0, ErrNotRetryable
	}
	pending := s.library.Pending()
	for _, rec := range pending {
		s.uploads.Submit(upload.Job{SubmissionID: sub.ID, Recording: rec})
	}
	if len(pending) > 0 {
		s.log.Info().Int("count", len(pending)).Msg("Retrying uploads")
	}
	return len(pending), nil
}

// Library returns the local answer store.
func (s *Session) Library() *recording.Library { return s.library }

func (s *Session) notify(n notify.Notification) {
	if s.notes != nil {
		s.notes.Publish(n)
	}
}
