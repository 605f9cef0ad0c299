// Package upload moves finished recordings to durable storage and attaches
// them to the active submission, off the exam timer's critical path.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/notify"
	"github.com/stemsi/exstem-oral/internal/recording"
)

// AudioStore stores raw audio and returns a stable reference to it.
type AudioStore interface {
	UploadAudio(ctx context.Context, filename, mimeType string, data []byte) (string, error)
}

// AnswerAppender records an uploaded audio reference against a submission.
type AnswerAppender interface {
	AppendAnswer(ctx context.Context, submissionID, questionID uuid.UUID, audioRef string) error
}

// Job is one answer to upload.
type Job struct {
	SubmissionID uuid.UUID
	Recording    *recording.Recording
}

// Options tunes a Pipeline.
type Options struct {
	Concurrency int
	Timeout     time.Duration
}

const (
	defaultConcurrency = 2
	defaultTimeout     = 2 * time.Minute
)

// Pipeline runs uploads in the background. Each job is independent: no
// ordering across questions and no retries.
type Pipeline struct {
	store    AudioStore
	answers  AnswerAppender
	library  *recording.Library
	notes    *notify.Bus[notify.Notification]
	log      zerolog.Logger
	timeout  time.Duration
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	failures int
}

// New creates a Pipeline. library and notes may be nil.
func New(store AudioStore, answers AnswerAppender, library *recording.Library, notes *notify.Bus[notify.Notification], log zerolog.Logger, opts Options) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Pipeline{
		store:   store,
		answers: answers,
		library: library,
		notes:   notes,
		log:     log.With().Str("component", "upload").Logger(),
		timeout: opts.Timeout,
		sem:     make(chan struct{}, opts.Concurrency),
	}
}

// Submit queues job and returns immediately.
func (p *Pipeline) Submit(job Job) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		p.process(ctx, job)
	}()
}

// Wait blocks until every submitted job has finished. In-flight uploads are
// never cancelled.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Failures returns how many jobs have failed so far.
func (p *Pipeline) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

func (p *Pipeline) process(ctx context.Context, job Job) {
	rec := job.Recording
	qid := rec.QuestionID
	log := p.log.With().
		Str("submission_id", job.SubmissionID.String()).
		Str("question_id", qid.String()).
		Logger()

	if p.library != nil && !p.library.Claim(rec) {
		log.Debug().Msg("Answer already uploaded, replaced or in flight, skipping")
		return
	}

	if err := p.upload(ctx, job); err != nil {
		if p.library != nil {
			p.library.Release(rec)
		}
		log.Error().Err(err).Msg("Answer upload failed")
		p.mu.Lock()
		p.failures++
		p.mu.Unlock()
		if p.notes != nil {
			p.notes.Publish(notify.Warning(notify.CodeUploadFailed,
				"Your answer could not be uploaded. The test continues.", &qid))
		}
		return
	}
	log.Info().Dur("duration", rec.Duration).Msg("Answer uploaded")
}

func (p *Pipeline) upload(ctx context.Context, job Job) error {
	rec := job.Recording
	if len(rec.Data) == 0 {
		return fmt.Errorf("recording has no audio")
	}

	filename := fmt.Sprintf("%s_%s%s", job.SubmissionID, rec.QuestionID, extension(rec.MIMEType))
	ref, err := p.store.UploadAudio(ctx, filename, rec.MIMEType, rec.Data)
	if err != nil {
		return fmt.Errorf("upload audio: %w", err)
	}
	if err := p.answers.AppendAnswer(ctx, job.SubmissionID, rec.QuestionID, ref); err != nil {
		return fmt.Errorf("append answer: %w", err)
	}
	if p.library != nil {
		p.library.MarkUploaded(rec, ref)
	}
	return nil
}

func extension(mimeType string) string {
	switch mimeType {
	case recording.MIMETypeWAV:
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	default:
		return ""
	}
}
