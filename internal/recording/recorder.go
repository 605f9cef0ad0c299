// Package recording captures spoken answers from a microphone into
// in-memory WAV artifacts, one capture at a time.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/notify"
)

var (
	// ErrMicrophoneUnavailable wraps permission and device errors on acquisition.
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	// ErrNotRecording is returned by Stop when nothing is being captured.
	ErrNotRecording = errors.New("not recording")
	// ErrEmptyRecording is returned by Stop when the device produced no audio.
	ErrEmptyRecording = errors.New("recording is empty")
)

const defaultChunkSize = 3200 // 100ms of 16 kHz mono S16LE

// Recording is a finished, playable capture for one question.
type Recording struct {
	QuestionID uuid.UUID     `json:"question_id"`
	Data       []byte        `json:"-"`
	MIMEType   string        `json:"mime_type"`
	URL        string        `json:"url,omitempty"`
	Duration   time.Duration `json:"duration"`
	CapturedAt time.Time     `json:"captured_at"`
}

// Recorder owns the microphone for the duration of one capture.
type Recorder struct {
	mic    Microphone
	levels *notify.Bus[Level]
	log    zerolog.Logger
	chunk  int

	mu     sync.Mutex
	active *capture
}

type capture struct {
	questionID uuid.UUID
	stream     Stream
	format     Format
	startedAt  time.Time

	pcm      bytes.Buffer
	readErr  error
	stopping atomic.Bool
	closeMu  sync.Once
	done     chan struct{}
}

func (c *capture) release() {
	c.closeMu.Do(func() { _ = c.stream.Close() })
}

// NewRecorder creates a Recorder. levels may be nil.
func NewRecorder(mic Microphone, levels *notify.Bus[Level], log zerolog.Logger) *Recorder {
	return &Recorder{
		mic:    mic,
		levels: levels,
		log:    log.With().Str("component", "recorder").Logger(),
		chunk:  defaultChunkSize,
	}
}

// Start acquires the microphone and begins capturing for questionID. A
// capture still running from an earlier call is torn down and discarded first.
func (r *Recorder) Start(ctx context.Context, questionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.active; prev != nil {
		r.log.Warn().Str("question_id", prev.questionID.String()).Msg("Discarding unfinished capture")
		r.teardown(prev)
		r.active = nil
	}

	stream, err := r.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	format := stream.Format()
	if err := format.validate(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}

	c := &capture{
		questionID: questionID,
		stream:     stream,
		format:     format,
		startedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	r.active = c
	go r.run(c)

	r.log.Debug().Str("question_id", questionID.String()).Msg("Capture started")
	return nil
}

// Stop ends the current capture and returns the finished recording. It
// returns only after the capture goroutine has flushed its last chunk.
// The device is released on every path.
func (r *Recorder) Stop(ctx context.Context) (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.active
	if c == nil {
		return nil, ErrNotRecording
	}
	r.active = nil

	c.stopping.Store(true)
	c.release()

	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if c.readErr != nil {
		return nil, fmt.Errorf("capture: %w", c.readErr)
	}
	pcm := c.pcm.Bytes()
	if len(pcm) == 0 {
		return nil, ErrEmptyRecording
	}

	rec := &Recording{
		QuestionID: c.questionID,
		Data:       EncodeWAV(c.format, pcm),
		MIMEType:   MIMETypeWAV,
		Duration:   c.format.Duration(len(pcm)),
		CapturedAt: c.startedAt,
	}
	r.log.Debug().
		Str("question_id", c.questionID.String()).
		Dur("duration", rec.Duration).
		Int("bytes", len(rec.Data)).
		Msg("Capture finished")
	return rec, nil
}

// Recording reports whether a capture is active and for which question.
func (r *Recorder) Recording() (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return uuid.Nil, false
	}
	return r.active.questionID, true
}

// Close discards any active capture and releases the device.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		r.teardown(r.active)
		r.active = nil
	}
}

func (r *Recorder) teardown(c *capture) {
	c.stopping.Store(true)
	c.release()
	<-c.done
}

func (r *Recorder) run(c *capture) {
	defer close(c.done)
	defer c.release()

	buf := make([]byte, r.chunk)
	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			c.pcm.Write(buf[:n])
			if r.levels != nil {
				rms, peak := analyse(buf[:n])
				r.levels.Publish(Level{QuestionID: c.questionID, RMS: rms, Peak: peak, At: time.Now()})
			}
		}
		if err != nil {
			// Any read error after Stop is the device closing under us.
			if !c.stopping.Load() && !isEOF(err) {
				c.readErr = err
				r.log.Error().Err(err).Str("question_id", c.questionID.String()).Msg("Capture read failed")
			}
			return
		}
	}
}
