// Package notify is the fan-out channel between background work (uploads,
// recording, the exam timer) and whatever renders the exam to the student.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Severity ranks a notification for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Code identifies what a notification is about.
type Code string

const (
	CodeMicrophoneFailed Code = "MICROPHONE_FAILED"
	CodeRecordingFailed  Code = "RECORDING_FAILED"
	CodeUploadFailed     Code = "UPLOAD_FAILED"
	CodeUploadRetried    Code = "UPLOAD_RETRIED"
	CodeFinalizeFailed   Code = "FINALIZE_FAILED"
	CodeSubmitted        Code = "SUBMITTED"
	CodeExamNotReady     Code = "EXAM_NOT_READY"
	CodeDataIntegrity    Code = "DATA_INTEGRITY"
)

// Notification is a user-facing message.
type Notification struct {
	Severity   Severity   `json:"severity"`
	Code       Code       `json:"code"`
	Message    string     `json:"message"`
	QuestionID *uuid.UUID `json:"question_id,omitempty"`
	At         time.Time  `json:"at"`
}

// Warning builds a warning notification.
func Warning(code Code, msg string, questionID *uuid.UUID) Notification {
	return Notification{Severity: SeverityWarning, Code: code, Message: msg, QuestionID: questionID, At: time.Now()}
}

// Error builds an error notification.
func Error(code Code, msg string) Notification {
	return Notification{Severity: SeverityError, Code: code, Message: msg, At: time.Now()}
}

// Info builds an informational notification.
func Info(code Code, msg string) Notification {
	return Notification{Severity: SeverityInfo, Code: code, Message: msg, At: time.Now()}
}

// Bus delivers published values to every current subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the value.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	closed bool
	log    zerolog.Logger
}

// NewBus creates an empty Bus.
func NewBus[T any](log zerolog.Logger) *Bus[T] {
	return &Bus[T]{
		subs: make(map[int]chan T),
		log:  log,
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish sends v to all subscribers without blocking.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.log.Debug().Int("subscriber", id).Msg("Subscriber buffer full, value dropped")
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
