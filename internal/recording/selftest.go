package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SelfTestState is the step of the pre-exam microphone check.
type SelfTestState string

const (
	SelfTestIdle      SelfTestState = "idle"
	SelfTestRecording SelfTestState = "recording"
	SelfTestReview    SelfTestState = "review"
	SelfTestAccepted  SelfTestState = "accepted"
)

// ErrSelfTestState is returned for an action not allowed in the current step.
var ErrSelfTestState = errors.New("action not allowed in current microphone check step")

// SelfTest is the manual record / play back / accept cycle a student must
// finish before the exam timer may start.
type SelfTest struct {
	rec *Recorder

	mu    sync.Mutex
	state SelfTestState
	take  *Recording
}

// NewSelfTest creates a SelfTest on its own Recorder.
func NewSelfTest(rec *Recorder) *SelfTest {
	return &SelfTest{rec: rec, state: SelfTestIdle}
}

// Start begins a test take. Allowed from idle or review (which drops the
// previous take).
func (t *SelfTest) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SelfTestIdle && t.state != SelfTestReview {
		return fmt.Errorf("%w: start from %s", ErrSelfTestState, t.state)
	}
	if err := t.rec.Start(ctx, uuid.Nil); err != nil {
		return err
	}
	t.take = nil
	t.state = SelfTestRecording
	return nil
}

// Stop finishes the take and moves to review.
func (t *SelfTest) Stop(ctx context.Context) (*Recording, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SelfTestRecording {
		return nil, fmt.Errorf("%w: stop from %s", ErrSelfTestState, t.state)
	}
	rec, err := t.rec.Stop(ctx)
	if err != nil {
		t.state = SelfTestIdle
		return nil, err
	}
	t.take = rec
	t.state = SelfTestReview
	return rec, nil
}

// Rerecord drops the take and returns to idle.
func (t *SelfTest) Rerecord() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SelfTestReview {
		return fmt.Errorf("%w: re-record from %s", ErrSelfTestState, t.state)
	}
	t.take = nil
	t.state = SelfTestIdle
	return nil
}

// Accept confirms the microphone works. Only a reviewed take can be accepted.
func (t *SelfTest) Accept() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SelfTestReview || t.take == nil {
		return fmt.Errorf("%w: accept from %s", ErrSelfTestState, t.state)
	}
	t.state = SelfTestAccepted
	return nil
}

// Abort stops a running take without keeping it.
func (t *SelfTest) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == SelfTestRecording {
		t.rec.Close()
		t.state = SelfTestIdle
	}
}

// State returns the current step.
func (t *SelfTest) State() SelfTestState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Accepted reports whether the gate is open.
func (t *SelfTest) Accepted() bool {
	return t.State() == SelfTestAccepted
}

// Take returns the reviewed take for playback, if any.
func (t *SelfTest) Take() *Recording {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.take
}
