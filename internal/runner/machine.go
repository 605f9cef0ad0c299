// Package runner drives a timed oral exam: a synchronous phase machine that
// decides what happens on every tick or navigation event, and a controller
// that feeds it events and executes the effects it returns.
package runner

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-oral/internal/model"
)

// Phase is the machine's state.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhasePreparation    Phase = "preparation"
	PhaseSpeaking       Phase = "speaking"
	PhaseFinalizing     Phase = "finalizing"
	PhaseFinished       Phase = "finished"
	PhaseFinalizeFailed Phase = "finalize_failed"
	PhaseCancelled      Phase = "cancelled"
)

// Running reports whether the countdown is active in p.
func (p Phase) Running() bool {
	return p == PhasePreparation || p == PhaseSpeaking
}

// Terminal reports whether no further event can change p.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseCancelled
}

var (
	ErrNoQuestions = errors.New("exam has no questions")
	ErrNotRunning  = errors.New("exam is not running")
	ErrNoPrevious  = errors.New("already at the first question")
	ErrWrongPhase  = errors.New("event not allowed in current phase")
)

// Effect is work the machine asks its driver to do.
type Effect interface{ effect() }

// StartRecording asks for a capture of the current question's answer.
type StartRecording struct {
	QuestionID uuid.UUID
}

// StopRecording ends the active capture. A discarded capture is not kept as
// the answer.
type StopRecording struct {
	QuestionID uuid.UUID
	Discard    bool
}

// Finalize asks for the submission to be completed.
type Finalize struct{}

func (StartRecording) effect() {}
func (StopRecording) effect()  {}
func (Finalize) effect()       {}

// Snapshot is a read-only view of the machine.
type Snapshot struct {
	Phase     Phase               `json:"phase"`
	Index     int                 `json:"index"`
	Total     int                 `json:"total"`
	Remaining int                 `json:"remaining"`
	Duration  int                 `json:"duration"`
	Recording bool                `json:"recording"`
	Ticks     int                 `json:"ticks"`
	Question  *model.FlatQuestion `json:"question,omitempty"`

	SubmissionID *uuid.UUID `json:"submission_id,omitempty"`
	Answered     int        `json:"answered"`
}

// Machine is the per-question preparation/speaking countdown. It owns the
// question list and the current index; every event reads them at the moment
// it is handled. It is not safe for concurrent use.
type Machine struct {
	questions []model.FlatQuestion

	phase     Phase
	index     int
	remaining int
	duration  int
	recording bool
	ticks     int
}

// NewMachine creates an idle machine over questions.
func NewMachine(questions []model.FlatQuestion) (*Machine, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return &Machine{questions: questions, phase: PhaseIdle}, nil
}

// Begin starts the first question's preparation.
func (m *Machine) Begin() ([]Effect, error) {
	if m.phase != PhaseIdle {
		return nil, fmt.Errorf("%w: begin from %s", ErrWrongPhase, m.phase)
	}
	m.prepare(0)
	return nil, nil
}

// Tick advances the countdown by one second. The tick that brings the
// countdown to zero, or finds it already there, fires the phase transition.
func (m *Machine) Tick() []Effect {
	if !m.phase.Running() {
		return nil
	}
	m.ticks++
	if m.remaining > 0 {
		m.remaining--
	}
	if m.remaining > 0 {
		return nil
	}

	if m.phase == PhasePreparation {
		q := m.questions[m.index]
		m.phase = PhaseSpeaking
		m.duration = q.SpeakingSeconds()
		m.remaining = m.duration
		m.recording = true
		return []Effect{StartRecording{QuestionID: q.ID}}
	}
	return m.advance(false)
}

// Next ends the current question early, keeping any recording, and moves on.
// On the last question it finalizes the exam.
func (m *Machine) Next() ([]Effect, error) {
	if !m.phase.Running() {
		return nil, ErrNotRunning
	}
	return m.advance(false), nil
}

// Prev abandons the current question, discarding an unfinished recording,
// and restarts the previous question from its preparation phase.
func (m *Machine) Prev() ([]Effect, error) {
	if !m.phase.Running() {
		return nil, ErrNotRunning
	}
	if m.index == 0 {
		return nil, ErrNoPrevious
	}
	effects := m.stop(true)
	m.prepare(m.index - 1)
	return effects, nil
}

// RecordingFailed marks the capture for questionID as gone. The countdown is
// unaffected. It reports whether the current question's recording was active.
func (m *Machine) RecordingFailed(questionID uuid.UUID) bool {
	if !m.recording || m.phase != PhaseSpeaking || m.questions[m.index].ID != questionID {
		return false
	}
	m.recording = false
	return true
}

// FinalizeSucceeded ends the exam.
func (m *Machine) FinalizeSucceeded() error {
	if m.phase != PhaseFinalizing {
		return fmt.Errorf("%w: finalize succeeded in %s", ErrWrongPhase, m.phase)
	}
	m.phase = PhaseFinished
	return nil
}

// FinalizeFailed parks the exam until RetryFinalize.
func (m *Machine) FinalizeFailed() error {
	if m.phase != PhaseFinalizing {
		return fmt.Errorf("%w: finalize failed in %s", ErrWrongPhase, m.phase)
	}
	m.phase = PhaseFinalizeFailed
	return nil
}

// RetryFinalize asks for completion again after a failure.
func (m *Machine) RetryFinalize() ([]Effect, error) {
	if m.phase != PhaseFinalizeFailed {
		return nil, fmt.Errorf("%w: retry from %s", ErrWrongPhase, m.phase)
	}
	m.phase = PhaseFinalizing
	return []Effect{Finalize{}}, nil
}

// Cancel abandons the exam. A running recording is discarded.
func (m *Machine) Cancel() ([]Effect, error) {
	switch m.phase {
	case PhaseFinalizing, PhaseFinished, PhaseCancelled:
		return nil, fmt.Errorf("%w: cancel from %s", ErrWrongPhase, m.phase)
	}
	effects := m.stop(true)
	m.phase = PhaseCancelled
	m.remaining = 0
	return effects, nil
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Snapshot returns the current view.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		Phase:     m.phase,
		Index:     m.index,
		Total:     len(m.questions),
		Remaining: m.remaining,
		Duration:  m.duration,
		Recording: m.recording,
		Ticks:     m.ticks,
	}
	if m.index < len(m.questions) && m.phase != PhaseIdle {
		q := m.questions[m.index]
		s.Question = &q
	}
	return s
}

func (m *Machine) prepare(index int) {
	m.index = index
	m.phase = PhasePreparation
	m.duration = m.questions[index].PreparationSeconds()
	m.remaining = m.duration
	m.recording = false
}

func (m *Machine) advance(discard bool) []Effect {
	effects := m.stop(discard)
	if m.index+1 >= len(m.questions) {
		m.index = len(m.questions)
		m.phase = PhaseFinalizing
		m.remaining, m.duration = 0, 0
		return append(effects, Finalize{})
	}
	m.prepare(m.index + 1)
	return effects
}

func (m *Machine) stop(discard bool) []Effect {
	if !m.recording {
		return nil
	}
	m.recording = false
	return []Effect{StopRecording{QuestionID: m.questions[m.index].ID, Discard: discard}}
}
