package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stemsi/exstem-oral/internal/notify"
	"github.com/stemsi/exstem-oral/internal/recording"
	"github.com/stemsi/exstem-oral/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Fakes ───────────────────────────────────────────────────────────────

type fakeTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeClock hands out one manual ticker. After fires immediately.
type fakeClock struct {
	ticker *fakeTicker

	mu     sync.Mutex
	afters []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticker: &fakeTicker{c: make(chan time.Time)}}
}

func (c *fakeClock) Now() time.Time { return time.Now() }

func (c *fakeClock) NewTicker(time.Duration) Ticker { return c.ticker }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.afters = append(c.afters, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// tick delivers one tick and returns once the event loop has taken it.
func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	select {
	case c.ticker.c <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not take the tick")
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	active  *uuid.UUID
	starts  []uuid.UUID
	stops   []uuid.UUID
	failFor map[uuid.UUID]bool
	closed  int
}

func (r *fakeRecorder) Start(_ context.Context, qid uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[qid] {
		return fmt.Errorf("%w: permission denied", recording.ErrMicrophoneUnavailable)
	}
	if r.active != nil {
		return errors.New("two captures at once")
	}
	r.active = &qid
	r.starts = append(r.starts, qid)
	return nil
}

func (r *fakeRecorder) Stop(context.Context) (*recording.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, recording.ErrNotRecording
	}
	qid := *r.active
	r.active = nil
	r.stops = append(r.stops, qid)
	return &recording.Recording{
		QuestionID: qid,
		Data:       []byte("RIFF"),
		MIMEType:   recording.MIMETypeWAV,
		CapturedAt: time.Now(),
	}, nil
}

func (r *fakeRecorder) Close() {
	r.mu.Lock()
	r.closed++
	r.active = nil
	r.mu.Unlock()
}

func (r *fakeRecorder) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts), len(r.stops)
}

type fakeBackend struct {
	mu          sync.Mutex
	uploads     []string
	answers     map[uuid.UUID]string
	completes   int
	uploadErr   error
	completeErr []error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{answers: make(map[uuid.UUID]string)}
}

func (b *fakeBackend) UploadAudio(_ context.Context, filename, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	b.uploads = append(b.uploads, filename)
	return filename, nil
}

func (b *fakeBackend) AppendAnswer(_ context.Context, _, qid uuid.UUID, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers[qid] = ref
	return nil
}

func (b *fakeBackend) Complete(context.Context, uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completes++
	if len(b.completeErr) > 0 {
		err := b.completeErr[0]
		b.completeErr = b.completeErr[1:]
		return err
	}
	return nil
}

func (b *fakeBackend) stats() (uploads, answers, completes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads), len(b.answers), b.completes
}

type harness struct {
	clock    *fakeClock
	rec      *fakeRecorder
	backend  *fakeBackend
	library  *recording.Library
	pipeline *upload.Pipeline
	notes    <-chan notify.Notification
	ctrl     *Controller
	result   chan error
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, questions []model.FlatQuestion, setup func(*harness)) *harness {
	t.Helper()
	h := &harness{
		clock:   newFakeClock(),
		rec:     &fakeRecorder{failFor: map[uuid.UUID]bool{}},
		backend: newFakeBackend(),
		library: recording.NewLibrary("/recordings/"),
		result:  make(chan error, 1),
	}
	if setup != nil {
		setup(h)
	}

	log := zerolog.Nop()
	bus := notify.NewBus[notify.Notification](log)
	notes, unsubscribe := bus.Subscribe(64)
	t.Cleanup(unsubscribe)
	h.notes = notes
	h.pipeline = upload.New(h.backend, h.backend, h.library, bus, log, upload.Options{})

	m, err := NewMachine(questions)
	require.NoError(t, err)
	h.ctrl = NewController(m, uuid.New(), Deps{
		Recorder:  h.rec,
		Library:   h.library,
		Uploads:   h.pipeline,
		Completer: h.backend,
		Notes:     bus,
		Log:       log,
	}, Options{Clock: h.clock})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.result <- h.ctrl.Run(ctx) }()
	return h
}

func (h *harness) ticks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.clock.tick(t)
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		h.pipeline.Wait()
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
		return nil
	}
}

func (h *harness) drainNotes() []notify.Notification {
	var out []notify.Notification
	for {
		select {
		case n := <-h.notes:
			out = append(out, n)
		default:
			return out
		}
	}
}

func (h *harness) phase() Phase { return h.ctrl.Snapshot().Phase }

func count(notes []notify.Notification, code notify.Code) int {
	n := 0
	for _, x := range notes {
		if x.Code == code {
			n++
		}
	}
	return n
}

// ─── Scenarios ───────────────────────────────────────────────────────────

func TestControllerTwoSectionExam(t *testing.T) {
	q1, q2 := flatQuestion(5, 10), flatQuestion(3, 6)
	h := newHarness(t, []model.FlatQuestion{q1, q2}, nil)

	h.ticks(t, 5)
	require.Eventually(t, func() bool { s, _ := h.rec.counts(); return s == 1 }, time.Second, 5*time.Millisecond)
	h.ticks(t, 10)
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Index == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, h.ctrl.Snapshot().Remaining)
	h.ticks(t, 3+6)

	require.NoError(t, h.wait(t))

	starts, stops := h.rec.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
	uploads, answers, completes := h.backend.stats()
	assert.Equal(t, 2, uploads)
	assert.Equal(t, 2, answers)
	assert.Equal(t, 1, completes)

	s := h.ctrl.Snapshot()
	assert.Equal(t, PhaseFinished, s.Phase)
	assert.Equal(t, 24, s.Ticks)
	assert.Equal(t, 2, s.Answered)
	assert.True(t, h.clock.ticker.isStopped())
	assert.Contains(t, h.clock.afters, defaultGrace)

	notes := h.drainNotes()
	assert.Equal(t, 1, count(notes, notify.CodeSubmitted))
	assert.Zero(t, count(notes, notify.CodeUploadFailed))
}

func TestControllerMicrophoneFailureMidExam(t *testing.T) {
	q1, q2 := flatQuestion(5, 10), flatQuestion(3, 6)
	h := newHarness(t, []model.FlatQuestion{q1, q2}, func(h *harness) {
		h.rec.failFor[q2.ID] = true
	})

	h.ticks(t, 15+3)
	require.Eventually(t, func() bool {
		s := h.ctrl.Snapshot()
		return s.Phase == PhaseSpeaking && s.Index == 1 && !s.Recording
	}, time.Second, 5*time.Millisecond)
	s := h.ctrl.Snapshot()
	assert.Equal(t, PhaseSpeaking, s.Phase, "speaking continues without a recording")
	assert.Equal(t, 6, s.Remaining)

	h.ticks(t, 6)
	require.NoError(t, h.wait(t))

	starts, _ := h.rec.counts()
	assert.Equal(t, 1, starts)
	uploads, _, completes := h.backend.stats()
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 1, completes)
	assert.Equal(t, 1, h.ctrl.Snapshot().Answered)

	notes := h.drainNotes()
	require.Equal(t, 1, count(notes, notify.CodeMicrophoneFailed))
	for _, n := range notes {
		if n.Code == notify.CodeMicrophoneFailed {
			assert.Equal(t, notify.SeverityWarning, n.Severity)
			assert.Equal(t, q2.ID, *n.QuestionID)
		}
	}
}

func TestControllerUploadFailureDoesNotTouchTimer(t *testing.T) {
	q1, q2 := flatQuestion(1, 1), flatQuestion(4, 4)
	h := newHarness(t, []model.FlatQuestion{q1, q2}, func(h *harness) {
		h.backend.uploadErr = errors.New("network down")
	})

	h.ticks(t, 2)
	require.Eventually(t, func() bool {
		return h.pipeline.Failures() == 1 && h.ctrl.Snapshot().Index == 1
	}, time.Second, 5*time.Millisecond)

	s := h.ctrl.Snapshot()
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, PhasePreparation, s.Phase)
	assert.Equal(t, 4, s.Remaining)

	h.ticks(t, 8)
	require.NoError(t, h.wait(t))

	notes := h.drainNotes()
	assert.Equal(t, 2, count(notes, notify.CodeUploadFailed), "one warning per failed answer")
	_, _, completes := h.backend.stats()
	assert.Equal(t, 1, completes)

	e, ok := h.library.Get(q1.ID)
	require.True(t, ok)
	assert.NotEmpty(t, e.Recording.Data, "failed upload keeps the local recording")
}

func TestControllerFinalizeFailureAndRetry(t *testing.T) {
	q := flatQuestion(1, 1)
	h := newHarness(t, []model.FlatQuestion{q}, func(h *harness) {
		h.backend.completeErr = []error{errors.New("502 bad gateway")}
	})

	h.ticks(t, 2)
	require.Eventually(t, func() bool { return h.phase() == PhaseFinalizeFailed }, time.Second, 5*time.Millisecond)

	notes := h.drainNotes()
	require.Equal(t, 1, count(notes, notify.CodeFinalizeFailed))

	require.NoError(t, h.ctrl.RetryFinalize(context.Background()))
	require.NoError(t, h.wait(t))
	assert.Equal(t, PhaseFinished, h.phase())
	_, _, completes := h.backend.stats()
	assert.Equal(t, 2, completes)

	assert.ErrorIs(t, h.ctrl.Next(context.Background()), ErrStopped)
}

func TestControllerNavigation(t *testing.T) {
	q1, q2 := flatQuestion(2, 5), flatQuestion(2, 5)
	h := newHarness(t, []model.FlatQuestion{q1, q2}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.ctrl.Prev(ctx), ErrNoPrevious)

	h.ticks(t, 3) // q1 speaking
	require.NoError(t, h.ctrl.Next(ctx))
	s := h.ctrl.Snapshot()
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, 2, s.Remaining)

	h.ticks(t, 2) // q2 speaking
	require.NoError(t, h.ctrl.Prev(ctx))
	s = h.ctrl.Snapshot()
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, PhasePreparation, s.Phase)
	assert.Equal(t, 2, s.Remaining)

	require.NoError(t, h.ctrl.Cancel(ctx))
	assert.ErrorIs(t, h.wait(t), ErrCancelled)

	// q1 kept by Next, q2 discarded by Prev.
	uploads, _, completes := h.backend.stats()
	assert.Equal(t, 1, uploads)
	assert.Zero(t, completes)
	_, ok := h.library.Get(q2.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, h.rec.closed)
}

func TestControllerContextCancelStopsRecording(t *testing.T) {
	q := flatQuestion(1, 30)
	h := newHarness(t, []model.FlatQuestion{q}, nil)

	h.ticks(t, 1)
	require.Eventually(t, func() bool { s, _ := h.rec.counts(); return s == 1 }, time.Second, 5*time.Millisecond)

	h.cancel()
	assert.ErrorIs(t, h.wait(t), context.Canceled)
	assert.Equal(t, PhaseCancelled, h.phase())

	_, stops := h.rec.counts()
	assert.Equal(t, 1, stops)
	uploads, _, _ := h.backend.stats()
	assert.Zero(t, uploads, "a cancelled capture is not an answer")
}
