package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/notify"
	"github.com/stemsi/exstem-oral/internal/recording"
	"github.com/stemsi/exstem-oral/internal/upload"
)

var (
	ErrCancelled      = errors.New("exam cancelled")
	ErrStopped        = errors.New("exam controller stopped")
	ErrAlreadyStarted = errors.New("exam controller already started")
)

// Recorder captures one answer at a time.
type Recorder interface {
	Start(ctx context.Context, questionID uuid.UUID) error
	Stop(ctx context.Context) (*recording.Recording, error)
	Close()
}

// Uploader persists answers in the background.
type Uploader interface {
	Submit(job upload.Job)
	Wait()
}

// Completer marks a submission as submitted.
type Completer interface {
	Complete(ctx context.Context, submissionID uuid.UUID) error
}

// Options tunes a Controller. Zero values take defaults.
type Options struct {
	Clock           Clock
	TickInterval    time.Duration
	Grace           time.Duration
	DrainTimeout    time.Duration
	CompleteTimeout time.Duration
}

const (
	defaultTickInterval    = time.Second
	defaultGrace           = 500 * time.Millisecond
	defaultDrainTimeout    = 30 * time.Second
	defaultCompleteTimeout = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.Grace < 0 {
		o.Grace = 0
	} else if o.Grace == 0 {
		o.Grace = defaultGrace
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	if o.CompleteTimeout <= 0 {
		o.CompleteTimeout = defaultCompleteTimeout
	}
	return o
}

// Deps are the collaborators of a Controller. Notes and Snapshots may be nil.
type Deps struct {
	Recorder  Recorder
	Library   *recording.Library
	Uploads   Uploader
	Completer Completer
	Notes     *notify.Bus[notify.Notification]
	Snapshots *notify.Bus[Snapshot]
	Log       zerolog.Logger
}

// Controller runs a Machine for one submission. All machine events are
// handled on the Run goroutine; recorder work and finalization run FIFO on a
// single worker so a stop is always requested before the next start.
type Controller struct {
	machine      *Machine
	submissionID uuid.UUID
	deps         Deps
	opts         Options
	log          zerolog.Logger

	events  chan any
	ops     *opQueue
	stopped chan struct{}
	started atomic.Bool

	mu   sync.RWMutex
	last Snapshot
}

type cmdKind int

const (
	cmdNext cmdKind = iota
	cmdPrev
	cmdRetryFinalize
	cmdCancel
)

type command struct {
	kind  cmdKind
	reply chan error
}

type recordingFailed struct{ questionID uuid.UUID }

type answerSaved struct{}

type finalizeResult struct{ err error }

// NewController creates a Controller. m must be idle.
func NewController(m *Machine, submissionID uuid.UUID, deps Deps, opts Options) *Controller {
	c := &Controller{
		machine:      m,
		submissionID: submissionID,
		deps:         deps,
		opts:         opts.withDefaults(),
		log: deps.Log.With().
			Str("component", "exam").
			Str("submission_id", submissionID.String()).
			Logger(),
		events:  make(chan any),
		ops:     newOpQueue(),
		stopped: make(chan struct{}),
	}
	c.last = c.snapshot()
	return c
}

// Run starts the exam and blocks until it is finished or cancelled. It
// returns nil once the submission is completed, ErrCancelled after Cancel,
// or ctx.Err() when ctx ends first. Uploads still in flight are not waited for.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	effects, err := c.machine.Begin()
	if err != nil {
		close(c.stopped)
		return err
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		c.work(context.WithoutCancel(ctx))
	}()

	c.log.Info().Int("questions", len(c.machine.questions)).Msg("Exam started")
	c.apply(effects)
	c.publish()

	result := c.loop(ctx)

	close(c.stopped)
	c.ops.close()
	<-workerDone
	c.deps.Recorder.Close()

	c.log.Info().Str("phase", string(c.machine.Phase())).Msg("Exam controller stopped")
	return result
}

func (c *Controller) loop(ctx context.Context) error {
	ticker := c.opts.Clock.NewTicker(c.opts.TickInterval)
	tickC := ticker.C()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	var reply func()
	for {
		select {
		case <-ctx.Done():
			if effects, err := c.machine.Cancel(); err == nil {
				c.apply(effects)
			}
			c.publish()
			return ctx.Err()

		case <-tickC:
			c.apply(c.machine.Tick())

		case ev := <-c.events:
			reply = c.handle(ev)
		}

		if ticker != nil && !c.machine.Phase().Running() {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
		c.publish()
		if reply != nil {
			reply()
			reply = nil
		}

		switch c.machine.Phase() {
		case PhaseFinished:
			return nil
		case PhaseCancelled:
			return ErrCancelled
		}
	}
}

// handle applies one event. A command's reply is returned so it can be sent
// after the resulting snapshot is published.
func (c *Controller) handle(ev any) func() {
	switch ev := ev.(type) {
	case command:
		var (
			effects []Effect
			err     error
		)
		switch ev.kind {
		case cmdNext:
			effects, err = c.machine.Next()
		case cmdPrev:
			effects, err = c.machine.Prev()
		case cmdRetryFinalize:
			effects, err = c.machine.RetryFinalize()
		case cmdCancel:
			effects, err = c.machine.Cancel()
		}
		c.apply(effects)
		return func() { ev.reply <- err }

	case recordingFailed:
		c.machine.RecordingFailed(ev.questionID)

	case answerSaved:
		// snapshot refresh only

	case finalizeResult:
		if ev.err != nil {
			if err := c.machine.FinalizeFailed(); err != nil {
				c.log.Warn().Err(err).Msg("Unexpected finalize result")
				return nil
			}
			c.log.Error().Err(ev.err).Msg("Failed to complete submission")
			c.notify(notify.Error(notify.CodeFinalizeFailed,
				"Your exam could not be submitted. Your answers are kept; please retry."))
			return nil
		}
		if err := c.machine.FinalizeSucceeded(); err != nil {
			c.log.Warn().Err(err).Msg("Unexpected finalize result")
			return nil
		}
		c.log.Info().Msg("Submission completed")
		c.notify(notify.Info(notify.CodeSubmitted, "Your exam has been submitted."))
	}
	return nil
}

func (c *Controller) apply(effects []Effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case StartRecording:
			c.ops.push(recorderOp{kind: opStart, questionID: e.QuestionID})
		case StopRecording:
			c.ops.push(recorderOp{kind: opStop, questionID: e.QuestionID, discard: e.Discard})
		case Finalize:
			c.ops.push(recorderOp{kind: opFinalize})
		}
	}
}

// Next finishes the current question early.
func (c *Controller) Next(ctx context.Context) error { return c.command(ctx, cmdNext) }

// Prev restarts the previous question.
func (c *Controller) Prev(ctx context.Context) error { return c.command(ctx, cmdPrev) }

// RetryFinalize retries a failed submission completion.
func (c *Controller) RetryFinalize(ctx context.Context) error {
	return c.command(ctx, cmdRetryFinalize)
}

// Cancel abandons the exam.
func (c *Controller) Cancel(ctx context.Context) error { return c.command(ctx, cmdCancel) }

func (c *Controller) command(ctx context.Context, kind cmdKind) error {
	reply := make(chan error, 1)
	select {
	case c.events <- command{kind: kind, reply: reply}:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the last published snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Done is closed when Run has returned from its event loop.
func (c *Controller) Done() <-chan struct{} { return c.stopped }

func (c *Controller) snapshot() Snapshot {
	s := c.machine.Snapshot()
	id := c.submissionID
	s.SubmissionID = &id
	s.Answered = c.deps.Library.Answered()
	return s
}

func (c *Controller) publish() {
	s := c.snapshot()
	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
	if c.deps.Snapshots != nil {
		c.deps.Snapshots.Publish(s)
	}
}

func (c *Controller) notify(n notify.Notification) {
	if c.deps.Notes != nil {
		c.deps.Notes.Publish(n)
	}
}

// post hands an async result back to the event loop.
func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// ─── Worker ──────────────────────────────────────────────────────────────

func (c *Controller) work(ctx context.Context) {
	for {
		op, ok := c.ops.pop()
		if !ok {
			return
		}
		switch op.kind {
		case opStart:
			c.startRecording(ctx, op.questionID)
		case opStop:
			c.stopRecording(ctx, op)
		case opFinalize:
			c.finalize(ctx)
		}
	}
}

func (c *Controller) startRecording(ctx context.Context, questionID uuid.UUID) {
	err := c.deps.Recorder.Start(ctx, questionID)
	if err == nil {
		return
	}

	c.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("Recording did not start")
	code := notify.CodeRecordingFailed
	if errors.Is(err, recording.ErrMicrophoneUnavailable) {
		code = notify.CodeMicrophoneFailed
	}
	c.notify(notify.Warning(code,
		"Recording could not start. The timer continues and this question stays unanswered.", &questionID))
	c.post(recordingFailed{questionID: questionID})
}

func (c *Controller) stopRecording(ctx context.Context, op recorderOp) {
	rec, err := c.deps.Recorder.Stop(ctx)
	if errors.Is(err, recording.ErrNotRecording) {
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("question_id", op.questionID.String()).Msg("Recording could not be saved")
		c.notify(notify.Warning(notify.CodeRecordingFailed,
			"Your answer could not be saved. The test continues.", &op.questionID))
		return
	}
	if op.discard {
		c.log.Debug().Str("question_id", rec.QuestionID.String()).Msg("Unfinished recording discarded")
		return
	}

	c.deps.Library.Put(rec)
	c.deps.Uploads.Submit(upload.Job{SubmissionID: c.submissionID, Recording: rec})
	c.post(answerSaved{})
}

func (c *Controller) finalize(ctx context.Context) {
	<-c.opts.Clock.After(c.opts.Grace)

	drained := make(chan struct{})
	go func() {
		c.deps.Uploads.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-c.opts.Clock.After(c.opts.DrainTimeout):
		c.log.Warn().Msg("Completing submission with uploads still in flight")
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.CompleteTimeout)
	defer cancel()
	c.post(finalizeResult{err: c.deps.Completer.Complete(cctx, c.submissionID)})
}

// ─── Recorder op queue ───────────────────────────────────────────────────

type opKind int

const (
	opStart opKind = iota
	opStop
	opFinalize
)

type recorderOp struct {
	kind       opKind
	questionID uuid.UUID
	discard    bool
}

// opQueue is an unbounded FIFO so the event loop never blocks on the worker.
type opQueue struct {
	mu     sync.Mutex
	items  []recorderOp
	closed bool
	signal chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{signal: make(chan struct{}, 1)}
}

func (q *opQueue) push(op recorderOp) {
	q.mu.Lock()
	q.items = append(q.items, op)
	q.mu.Unlock()
	q.wake()
}

func (q *opQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *opQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until an op is queued. It drains remaining ops after close.
func (q *opQueue) pop() (recorderOp, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			op := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return op, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return recorderOp{}, false
		}
		<-q.signal
	}
}
