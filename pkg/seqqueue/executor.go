package seqqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/seqqueue/internal/observability"
	"github.com/harun/seqqueue/internal/tracing"
	"github.com/harun/seqqueue/pkg/runloop"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Executor runs pushed items one at a time in FIFO order.
type Executor struct {
	name     string
	logger   zerolog.Logger
	loop     *runloop.Loop
	ownsLoop bool

	mu             sync.Mutex
	status         Status
	currentID      uint64
	queue          []*Item
	active         *Item
	watchdog       *runloop.Timer
	defaultTimeout time.Duration

	finished     chan struct{}
	finishedOnce sync.Once

	eventHandlers map[EventType][]Handler
	subscribers   map[int]chan Event
	nextSubID     int
	eventMu       sync.RWMutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultTimeout sets the deadline for items pushed without their own.
// Non-positive values fall back to DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.defaultTimeout = normalizeTimeout(d)
	}
}

// WithQueueName names the executor in logs, metrics and spans.
func WithQueueName(name string) Option {
	return func(e *Executor) {
		if name != "" {
			e.name = name
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithLoop runs the executor on a caller-owned loop. The caller starts and stops it.
func WithLoop(loop *runloop.Loop) Option {
	return func(e *Executor) {
		if loop != nil {
			e.loop = loop
		}
	}
}

// New creates an idle executor.
func New(opts ...Option) *Executor {
	observability.EnsureRegistered()

	e := &Executor{
		name:           "default",
		logger:         log.Logger,
		status:         StatusIdle,
		queue:          make([]*Item, 0),
		defaultTimeout: DefaultTimeout,
		finished:       make(chan struct{}),
		eventHandlers:  make(map[EventType][]Handler),
		subscribers:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With().Str("component", "seqqueue").Str("queue", e.name).Logger()

	if e.loop == nil {
		e.loop = runloop.New()
		e.ownsLoop = true
		e.loop.Start()
	}

	e.logger.Debug().Dur("defaultTimeout", e.defaultTimeout).Msg("Executor created")
	return e
}

// Push appends an item to the queue. It returns false, without side effects, once the
// executor is closed or drained, and ErrInvalidWork when work is nil.
func (e *Executor) Push(work WorkFunc, opts ...PushOption) (bool, error) {
	e.mu.Lock()
	if e.status != StatusIdle && e.status != StatusBusy {
		status, queueSize := e.status, len(e.queue)
		e.mu.Unlock()

		observability.RecordPush(e.name, false, queueSize)
		e.logger.Debug().Str("status", status.String()).Msg("Push rejected")
		return false, nil
	}

	if work == nil {
		e.mu.Unlock()
		return false, ErrInvalidWork
	}

	item := &Item{
		work:     work,
		ctx:      context.Background(),
		pushedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(item)
	}

	e.queue = append(e.queue, item)
	queueSize := len(e.queue)

	start := e.status == StatusIdle
	token := e.currentID
	if start {
		e.status = StatusBusy
	}
	e.mu.Unlock()

	observability.RecordPush(e.name, true, queueSize)
	e.logger.Debug().
		Str("name", item.name).
		Int("queueSize", queueSize).
		Msg("Item pushed")

	if start {
		e.post(func() {
			e.advance(token, outcomeNone)
		})
	}
	return true, nil
}

// PushTimeout is Push with an optional timeout callback and deadline override.
func (e *Executor) PushTimeout(work WorkFunc, onTimeout func(), timeout time.Duration) (bool, error) {
	return e.Push(work, WithTimeoutCallback(onTimeout), WithTimeout(timeout))
}

// Close stops the executor from accepting work.
//
// With force, the executor becomes drained at once: the watchdog is cancelled, queued
// items are discarded and EventDrained is emitted. A work function already running is not
// interrupted; an item dispatched but not yet started is not run.
//
// A forced close is also accepted after a soft close, so a closed executor that is still
// working through its queue can be cut short. Calling Close(false) on a closed or drained
// executor, or Close(true) on a drained one, does nothing.
//
// Without force, the executor becomes closed and emits EventClosed before returning;
// queued items still run. Once the last one is advanced past, EventFinished is emitted
// and Finished is closed. The status stays StatusClosed.
func (e *Executor) Close(force bool) {
	e.mu.Lock()
	if force {
		e.drain()
		return
	}

	if e.status != StatusIdle && e.status != StatusBusy {
		e.mu.Unlock()
		return
	}

	wasIdle := e.status == StatusIdle
	e.status = StatusClosed
	queueSize := len(e.queue)
	e.mu.Unlock()

	e.logger.Info().Int("queueSize", queueSize).Msg("Executor closed")
	e.emit(Event{Type: EventClosed})

	if wasIdle {
		e.markFinished(true)
	}
}

// drain performs the forced close. Called with e.mu held; releases it.
func (e *Executor) drain() {
	if e.status == StatusDrained {
		e.mu.Unlock()
		return
	}

	e.status = StatusDrained
	e.watchdog.Stop()
	e.watchdog = nil

	discarded := len(e.queue)
	e.queue = nil
	active := e.active
	e.active = nil
	e.mu.Unlock()

	e.finish(active, outcomeDrained)
	observability.RecordDiscarded(e.name, discarded)

	e.logger.Info().Int("discarded", discarded).Msg("Executor drained")
	e.emit(Event{Type: EventDrained})
	e.markFinished(false)
}

// advance moves past the active item and dispatches the next one. It only acts when
// token matches the current generation, so each dispatched item is advanced past once.
func (e *Executor) advance(token uint64, reason outcome) {
	e.mu.Lock()
	if token != e.currentID || (e.status != StatusBusy && e.status != StatusClosed) {
		status := e.status
		e.mu.Unlock()

		e.logger.Debug().
			Uint64("token", token).
			Str("status", status.String()).
			Msg("Ignoring stale advance")
		return
	}

	e.watchdog.Stop()
	e.watchdog = nil

	prev := e.active
	e.active = nil

	if len(e.queue) == 0 {
		done := e.status == StatusClosed
		if e.status == StatusBusy {
			e.status = StatusIdle
		}
		e.mu.Unlock()

		e.finish(prev, reason)
		if done {
			e.markFinished(true)
		}
		return
	}

	next := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]

	e.currentID++
	next.id = e.currentID
	next.startedAt = time.Now()
	next.ctx, next.span = tracing.StartSpan(
		tracing.WithQueue(next.ctx, e.name),
		"seqqueue.task",
		attribute.String("queue", e.name),
		attribute.Int64("item_id", int64(next.id)),
		attribute.String("item_name", next.name),
	)

	timeout := e.effectiveTimeout(next)
	e.watchdog = e.loop.AfterFunc(timeout, func() {
		e.expire(next)
	})
	e.active = next
	queueSize := len(e.queue)
	e.mu.Unlock()

	e.finish(prev, reason)

	observability.RecordDispatch(e.name, next.id, queueSize)
	e.logger.Debug().
		Uint64("id", next.id).
		Str("name", next.name).
		Dur("timeout", timeout).
		Int("queueSize", queueSize).
		Msg("Item dispatched")

	e.invoke(next)
}

// invoke runs the work function and turns a synchronous failure into EventError.
// A forced close between dispatch and invoke leaves the item unrun.
func (e *Executor) invoke(item *Item) {
	e.mu.Lock()
	live := e.active == item && e.status != StatusDrained
	e.mu.Unlock()
	if !live {
		e.logger.Debug().
			Uint64("id", item.id).
			Str("name", item.name).
			Msg("Executor drained before item started")
		return
	}

	err := e.call(item)
	if err == nil {
		return
	}

	taskErr := &TaskError{ItemID: item.id, Name: item.name, Err: err}

	e.mu.Lock()
	item.err = taskErr
	e.mu.Unlock()

	e.logger.Error().
		Uint64("id", item.id).
		Str("name", item.name).
		Err(err).
		Msg("Task failed")

	e.emit(Event{Type: EventError, Item: item, Err: taskErr})

	id := item.id
	e.post(func() {
		e.advance(id, outcomeError)
	})
}

func (e *Executor) call(item *Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return item.work(&Completion{executor: e, item: item, id: item.id})
}

// expire handles a watchdog deadline. The notifications are not gated by the generation
// token; only the posted advance is.
func (e *Executor) expire(item *Item) {
	id := item.id
	e.post(func() {
		e.advance(id, outcomeTimeout)
	})

	e.logger.Warn().
		Uint64("id", id).
		Str("name", item.name).
		Dur("elapsed", time.Since(item.startedAt)).
		Msg("Task timed out")

	e.emit(Event{Type: EventTimeout, Item: item})

	if item.onTimeout != nil {
		e.runTimeoutCallback(item)
	}
}

func (e *Executor) runTimeoutCallback(item *Item) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Uint64("id", item.id).
				Interface("panic", r).
				Msg("Timeout callback panicked")
		}
	}()
	item.onTimeout()
}

// finish records the end of an item that has been advanced past.
func (e *Executor) finish(item *Item, reason outcome) {
	if item == nil {
		return
	}
	if reason == outcomeNone {
		reason = outcomeCompleted
	}

	duration := time.Since(item.startedAt)
	observability.RecordOutcome(e.name, string(reason), duration)

	if item.span != nil {
		switch reason {
		case outcomeError:
			e.mu.Lock()
			err := item.err
			e.mu.Unlock()
			if err != nil {
				item.span.RecordError(err)
			}
			item.span.SetStatus(codes.Error, "task failed")
		case outcomeTimeout:
			item.span.SetStatus(codes.Error, "task timed out")
		case outcomeDrained:
			item.span.SetStatus(codes.Error, "executor drained")
		}
		item.span.SetAttributes(attribute.String("outcome", string(reason)))
		item.span.End()
	}

	e.logger.Debug().
		Uint64("id", item.id).
		Str("name", item.name).
		Str("outcome", string(reason)).
		Dur("duration", duration).
		Msg("Item advanced")
}

// markFinished closes Finished once and releases an owned loop.
func (e *Executor) markFinished(notify bool) {
	e.finishedOnce.Do(func() {
		close(e.finished)
		if notify {
			e.logger.Info().Msg("Executor finished")
			e.emit(Event{Type: EventFinished})
		}
		if e.ownsLoop {
			e.loop.Stop()
		}
	})
}

func (e *Executor) post(task runloop.Task) {
	if err := e.loop.Post(task); err != nil {
		e.logger.Debug().Err(err).Msg("Continuation dropped")
	}
}

func (e *Executor) effectiveTimeout(item *Item) time.Duration {
	if item.timeout > 0 {
		return item.timeout
	}
	return normalizeTimeout(e.defaultTimeout)
}

func normalizeTimeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return DefaultTimeout
}

// SetDefaultTimeout changes the deadline for items dispatched from now on.
func (e *Executor) SetDefaultTimeout(d time.Duration) {
	d = normalizeTimeout(d)

	e.mu.Lock()
	old := e.defaultTimeout
	e.defaultTimeout = d
	e.mu.Unlock()

	e.logger.Info().Dur("old", old).Dur("new", d).Msg("Default timeout updated")
}

func (e *Executor) DefaultTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defaultTimeout
}

func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// CurrentID returns the id of the most recently dispatched item.
func (e *Executor) CurrentID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentID
}

// Len returns the number of items waiting to be dispatched.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Executor) Name() string {
	return e.name
}

// Finished is closed when the executor has nothing left to run: after a soft close once
// the queue empties, or after a forced close.
func (e *Executor) Finished() <-chan struct{} {
	return e.finished
}
