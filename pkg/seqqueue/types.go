package seqqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout applies when neither the item nor the executor carries a positive deadline.
const DefaultTimeout = 3000 * time.Millisecond

var (
	// ErrInvalidWork is returned by Push when the work function is nil.
	ErrInvalidWork = errors.New("seqqueue: work function must not be nil")

	// ErrTaskPanic wraps a value recovered from a panicking work function.
	ErrTaskPanic = errors.New("seqqueue: work function panicked")
)

// Status is the executor's lifecycle state.
type Status int32

const (
	StatusIdle Status = iota
	StatusBusy
	StatusClosed
	StatusDrained
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusClosed:
		return "closed"
	case StatusDrained:
		return "drained"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// WorkFunc runs one queued item. It is called on the executor's run-loop and must not
// block; long work belongs in a goroutine that calls c.Done when finished.
// A non-nil error (or a panic) counts as a synchronous failure: it is reported through
// EventError and the queue moves on.
type WorkFunc func(c *Completion) error

// Item is one unit of queued work.
type Item struct {
	id        uint64
	name      string
	work      WorkFunc
	onTimeout func()
	timeout   time.Duration

	ctx       context.Context
	span      trace.Span
	err       error
	pushedAt  time.Time
	startedAt time.Time
}

// ID is assigned at dispatch time; zero means the item has not been dispatched.
func (it *Item) ID() uint64 { return it.id }

func (it *Item) Name() string { return it.name }

// Timeout returns the per-item deadline override, zero when unset.
func (it *Item) Timeout() time.Duration { return it.timeout }

func (it *Item) PushedAt() time.Time { return it.pushedAt }

func (it *Item) StartedAt() time.Time { return it.startedAt }

// PushOption configures an item at push time.
type PushOption func(*Item)

// WithTimeout overrides the executor's default deadline for this item.
// Non-positive values are ignored.
func WithTimeout(d time.Duration) PushOption {
	return func(it *Item) {
		if d > 0 {
			it.timeout = d
		}
	}
}

// WithTimeoutCallback sets a callback invoked when the item's watchdog expires.
func WithTimeoutCallback(fn func()) PushOption {
	return func(it *Item) {
		it.onTimeout = fn
	}
}

// WithName labels the item in logs, spans and events.
func WithName(name string) PushOption {
	return func(it *Item) {
		it.name = name
	}
}

// WithContext sets the parent context for the item's span. It is exposed to the work
// function through Completion.Context and is never cancelled by the executor.
func WithContext(ctx context.Context) PushOption {
	return func(it *Item) {
		if ctx != nil {
			it.ctx = ctx
		}
	}
}

// Completion is handed to a work function to signal that its item is done.
type Completion struct {
	executor *Executor
	item     *Item
	id       uint64
}

// Done schedules the advance to the next item. Calls after the item has already been
// advanced past (by an earlier Done, a timeout, or a failure) have no effect.
func (c *Completion) Done() {
	id := c.id
	c.executor.post(func() {
		c.executor.advance(id, outcomeCompleted)
	})
}

// Context returns the item's context, carrying its span.
func (c *Completion) Context() context.Context {
	return c.item.ctx
}

// ItemID returns the id of the item this handle completes.
func (c *Completion) ItemID() uint64 {
	return c.id
}

// TaskError reports a work function that failed synchronously.
type TaskError struct {
	ItemID uint64
	Name   string
	Err    error
}

func (e *TaskError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("task %d (%s) failed: %v", e.ItemID, e.Name, e.Err)
	}
	return fmt.Sprintf("task %d failed: %v", e.ItemID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type outcome string

const (
	outcomeNone      outcome = ""
	outcomeCompleted outcome = "completed"
	outcomeTimeout   outcome = "timeout"
	outcomeError     outcome = "error"
	outcomeDrained   outcome = "drained"
)
