package runloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrLoopStopped is returned when work is posted to a loop that has been stopped.
var ErrLoopStopped = errors.New("runloop: loop is stopped")

// Task is a continuation executed on the loop goroutine.
type Task func()

// Loop runs posted tasks one at a time on a single goroutine.
//
// Post never executes the task inline, so a task posted from inside another task
// runs only after the current one returns. Tasks run in post order; timer callbacks
// are posted when their deadline elapses and interleave with other tasks by that
// post time only.
type Loop struct {
	mu      sync.Mutex
	pending []Task
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
}

// New creates a loop. Call Start to begin processing.
func New() *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		pending: make([]Task, 0, 16),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling Start more than once has no effect.
func (l *Loop) Start() {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run()
}

// Post schedules task to run on the loop goroutine after the current call stack unwinds.
func (l *Loop) Post(task Task) error {
	if task == nil {
		return nil
	}
	if l.ctx.Err() != nil {
		return ErrLoopStopped
	}

	l.mu.Lock()
	l.pending = append(l.pending, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// AfterFunc arms a timer that posts fn to the loop once d has elapsed.
// The returned Timer can be stopped from any goroutine.
func (l *Loop) AfterFunc(d time.Duration, fn Task) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		if err := l.Post(func() {
			if t.fired.CompareAndSwap(false, true) {
				fn()
			}
		}); err != nil {
			log.Debug().Err(err).Msg("Timer fired after loop stopped")
		}
	})
	return t
}

// Stop signals the loop to exit after the task currently running, if any.
// Tasks still pending are dropped. Stop does not wait; use Done for that.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		if !l.started.Load() {
			close(l.done)
		}
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Len returns the number of tasks waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Loop) run() {
	defer close(l.done)

	var batch []Task
	for {
		l.mu.Lock()
		batch, l.pending = l.pending, batch[:0]
		l.mu.Unlock()

		for i, task := range batch {
			if l.ctx.Err() != nil {
				return
			}
			task()
			batch[i] = nil
		}

		l.mu.Lock()
		empty := len(l.pending) == 0
		l.mu.Unlock()
		if !empty {
			continue
		}

		select {
		case <-l.ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Timer is a cancellable deadline whose callback runs on the loop goroutine.
type Timer struct {
	timer *time.Timer
	fired atomic.Bool
}

// Stop prevents the callback from running. It reports whether it did so; false means
// the callback already ran or the timer was already stopped. Safe on a nil Timer.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.timer.Stop()
	return t.fired.CompareAndSwap(false, true)
}
