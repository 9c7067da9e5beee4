package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/harun/seqqueue/internal/tracing"
	"github.com/harun/seqqueue/pkg/seqqueue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Result describes one finished job run.
type Result struct {
	Job      string
	RunID    string
	ItemID   uint64
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Err      error
}

// ResultHandler is called once per run after the process exits.
type ResultHandler func(Result)

// Runner pushes jobs onto an executor, once or on a cron schedule.
type Runner struct {
	executor *seqqueue.Executor
	cron     *cron.Cron
	logger   zerolog.Logger
	onResult ResultHandler

	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[uint64]context.CancelFunc
	killed  bool
}

// NewRunner creates a runner feeding executor. When executor is drained every job
// process still running is killed.
func NewRunner(executor *seqqueue.Executor, logger zerolog.Logger, onResult ResultHandler) *Runner {
	r := &Runner{
		executor: executor,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "jobs").Logger(),
		onResult: onResult,
		running:  make(map[uint64]context.CancelFunc),
	}
	executor.On(seqqueue.EventDrained, func(seqqueue.Event) {
		if n := r.Kill(); n > 0 {
			r.logger.Warn().Int("killed", n).Msg("Queue drained, running jobs killed")
		}
	})
	return r
}

// Start pushes unscheduled jobs in file order and registers scheduled ones with cron.
func (r *Runner) Start(jobs []Job) error {
	for _, job := range jobs {
		job := job
		if job.Schedule == "" {
			if _, err := r.Push(job); err != nil {
				return err
			}
			continue
		}

		if _, err := r.cron.AddFunc(job.Schedule, func() {
			if _, err := r.Push(job); err != nil {
				r.logger.Error().Err(err).Str("job", job.Name).Msg("Scheduled push failed")
			}
		}); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		r.logger.Info().Str("job", job.Name).Str("schedule", job.Schedule).Msg("Job scheduled")
	}

	r.cron.Start()
	return nil
}

// Stop halts the cron scheduler. The returned context is done once running cron
// callbacks have returned.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

// Wait blocks until every started process has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// WaitTimeout is Wait bounded by d. It reports whether every process exited in time.
func (r *Runner) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Kill cancels every running job, terminating its process, and makes jobs started
// afterwards exit at once. It returns the number of processes signalled.
func (r *Runner) Kill() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = true
	for _, cancel := range r.running {
		cancel()
	}
	return len(r.running)
}

// Running returns the number of job processes that have not exited yet.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

func (r *Runner) track(id uint64, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[id] = cancel
	if r.killed {
		cancel()
	}
}

func (r *Runner) untrack(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}

// Push enqueues one run of job. It reports false when the executor no longer accepts work.
func (r *Runner) Push(job Job) (bool, error) {
	ctx := tracing.NewRunContext(context.Background())
	runCtx, cancel := context.WithCancel(ctx)

	var timedOut sync.Once
	var didTimeout bool
	var mu sync.Mutex

	onTimeout := func() {
		timedOut.Do(func() {
			mu.Lock()
			didTimeout = true
			mu.Unlock()
			cancel()
		})
	}

	work := func(c *seqqueue.Completion) error {
		logger := tracing.LoggerFromContext(c.Context(), r.logger).With().
			Str("job", job.Name).
			Uint64("item", c.ItemID()).
			Logger()

		cmd := exec.CommandContext(runCtx, job.Command[0], job.Command[1:]...)
		cmd.Dir = job.Dir
		if len(job.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range job.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}

		start := time.Now()
		if err := cmd.Start(); err != nil {
			cancel()
			r.report(Result{Job: job.Name, RunID: tracing.GetRunID(ctx), ItemID: c.ItemID(), ExitCode: -1, Err: err})
			return fmt.Errorf("failed to start %s: %w", job.Name, err)
		}
		logger.Debug().Int("pid", cmd.Process.Pid).Msg("Job started")

		id := c.ItemID()
		r.track(id, cancel)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			err := cmd.Wait()
			cancel()
			r.untrack(id)

			mu.Lock()
			res := Result{
				Job:      job.Name,
				RunID:    tracing.GetRunID(ctx),
				ItemID:   c.ItemID(),
				ExitCode: exitCode(err),
				TimedOut: didTimeout,
				Duration: time.Since(start),
				Err:      err,
			}
			mu.Unlock()

			if err != nil {
				logger.Warn().Err(err).Int("exitCode", res.ExitCode).Bool("timedOut", res.TimedOut).Msg("Job exited with error")
			} else {
				logger.Info().Dur("duration", res.Duration).Msg("Job completed")
			}
			r.report(res)
			c.Done()
		}()
		return nil
	}

	ok, err := r.executor.Push(work,
		seqqueue.WithName(job.Name),
		seqqueue.WithTimeout(job.Timeout()),
		seqqueue.WithTimeoutCallback(onTimeout),
		seqqueue.WithContext(ctx),
	)
	if err != nil || !ok {
		cancel()
	}
	if !ok && err == nil {
		r.logger.Debug().Str("job", job.Name).Msg("Executor closed, job not queued")
	}
	return ok, err
}

func (r *Runner) report(res Result) {
	if r.onResult != nil {
		r.onResult(res)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
