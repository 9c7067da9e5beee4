package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/harun/seqqueue/internal/config"
	"github.com/harun/seqqueue/internal/jobs"
	"github.com/harun/seqqueue/internal/logger"
	"github.com/harun/seqqueue/internal/observability"
	"github.com/harun/seqqueue/internal/tracing"
	"github.com/harun/seqqueue/pkg/seqqueue"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the jobs file through a sequential executor",
	Long: `Run every job in the jobs file, one at a time. Jobs without a schedule are
queued once, in file order; scheduled jobs are queued on every cron tick.

Without scheduled jobs the command exits once the queue has drained. Otherwise it
runs until interrupted: the first interrupt stops accepting jobs and lets the queue
finish, a second one discards whatever is left.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("jobs", "", "jobs file (overrides jobs_file from config)")
	runCmd.Flags().Bool("watch-config", false, "reload the default timeout when the config file changes")
	rootCmd.AddCommand(runCmd)
}

// jobExitGrace bounds the wait for job processes once the queue has finished.
const jobExitGrace = 10 * time.Second

// runSummary counts job results for the final report.
type runSummary struct {
	mu       sync.Mutex
	ok       int
	failed   int
	timedOut int
}

func (s *runSummary) add(res jobs.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case res.TimedOut:
		s.timedOut++
	case res.Err != nil:
		s.failed++
	default:
		s.ok++
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	jobsPath, _ := cmd.Flags().GetString("jobs")
	if jobsPath == "" {
		jobsPath = cfg.JobsFile
	}
	if jobsPath == "" {
		return fmt.Errorf("no jobs file: set jobs_file in the config or pass --jobs")
	}
	jobFile, err := jobs.LoadFile(jobsPath)
	if err != nil {
		return err
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.Pretty = cfg.Logging.Pretty
	logCfg.Out = cmd.ErrOrStderr()
	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer log.Close()

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
				log.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
	}

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics.Addr, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer observability.CloseAuditLogger()
	}

	queue := seqqueue.New(
		seqqueue.WithQueueName(cfg.Queue.Name),
		seqqueue.WithDefaultTimeout(cfg.DefaultTimeout()),
		seqqueue.WithLogger(log.GetZerolog()),
	)
	queue.On(seqqueue.EventClosed, func(seqqueue.Event) {
		log.Info().Msg("No longer accepting jobs, finishing the queue")
		observability.RecordQueueAudit(context.Background(), queue.Name(), "closed", nil)
	})
	queue.On(seqqueue.EventDrained, func(seqqueue.Event) {
		log.Warn().Msg("Queue drained, remaining jobs discarded")
		observability.RecordQueueAudit(context.Background(), queue.Name(), "drained", nil)
	})

	if watch, _ := cmd.Flags().GetBool("watch-config"); watch {
		watcher, err := config.NewWatcher(config.NewLoader(cfgFile), 0, func(newCfg *config.Config) {
			queue.SetDefaultTimeout(newCfg.DefaultTimeout())
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	summary := &runSummary{}
	runner := jobs.NewRunner(queue, log.GetZerolog(), func(res jobs.Result) {
		summary.add(res)
		auditResult(queue.Name(), res)
	})

	started := time.Now()
	if err := runner.Start(jobFile.Jobs); err != nil {
		queue.Close(true)
		return err
	}

	scheduled := false
	for _, job := range jobFile.Jobs {
		if job.Schedule != "" {
			scheduled = true
			break
		}
	}
	if !scheduled {
		queue.Close(false)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctxDone := cmd.Context().Done()
	interrupts := 0
	for done := false; !done; {
		select {
		case <-queue.Finished():
			done = true
		case <-ctxDone:
			ctxDone = nil
			queue.Close(true)
		case sig := <-sigCh:
			interrupts++
			log.Info().Str("signal", sig.String()).Msg("Signal received")
			<-runner.Stop().Done()
			if interrupts == 1 {
				queue.Close(false)
			} else {
				queue.Close(true)
			}
		}
	}
	<-runner.Stop().Done()

	if !runner.WaitTimeout(jobExitGrace) {
		log.Warn().Int("running", runner.Running()).Msg("Jobs still running at exit")
	}

	summary.mu.Lock()
	defer summary.mu.Unlock()
	summaryColor := color.New(color.FgGreen, color.Bold)
	if summary.failed > 0 || summary.timedOut > 0 {
		summaryColor = color.New(color.FgRed, color.Bold)
	}
	summaryColor.Fprintf(cmd.OutOrStdout(), "Ran %d jobs in %s: %d ok, %d failed, %d timed out\n",
		queue.CurrentID(), formatDuration(time.Since(started)), summary.ok, summary.failed, summary.timedOut)

	if summary.failed > 0 || summary.timedOut > 0 {
		return errors.New("some jobs did not succeed")
	}
	return nil
}

func auditResult(queue string, res jobs.Result) {
	status := "ok"
	switch {
	case res.TimedOut:
		status = "timeout"
	case res.Err != nil:
		status = "failed"
	}

	metadata := map[string]interface{}{
		"run_id":      res.RunID,
		"item_id":     res.ItemID,
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		metadata["error"] = res.Err.Error()
	}
	observability.RecordJobAudit(context.Background(), queue, res.Job, status, metadata)
}

func startMetricsServer(addr string, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d.Seconds()

	if h > 0 {
		return fmt.Sprintf("%dh%dm%.0fs", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%.0fs", m, s)
	}
	return fmt.Sprintf("%.3fs", s)
}
