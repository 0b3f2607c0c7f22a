package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/livability/internal/metrics"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the batch job worker",
	Long: `Poll the job queue and run pending jobs one at a time until interrupted.

Processing jobs whose heartbeat is older than LIVABILITY_JOB_LEASE are put
back in the queue before each claim. Use --once to process at most one job and exit.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "process at most one pending job and exit")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor, err := app.executor(ctx)
	if err != nil {
		return err
	}
	defer logMetrics()

	if workerOnce {
		if err := executor.ProcessNextJob(ctx); err != nil {
			return fmt.Errorf("process job: %w", err)
		}
		return nil
	}

	logger.Info("worker started", "poll_interval", cfg.PollInterval, "lease", cfg.JobLease, "store", cfg.Store)
	if err := executor.Run(ctx, cfg.PollInterval); err != nil {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

func logMetrics() {
	snap := app.collector.Snapshot()
	for _, op := range snap.Operations {
		logger.Info("operation stats",
			"op", op.Name,
			"count", op.Count,
			"failures", op.Failures,
			"avg_ms", op.AvgTimeMs,
			"max_ms", op.MaxTimeMs,
		)
	}
	if n := len(snap.Counters); n > 0 {
		logger.Info("counters",
			"cache_hit", snap.Counters[metrics.CounterCacheHit],
			"cache_miss", snap.Counters[metrics.CounterCacheMiss],
			"uptime_s", int64(snap.UptimeSeconds),
		)
	}
}
