package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/livability/internal/events"
	"github.com/raphaelgruber/livability/internal/models"
	"github.com/raphaelgruber/livability/internal/service"
)

var (
	listStatus   string
	listType     string
	listSearch   string
	listSort     string
	listPage     int
	listPageSize int

	enqueueWatch bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage batch jobs",
	Long: `List, inspect and control batch jobs.

Examples:
  livability jobs list --status failed
  livability jobs enqueue CityIngestion Utrecht --watch
  livability jobs show 2b7c0b6e-...
  livability jobs retry 2b7c0b6e-...`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job including its execution log",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <type> <target>",
	Short: "Queue a new job",
	Long: `Queue a new job. Types: CityIngestion, AllCitiesIngestion, MapGeneration.

For AllCitiesIngestion the target is a free-form label, e.g. "netherlands".`,
	Args: cobra.ExactArgs(2),
	RunE: runJobsEnqueue,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Move a failed job back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionJob(cmd, args[0], (*service.BatchJobService).Retry, "requeued")
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionJob(cmd, args[0], (*service.BatchJobService).Cancel, "cancelled")
	},
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsWatch,
}

func init() {
	jobsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, processing, completed, failed)")
	jobsListCmd.Flags().StringVar(&listType, "type", "", "filter by job type")
	jobsListCmd.Flags().StringVarP(&listSearch, "search", "s", "", "filter by target substring")
	jobsListCmd.Flags().StringVar(&listSort, "sort", models.SortCreatedAtDesc, "sort order, e.g. createdAt_desc, status_asc, target_asc")
	jobsListCmd.Flags().IntVarP(&listPage, "page", "p", 1, "page number")
	jobsListCmd.Flags().IntVar(&listPageSize, "page-size", models.DefaultPageSize, "jobs per page (max 100)")

	jobsEnqueueCmd.Flags().BoolVarP(&enqueueWatch, "watch", "w", false, "follow the job until it finishes")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsEnqueueCmd, jobsRetryCmd, jobsCancelCmd, jobsWatchCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	q := models.JobQuery{
		Page:     listPage,
		PageSize: listPageSize,
		Search:   listSearch,
		Sort:     listSort,
	}
	if listStatus != "" {
		st, err := models.ParseJobStatus(listStatus)
		if err != nil {
			return err
		}
		q.Status = &st
	}
	if listType != "" {
		jt, err := models.ParseJobType(listType)
		if err != nil {
			return err
		}
		q.Type = &jt
	}

	jobs, err := app.jobService(ctx)
	if err != nil {
		return err
	}
	page, err := jobs.List(ctx, q)
	if err != nil {
		return err
	}

	printJobPage(cmd.OutOrStdout(), page)
	return nil
}

func printJobPage(w io.Writer, page models.JobPage) {
	if len(page.Items) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	fmt.Fprintf(w, "%-36s %-18s %-11s %5s  %-20s %s\n", "ID", "TYPE", "STATUS", "PROG", "CREATED", "TARGET")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------------------------")
	for _, job := range page.Items {
		fmt.Fprintf(w, "%-36s %-18s %-11s %4d%%  %-20s %s\n",
			job.ID, job.Type, job.Status, job.Progress, job.CreatedAt.Local().Format("2006-01-02 15:04:05"), job.Target)
	}
	fmt.Fprintf(w, "\nPage %d of %d (%d jobs)\n", page.Page, page.TotalPages(), page.TotalCount)
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	jobs, err := app.jobService(ctx)
	if err != nil {
		return err
	}
	job, err := jobs.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("job not found: %s", args[0])
		}
		return err
	}

	printJob(cmd.OutOrStdout(), job)
	return nil
}

func printJob(w io.Writer, job *models.BatchJobRecord) {
	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "  Type: %s\n", job.Type)
	fmt.Fprintf(w, "  Target: %s\n", job.Target)
	fmt.Fprintf(w, "  Status: %s\n", job.Status)
	fmt.Fprintf(w, "  Progress: %d%%\n", job.Progress)
	fmt.Fprintf(w, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Fprintf(w, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Fprintf(w, "  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second))
		}
	}
	if job.Error != nil && *job.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", *job.Error)
	}
	if job.ResultSummary != nil {
		fmt.Fprintf(w, "  Result: %s\n", *job.ResultSummary)
	}
	if job.ExecutionLog != nil && *job.ExecutionLog != "" {
		fmt.Fprintf(w, "\nExecution log:\n%s", *job.ExecutionLog)
		if (*job.ExecutionLog)[len(*job.ExecutionLog)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func runJobsEnqueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	jobType, err := models.ParseJobType(args[0])
	if err != nil {
		return err
	}

	jobs, err := app.jobService(ctx)
	if err != nil {
		return err
	}
	job, err := jobs.Enqueue(ctx, jobType, args[1])
	if err != nil {
		return err
	}

	if !enqueueWatch {
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s for %q\n", job.Type, job.ID, job.Target)
		fmt.Fprintln(cmd.OutOrStdout(), defaultTheme.hintStyle().Render(
			fmt.Sprintf("Use 'livability jobs watch %s' to follow it.", job.ID)))
		return nil
	}
	return watchJob(cmd, jobs, job)
}

func transitionJob(
	cmd *cobra.Command,
	id string,
	op func(*service.BatchJobService, context.Context, string) (*models.BatchJobRecord, error),
	verb string,
) error {
	ctx := context.Background()

	jobs, err := app.jobService(ctx)
	if err != nil {
		return err
	}
	job, err := op(jobs, ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("job not found: %s", id)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s (status: %s)\n", job.ID, verb, job.Status)
	return nil
}

func runJobsWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	jobs, err := app.jobService(ctx)
	if err != nil {
		return err
	}
	job, err := jobs.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("job not found: %s", args[0])
		}
		return err
	}
	return watchJob(cmd, jobs, job)
}

// watchJob follows a job with the progress UI on a terminal and with plain
// status lines otherwise. NATS events, when configured, trigger immediate
// refreshes on top of polling.
func watchJob(cmd *cobra.Command, jobs *service.BatchJobService, job *models.BatchJobRecord) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	updates := jobUpdates(ctx, job.ID)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return RunJobProgress(jobs.Get, job, updates)
	}
	return pollJob(ctx, cmd.OutOrStdout(), jobs.Get, job, updates)
}

// jobUpdates returns a channel that receives a value whenever an event for
// jobID arrives. It returns nil when job events are not configured.
func jobUpdates(ctx context.Context, jobID string) <-chan struct{} {
	pub := app.jobEvents()
	if pub == nil {
		return nil
	}
	ch := make(chan struct{}, 1)
	err := pub.Subscribe(ctx, events.AllJobsSubject, func(s models.BatchJobSummary) {
		if s.ID != jobID {
			return
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		logger.Warn("job events unavailable, polling only", "error", err)
		return nil
	}
	return ch
}

// pollJob prints a line per status or progress change until the job ends.
func pollJob(ctx context.Context, w io.Writer, fetch jobFetcher, job *models.BatchJobRecord, updates <-chan struct{}) error {
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	lastStatus, lastProgress := models.JobStatus(""), -1
	for {
		if job.Status != lastStatus || job.Progress != lastProgress {
			fmt.Fprintf(w, "[%s] %3d%% %s %s\n", job.Status, job.Progress, job.Type, job.Target)
			lastStatus, lastProgress = job.Status, job.Progress
		}

		switch job.Status {
		case models.JobStatusCompleted:
			if job.ResultSummary != nil {
				fmt.Fprintln(w, *job.ResultSummary)
			}
			return nil
		case models.JobStatusFailed:
			if job.Error != nil {
				return fmt.Errorf("job failed: %s", *job.Error)
			}
			return fmt.Errorf("job failed with unknown error")
		}

		select {
		case <-ctx.Done():
			fmt.Fprintf(w, "Job %s continues in background.\n", job.ID)
			return nil
		case <-ticker.C:
		case <-updates:
		}

		next, err := fetch(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("failed to fetch job status: %w", err)
		}
		job = next
	}
}
