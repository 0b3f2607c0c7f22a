package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/livability/internal/models"
)

const (
	watchPollInterval = 2 * time.Second
	// reportGrace is added to the source timeout for resolving and scoring.
	reportGrace = 10 * time.Second
	// logTail is the number of execution log lines shown after a job ends.
	logTail = 5
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Warning:    lipgloss.Color("#FFAF00"), // amber
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status).Bold(true)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// scoreStyle colors a 0-100 score.
func (t Theme) scoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 70:
		return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
	case score >= 50:
		return lipgloss.NewStyle().Foreground(t.Warning).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
	}
}

// jobFetcher loads the current state of a job.
type jobFetcher func(ctx context.Context, id string) (*models.BatchJobRecord, error)

// tickMsg triggers polling the job status
type tickMsg time.Time

// eventMsg signals that a job event arrived and the job should be reloaded.
type eventMsg struct{}

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *models.BatchJobRecord
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	fetch    jobFetcher
	events   <-chan struct{}
	jobID    string
	job      *models.BatchJobRecord
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a new progress model. events may be nil, in
// which case the job is only polled.
func newProgressModel(fetch jobFetcher, job *models.BatchJobRecord, events <-chan struct{}) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		fetch:    fetch,
		events:   events,
		jobID:    job.ID,
		job:      job,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init starts polling and listening for job events.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchJob(),
		tickCmd(),
		waitForEvent(m.events),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, tea.Batch(m.fetchJob(), tickCmd())

	case eventMsg:
		return m, tea.Batch(m.fetchJob(), waitForEvent(m.events))

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job
		switch m.job.Status {
		case models.JobStatusCompleted:
			m.done = true
			return m, tea.Quit
		case models.JobStatusFailed:
			m.done = true
			if m.job.Error != nil {
				m.err = fmt.Errorf("%s", *m.job.Error)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
			return m, tea.Quit
		}
		return m, nil

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	progressBar := m.progress.ViewAs(float64(m.job.Progress) / 100)
	label := fmt.Sprintf("%s %s", m.job.Type, m.job.Target)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop watching; the job keeps running")

	return fmt.Sprintf("%s %s %3d%% %s\n%s\n", status, progressBar, m.job.Progress, label, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'livability jobs show %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	var b strings.Builder
	if m.err != nil {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s", m.err)))
		b.WriteString("\n")
	} else {
		b.WriteString(m.theme.completedStyle().Render("✓ Completed"))
		b.WriteString("\n")
		if m.job != nil && m.job.ResultSummary != nil {
			fmt.Fprintf(&b, "\n  %s\n", *m.job.ResultSummary)
		}
	}
	if m.job != nil {
		if tail := lastLogLines(m.job, logTail); len(tail) > 0 {
			b.WriteString("\n")
			for _, line := range tail {
				b.WriteString(m.theme.hintStyle().Render("  "+line) + "\n")
			}
		}
	}
	return b.String()
}

// fetchJob loads the job in a command to avoid blocking Update().
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.fetch(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(watchPollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(events <-chan struct{}) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-events; !ok {
			return nil
		}
		return eventMsg{}
	}
}

// lastLogLines returns up to n trailing execution log lines.
func lastLogLines(rec *models.BatchJobRecord, n int) []string {
	if rec.ExecutionLog == nil {
		return nil
	}
	lines := strings.Split(strings.TrimRight(*rec.ExecutionLog, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunJobProgress(fetch jobFetcher, job *models.BatchJobRecord, events <-chan struct{}) error {
	model := newProgressModel(fetch, job, events)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
