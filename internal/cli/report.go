package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/livability/internal/models"
	"github.com/raphaelgruber/livability/internal/service"
)

var (
	reportRadius int
	reportJSON   bool
)

var reportCmd = &cobra.Command{
	Use:   "report <address or listing url>",
	Short: "Build a neighborhood context report for an address",
	Long: `Resolve an address, fetch neighborhood context from every source and
print the category scores and the composite livability score.

Examples:
  livability report "Damrak 1 Amsterdam"
  livability report "Oudegracht 100 Utrecht" --radius 500
  livability report https://www.funda.nl/koop/amsterdam/appartement-42442424-damrak-1/ --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().IntVarP(&reportRadius, "radius", "r", 1000, "amenity search radius in meters (200-5000)")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the report as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.SourceTimeout+reportGrace)
	defer cancel()

	reports, err := app.reportService(ctx)
	if err != nil {
		return err
	}

	report, err := reports.Build(ctx, service.ReportRequest{
		Input:        strings.Join(args, " "),
		RadiusMeters: reportRadius,
	})
	if err != nil {
		return err
	}

	if reportJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(w io.Writer, r *models.ContextReport) {
	theme := defaultTheme

	fmt.Fprintf(w, "%s\n", theme.titleStyle().Render(r.Location.DisplayAddress))
	if r.Location.NeighborhoodName != nil {
		fmt.Fprintf(w, "  Neighborhood: %s", *r.Location.NeighborhoodName)
		if r.Location.NeighborhoodCode != nil {
			fmt.Fprintf(w, " (%s)", *r.Location.NeighborhoodCode)
		}
		fmt.Fprintln(w)
	}
	if r.Location.MunicipalityName != nil {
		fmt.Fprintf(w, "  Municipality: %s\n", *r.Location.MunicipalityName)
	}
	fmt.Fprintf(w, "  Radius: %d m\n\n", r.RadiusMeters)

	if r.CompositeScore != nil {
		fmt.Fprintf(w, "Livability score: %s\n", theme.scoreStyle(*r.CompositeScore).Render(fmt.Sprintf("%.1f", *r.CompositeScore)))
	} else {
		fmt.Fprintf(w, "Livability score: %s\n", theme.hintStyle().Render("unscored"))
	}

	for _, cat := range models.KnownCategories {
		metrics := r.MetricsFor(cat)
		score, scored := r.CategoryScores[cat]
		header := string(cat)
		if scored {
			header += "  " + theme.scoreStyle(score).Render(fmt.Sprintf("%.1f", score))
		}
		fmt.Fprintf(w, "\n%s\n", theme.statusStyle().Render(header))
		if len(metrics) == 0 {
			fmt.Fprintf(w, "  %s\n", theme.hintStyle().Render("no data"))
			continue
		}
		for _, m := range metrics {
			fmt.Fprintf(w, "  %-28s %s\n", m.Label, formatMetric(m))
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(w, "\n%s\n", theme.errorStyle().Render(fmt.Sprintf("Warnings (%d):", len(r.Warnings))))
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  • %s\n", warn)
		}
	}

	if len(r.Sources) > 0 {
		fmt.Fprintf(w, "\nSources:\n")
		for _, s := range r.Sources {
			fmt.Fprintf(w, "  %s (%s) %s\n", s.Name, s.License, theme.hintStyle().Render(s.URL))
		}
	}
}

// formatMetric renders value, unit and score of a metric on one line.
func formatMetric(m models.ContextMetric) string {
	var b strings.Builder
	switch {
	case m.Value != nil:
		fmt.Fprintf(&b, "%s", formatNumber(*m.Value))
		if m.Unit != "" {
			b.WriteString(" " + m.Unit)
		}
	case m.Note != "":
		b.WriteString(m.Note)
	default:
		b.WriteString("n/a")
	}
	if m.Score != nil {
		fmt.Fprintf(&b, "  [%.0f]", *m.Score)
	}
	return b.String()
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
