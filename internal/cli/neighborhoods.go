package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/livability/internal/models"
)

var neighborhoodsCmd = &cobra.Command{
	Use:     "neighborhoods",
	Aliases: []string{"nb"},
	Short:   "Inspect ingested neighborhood data",
}

var neighborhoodsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingested neighborhoods per city",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := app.stores(ctx)
		if err != nil {
			return err
		}
		status, err := store.DatasetStatus(ctx)
		if err != nil {
			return fmt.Errorf("dataset status: %w", err)
		}
		printDatasetStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

var neighborhoodsListCmd = &cobra.Command{
	Use:   "list <city>",
	Short: "List ingested neighborhoods of a city",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		city := strings.Join(args, " ")
		_, store, err := app.stores(ctx)
		if err != nil {
			return err
		}
		list, err := store.ListByCity(ctx, city)
		if err != nil {
			return fmt.Errorf("list neighborhoods: %w", err)
		}
		if len(list) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No neighborhoods ingested for %s\n", city)
			fmt.Fprintln(cmd.OutOrStdout(), defaultTheme.hintStyle().Render(
				fmt.Sprintf("Run 'livability jobs enqueue CityIngestion %q' to ingest it.", city)))
			return nil
		}
		printNeighborhoods(cmd.OutOrStdout(), list)
		return nil
	},
}

var neighborhoodsCitiesCmd = &cobra.Command{
	Use:   "cities",
	Short: "List municipalities known to CBS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SourceTimeout)
		defer cancel()
		municipalities, err := app.sourceClients().Geo.ListMunicipalities(ctx)
		if err != nil {
			return err
		}
		for _, m := range municipalities {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", m.Code, m.Name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d municipalities\n", len(municipalities))
		return nil
	},
}

func init() {
	neighborhoodsCmd.AddCommand(neighborhoodsStatusCmd, neighborhoodsListCmd, neighborhoodsCitiesCmd)
}

func printDatasetStatus(w io.Writer, status []models.CityDatasetStatus) {
	if len(status) == 0 {
		fmt.Fprintln(w, "No neighborhoods ingested yet")
		return
	}
	fmt.Fprintf(w, "%-30s %8s  %s\n", "CITY", "COUNT", "LAST UPDATED")
	for _, s := range status {
		updated := "-"
		if s.LastUpdated != nil {
			updated = s.LastUpdated.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%-30s %8d  %s\n", s.City, s.NeighborhoodCount, updated)
	}
}

func printNeighborhoods(w io.Writer, list []models.Neighborhood) {
	fmt.Fprintf(w, "%-12s %-32s %8s %10s %7s %7s\n", "CODE", "NAME", "DENSITY", "WOZ", "CRIME", "SCORE")
	for _, n := range list {
		fmt.Fprintf(w, "%-12s %-32s %8s %10s %7s %7s\n",
			n.Code, truncate(n.Name, 32),
			optInt(n.PopulationDensity), optFloat(n.AverageWozValue, "%.0f"),
			optFloat(n.CrimeRate, "%.1f"), optFloat(n.LivabilityScore, "%.1f"))
	}
	fmt.Fprintf(w, "\n%d neighborhoods\n", len(list))
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func optFloat(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
