package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/livability/internal/models"
)

var exportCities []string

var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export ingested neighborhoods to YAML files",
	Long: `Export ingested neighborhoods to one YAML file per city for backup or
analysis elsewhere.

Examples:
  livability export ./backup
  livability export ./backup --city Utrecht --city "Den Haag"`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringSliceVarP(&exportCities, "city", "c", nil, "export only these cities")
}

// cityExport is the document written per city.
type cityExport struct {
	City          string               `yaml:"city"`
	ExportedAt    time.Time            `yaml:"exported_at"`
	Neighborhoods []neighborhoodExport `yaml:"neighborhoods"`
}

type neighborhoodExport struct {
	Code              string    `yaml:"code"`
	Name              string    `yaml:"name"`
	Type              string    `yaml:"type"`
	Latitude          float64   `yaml:"latitude"`
	Longitude         float64   `yaml:"longitude"`
	PopulationDensity *int      `yaml:"population_density,omitempty"`
	AverageWozValue   *float64  `yaml:"average_woz_value,omitempty"`
	CrimeRate         *float64  `yaml:"crime_rate,omitempty"`
	LivabilityScore   *float64  `yaml:"livability_score,omitempty"`
	LastUpdated       time.Time `yaml:"last_updated"`
}

func runExport(cmd *cobra.Command, args []string) error {
	exportPath := args[0]
	ctx := context.Background()

	if err := os.MkdirAll(exportPath, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	_, store, err := app.stores(ctx)
	if err != nil {
		return err
	}

	cities := exportCities
	if len(cities) == 0 {
		status, err := store.DatasetStatus(ctx)
		if err != nil {
			return fmt.Errorf("dataset status: %w", err)
		}
		for _, s := range status {
			cities = append(cities, s.City)
		}
	}
	if len(cities) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No neighborhoods to export.")
		return nil
	}

	exported := 0
	for _, city := range cities {
		list, err := store.ListByCity(ctx, city)
		if err != nil {
			return fmt.Errorf("list neighborhoods of %s: %w", city, err)
		}
		if len(list) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Warning: no neighborhoods for %s\n", city)
			continue
		}

		filename := filepath.Join(exportPath, citySlug(city)+".yaml")
		f, err := os.Create(filename)
		if err != nil {
			return fmt.Errorf("create %s: %w", filename, err)
		}
		err = writeCityExport(f, city, list, time.Now().UTC())
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", filename, err)
		}
		exported += len(list)

		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "  Exported: %s (%d)\n", filename, len(list))
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nExported %d neighborhoods to %s\n", exported, exportPath)
	return nil
}

func writeCityExport(w io.Writer, city string, list []models.Neighborhood, now time.Time) error {
	doc := cityExport{City: city, ExportedAt: now}
	for _, n := range list {
		doc.Neighborhoods = append(doc.Neighborhoods, neighborhoodExport{
			Code:              n.Code,
			Name:              n.Name,
			Type:              n.Type,
			Latitude:          n.Latitude,
			Longitude:         n.Longitude,
			PopulationDensity: n.PopulationDensity,
			AverageWozValue:   n.AverageWozValue,
			CrimeRate:         n.CrimeRate,
			LivabilityScore:   n.LivabilityScore,
			LastUpdated:       n.LastUpdated,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// citySlug turns a city name into a file name, e.g. "Den Haag" -> "den-haag".
func citySlug(city string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(city)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
