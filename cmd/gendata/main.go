// Command gendata writes a reproducible synthetic training table and
// incident history. Equal seeds produce byte-identical files.
//
// Usage:
//
//	go run ./cmd/gendata \
//	  -table-out data/training.csv \
//	  -incidents-out data/incidents.csv \
//	  -rows 1000 -incidents 500 -seed 42
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/incidents"
	"github.com/couchcryptid/wildlife-risk-engine/internal/synth"
	"github.com/couchcryptid/wildlife-risk-engine/internal/trainer"
)

// Incidents span the two years before this date.
var baseDate = time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	tableOut := flag.String("table-out", "data/training.csv", "output path for the training table")
	incidentsOut := flag.String("incidents-out", "data/incidents.csv", "output path for the incident history")
	nRows := flag.Int("rows", 1000, "number of training rows")
	nIncidents := flag.Int("incidents", 500, "number of incident records")
	seed := flag.Uint64("seed", synth.DefaultSeed, "random seed")
	flag.Parse()

	if *nRows <= 0 || *nIncidents < 0 {
		flag.Usage()
		return fmt.Errorf("-rows must be positive and -incidents non-negative")
	}

	gen := synth.New(*seed)

	rows := gen.TrainingRows(*nRows)
	if err := writeFile(*tableOut, func(w io.Writer) error { return trainer.WriteTable(w, rows) }); err != nil {
		return fmt.Errorf("writing training table: %w", err)
	}
	log.Printf("wrote %d training rows: %s", len(rows), *tableOut)

	records := gen.Incidents(*nIncidents, baseDate.AddDate(-2, 0, 0), baseDate)
	if err := writeFile(*incidentsOut, func(w io.Writer) error { return incidents.WriteCSV(w, records) }); err != nil {
		return fmt.Errorf("writing incidents: %w", err)
	}
	log.Printf("wrote %d incidents: %s", len(records), *incidentsOut)

	printStats(rows, records)
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printStats(rows []trainer.Row, records []domain.IncidentRecord) {
	levels := map[domain.RiskLevel]int{}
	for _, r := range rows {
		levels[domain.LevelFor(r.Target)]++
	}
	fmt.Println("\nTraining rows by risk level:")
	for _, l := range []domain.RiskLevel{domain.RiskHigh, domain.RiskMedium, domain.RiskLow, domain.RiskSafe} {
		fmt.Printf("  %-10s %d\n", l, levels[l])
	}

	parks := map[string]int{}
	for _, rec := range records {
		parks[domain.ParkOf(rec.Location)]++
	}
	fmt.Println("\nIncidents by park:")
	for _, p := range domain.Parks {
		fmt.Printf("  %-12s %d\n", p.Name, parks[p.Name])
	}
	fmt.Printf("  %-12s %d\n", domain.UnassignedPark, parks[domain.UnassignedPark])
}
