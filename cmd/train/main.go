// Command train fits the risk model from a labelled feature table and
// publishes the next artifact version. The version becomes active only if it
// clears the acceptance gate.
//
// Usage:
//
//	go run ./cmd/train -table data/training.csv -model-dir models
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wildlife-risk-engine/internal/observability"
	"github.com/couchcryptid/wildlife-risk-engine/internal/trainer"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	tablePath := flag.String("table", "", "path to the labelled training table CSV")
	modelDir := flag.String("model-dir", "models", "directory to publish artifacts into")
	folds := flag.Int("folds", 5, "number of park-grouped cross-validation folds")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *tablePath == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -table")
	}

	logger := observability.NewLogger(*logLevel, "text")

	f, err := os.Open(*tablePath)
	if err != nil {
		return fmt.Errorf("open table: %w", err)
	}
	rows, err := trainer.ReadTable(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", *tablePath, err)
	}
	logger.Info("training table loaded", "rows", len(rows))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := trainer.DefaultConfig()
	cfg.Folds = *folds
	res, err := trainer.New(cfg, clockwork.NewRealClock(), logger).Run(ctx, rows, *modelDir)
	if err != nil {
		return err
	}

	md := res.Metadata
	fmt.Printf("version %s: %d trees, test RMSE %.2f, R² %.3f, high-risk precision %.3f\n",
		md.Version, md.Trees, md.Test.RMSE, md.Test.R2, md.Test.HighRiskPrecision)
	if !res.Passed() {
		for _, msg := range md.Gate.Failures {
			fmt.Printf("  gate: %s\n", msg)
		}
		return fmt.Errorf("%s did not pass the acceptance gate and was not activated", md.Version)
	}
	fmt.Printf("%s is now the active model\n", md.Version)
	return nil
}
