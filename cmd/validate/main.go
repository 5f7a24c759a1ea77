// Command validate re-scores a labelled feature table against a published
// model artifact and checks that the artifact, its metadata sidecar and the
// serving path agree. It exits non-zero when any phase fails.
//
// Usage:
//
//	go run ./cmd/validate -model-dir models -table data/training.csv
//	go run ./cmd/validate -model-dir models -version v3 -table data/holdout.csv
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/model"
	"github.com/couchcryptid/wildlife-risk-engine/internal/trainer"
)

// servingTolerance absorbs the two-decimal rounding applied when serving.
const servingTolerance = 0.01

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	modelDir := flag.String("model-dir", "models", "directory containing model artifacts")
	version := flag.String("version", "active", "artifact version to validate")
	tablePath := flag.String("table", "", "path to a labelled feature table CSV")
	flag.Parse()

	if *tablePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*modelDir, *version, *tablePath); code != 0 {
		os.Exit(code)
	}
}

func run(dir, version, tablePath string) int {
	fmt.Println("=== Risk Model Validation ===")
	fmt.Println()

	if version == "" || version == "active" {
		v, err := model.ActiveVersion(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: resolve active version: %v\n", err)
			return 1
		}
		version = v
	}

	artifact, err := model.ReadArtifact(model.ArtifactPath(dir, version))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load artifact: %v\n", err)
		return 1
	}

	rows, err := loadTable(tablePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load table: %v\n", err)
		return 1
	}
	trainer.Impute(rows)

	md, mdErr := trainer.ReadMetadata(dir, version)
	x, y := trainer.Matrix(rows)
	pred := make([]float64, len(x))
	for i := range x {
		pred[i] = max(0, min(100, artifact.Ensemble.Predict(x[i])))
	}
	metrics := trainer.Evaluate(pred, y)

	phases := []*phase{
		validateMetadata(artifact, md, mdErr),
		validateGate(metrics, md),
		validateServing(artifact, rows, pred),
	}

	fmt.Printf("Model %s: %d trees\n", version, len(artifact.Ensemble.Trees))
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d  RMSE %.2f  MAE %.2f  R² %.3f  high-risk precision %.3f  recall %.3f\n",
		metrics.Samples, metrics.RMSE, metrics.MAE, metrics.R2, metrics.HighRiskPrecision, metrics.HighRiskRecall)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
			if i == 19 && len(p.errors) > 20 {
				fmt.Printf("  ... and %d more\n", len(p.errors)-20)
				break
			}
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadTable(path string) ([]trainer.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return trainer.ReadTable(f)
}

// ── Phases ──

func validateMetadata(a *model.Artifact, md *trainer.Metadata, mdErr error) *phase {
	p := &phase{name: "Artifact metadata"}
	if mdErr != nil {
		p.errorf("read metadata: %v", mdErr)
		return p
	}
	if md.Version != a.Version {
		p.errorf("metadata version %q, artifact version %q", md.Version, a.Version)
	}
	if md.FormatVersion != a.FormatVersion {
		p.errorf("metadata format version %d, artifact %d", md.FormatVersion, a.FormatVersion)
	}
	if md.Trees != len(a.Ensemble.Trees) {
		p.errorf("metadata records %d trees, artifact has %d", md.Trees, len(a.Ensemble.Trees))
	}
	if !slices.Equal(md.Features, a.Features) {
		p.errorf("metadata features %v differ from artifact features %v", md.Features, a.Features)
	}
	if len(md.Importances) != len(a.Features) {
		p.errorf("metadata has %d feature importances, want %d", len(md.Importances), len(a.Features))
	}
	return p
}

// validateGate applies the gate recorded with the artifact, or the default
// gate when the sidecar is unreadable.
func validateGate(m trainer.Metrics, md *trainer.Metadata) *phase {
	p := &phase{name: "Acceptance gate on table"}
	gate := trainer.DefaultGate
	if md != nil && md.Gate.Gate != (trainer.Gate{}) {
		gate = md.Gate.Gate
	}
	for _, failure := range gate.Check(m) {
		p.errorf("%s", failure)
	}
	return p
}

// validateServing checks that the serving model reproduces the offline
// scores row by row.
func validateServing(a *model.Artifact, rows []trainer.Row, offline []float64) *phase {
	p := &phase{name: "Serving parity"}
	m, err := model.New(a)
	if err != nil {
		p.errorf("load serving model: %v", err)
		return p
	}
	for i, r := range rows {
		pred, err := m.Predict(domain.CellFeatures{
			Cell:     domain.GridCell{ID: fmt.Sprintf("row-%d", i+2)},
			Features: r.Features,
			Park:     r.Park,
		})
		if err != nil {
			p.errorf("row %d: %v", i+2, err)
			continue
		}
		if math.Abs(pred.RiskScore-offline[i]) > servingTolerance {
			p.errorf("row %d: serving score %.2f, offline %.4f", i+2, pred.RiskScore, offline[i])
		}
		if pred.RiskLevel != domain.LevelFor(pred.RiskScore) {
			p.errorf("row %d: level %s does not match score %.2f", i+2, pred.RiskLevel, pred.RiskScore)
		}
		if pred.ModelVersion != a.Version {
			p.errorf("row %d: prediction tagged %q, want %q", i+2, pred.ModelVersion, a.Version)
		}
	}
	return p
}
