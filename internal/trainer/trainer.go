// Package trainer fits the risk model offline from a labelled feature table
// and publishes versioned artifacts for the serving process.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/model"
)

// minRows is the smallest table the trainer accepts.
const minRows = 20

// Config configures a training run.
type Config struct {
	Params        Params
	Gate          Gate
	Folds         int
	TrainFraction float64
	ValFraction   float64
}

// DefaultConfig is a 70/15/15 split with 5 grouped folds.
func DefaultConfig() Config {
	return Config{
		Params:        DefaultParams(),
		Gate:          DefaultGate,
		Folds:         5,
		TrainFraction: 0.70,
		ValFraction:   0.15,
	}
}

// Trainer runs the offline pipeline: impute, split, cross-validate, fit,
// evaluate, gate.
type Trainer struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a Trainer.
func New(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Trainer {
	return &Trainer{cfg: cfg, clock: clock, logger: logger}
}

// Result is a trained artifact and its metadata.
type Result struct {
	Artifact *model.Artifact
	Metadata Metadata
}

// Passed reports whether the artifact cleared the acceptance gate.
func (r *Result) Passed() bool { return r.Metadata.Gate.Passed }

// Train fits a model for version from rows. rows are not modified.
func (t *Trainer) Train(ctx context.Context, rows []Row, version string) (*Result, error) {
	if len(rows) < minRows {
		return nil, fmt.Errorf("training table has %d rows, need at least %d", len(rows), minRows)
	}
	rows = cloneRows(rows)
	Impute(rows)
	x, y := Matrix(rows)
	parks := make([]string, len(rows))
	for i, r := range rows {
		parks[i] = r.Park
	}

	split := StratifiedSplit(y, t.cfg.TrainFraction, t.cfg.ValFraction, t.cfg.Params.Seed)
	if len(split.Train) == 0 || len(split.Test) == 0 {
		return nil, errors.New("split left the train or test partition empty")
	}
	t.logger.Info("training table split",
		"train", len(split.Train), "validation", len(split.Validation), "test", len(split.Test))

	cv, err := t.crossValidate(ctx, x, y, parks)
	if err != nil {
		return nil, err
	}

	xTrain, yTrain := subset(x, split.Train), subset(y, split.Train)
	xVal, yVal := subset(x, split.Validation), subset(y, split.Validation)
	xTest, yTest := subset(x, split.Test), subset(y, split.Test)

	fit, err := Fit(xTrain, yTrain, xVal, yVal, t.cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	valMetrics := Evaluate(predictAll(&fit.Ensemble, xVal), yVal)
	testMetrics := Evaluate(predictAll(&fit.Ensemble, xTest), yTest)
	failures := t.cfg.Gate.Check(testMetrics)

	md := Metadata{
		Version:         version,
		FormatVersion:   model.FormatVersion,
		TrainedAt:       t.clock.Now().UTC(),
		Samples:         SampleCounts{Train: len(split.Train), Validation: len(split.Validation), Test: len(split.Test)},
		Params:          t.cfg.Params,
		Trees:           len(fit.Ensemble.Trees),
		BestIteration:   fit.BestIteration,
		Validation:      valMetrics,
		Test:            testMetrics,
		CrossValidation: cv,
		Features:        slices.Clone(domain.FeatureNames),
		Importances:     importances(fit.Importances),
		Gate:            GateResult{Gate: t.cfg.Gate, Passed: len(failures) == 0, Failures: failures},
	}
	if r2, err := LinearBaseline(xTrain, yTrain, xTest, yTest); err != nil {
		t.logger.Warn("linear baseline failed", "error", err)
	} else {
		md.LinearBaselineR2 = &r2
	}

	t.logger.Info("model trained",
		"version", version,
		"trees", md.Trees,
		"test_rmse", testMetrics.RMSE,
		"test_r2", testMetrics.R2,
		"high_risk_precision", testMetrics.HighRiskPrecision,
		"gate_passed", md.Gate.Passed,
	)
	for _, f := range failures {
		t.logger.Warn("acceptance gate failed", "version", version, "reason", f)
	}

	return &Result{
		Artifact: &model.Artifact{
			FormatVersion: model.FormatVersion,
			Version:       version,
			Features:      slices.Clone(domain.FeatureNames),
			Ensemble:      fit.Ensemble,
		},
		Metadata: md,
	}, nil
}

// Run trains the next version in dir and publishes it. The version becomes
// active only if it passes the gate; failing artifacts are kept for
// inspection.
func (t *Trainer) Run(ctx context.Context, rows []Row, dir string) (*Result, error) {
	version, err := NextVersion(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	res, err := t.Train(ctx, rows, version)
	if err != nil {
		return nil, err
	}
	if err := Publish(dir, res.Artifact, res.Metadata, res.Passed()); err != nil {
		return nil, fmt.Errorf("publish %s: %w", version, err)
	}
	t.logger.Info("artifact published", "dir", dir, "version", version, "active", res.Passed())
	return res, nil
}

// crossValidate runs grouped k-fold by park. It returns nil when the table
// covers fewer than two parks.
func (t *Trainer) crossValidate(ctx context.Context, x [][]float64, y []float64, parks []string) (*CVSummary, error) {
	folds := GroupKFold(parks, t.cfg.Folds)
	if folds == nil {
		t.logger.Warn("skipping grouped cross-validation, fewer than two parks")
		return nil, nil
	}

	scores := make([]float64, len(folds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, fold := range folds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			xv, yv := subset(x, fold.Validation), subset(y, fold.Validation)
			fit, err := Fit(subset(x, fold.Train), subset(y, fold.Train), xv, yv, t.cfg.Params)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			scores[i] = rmse(predictAll(&fit.Ensemble, xv), yv)
			t.logger.Debug("cross-validation fold", "fold", i, "parks", fold.Parks, "rmse", scores[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cv := &CVSummary{Folds: len(folds), FoldRMSE: scores, RMSEMean: stat.Mean(scores, nil)}
	if len(scores) > 1 {
		cv.RMSEStd = stat.StdDev(scores, nil)
	}
	t.logger.Info("grouped cross-validation", "folds", cv.Folds, "rmse_mean", cv.RMSEMean, "rmse_std", cv.RMSEStd)
	return cv, nil
}

func predictAll(e *model.Ensemble, x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = max(0, min(100, e.Predict(x[i])))
	}
	return out
}

func importances(gain []float64) []Importance {
	out := make([]Importance, len(gain))
	for i, g := range gain {
		out[i] = Importance{Feature: domain.FeatureNames[i], Gain: g}
	}
	slices.SortStableFunc(out, func(a, b Importance) int {
		switch {
		case a.Gain > b.Gain:
			return -1
		case a.Gain < b.Gain:
			return 1
		}
		return 0
	})
	return out
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
		out[i].Missing = slices.Clone(r.Missing)
	}
	return out
}
