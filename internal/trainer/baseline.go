package trainer

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// baselineFeatures are weakly collinear columns for the linear reference fit.
var baselineFeatures = []string{
	"ndvi",
	"boundary_risk",
	"incident_density",
	"access_ease",
	"seasonal_incident_rate",
	"moon_illumination",
	"terrain_ruggedness",
}

// LinearBaseline fits ordinary least squares on the baselineFeatures that
// vary in the training rows and returns its R² on the evaluation rows, as a
// reference point for the ensemble.
func LinearBaseline(x [][]float64, y []float64, xEval [][]float64, yEval []float64) (float64, error) {
	var (
		cols  []int
		names []string
	)
	col := make([]float64, len(x))
	for _, name := range baselineFeatures {
		c := slices.Index(domain.FeatureNames, name)
		for i := range x {
			col[i] = x[i][c]
		}
		if stat.Variance(col, nil) > 0 {
			cols = append(cols, c)
			names = append(names, name)
		}
	}
	if len(cols) == 0 {
		return 0, errors.New("linear baseline: every baseline feature is constant")
	}
	project := func(row []float64) []float64 {
		out := make([]float64, len(cols))
		for i, c := range cols {
			out[i] = row[c]
		}
		return out
	}

	var r regression.Regression
	r.SetObserved(TargetColumn)
	for i, name := range names {
		r.SetVar(i, name)
	}
	for i := range x {
		r.Train(regression.DataPoint(y[i], project(x[i])))
	}
	if err := r.Run(); err != nil {
		return 0, fmt.Errorf("linear baseline: %w", err)
	}

	pred := make([]float64, len(xEval))
	for i := range xEval {
		p, err := r.Predict(project(xEval[i]))
		if err != nil {
			return 0, fmt.Errorf("linear baseline: %w", err)
		}
		pred[i] = p
	}
	r2 := stat.RSquaredFrom(pred, yEval, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		return 0, errors.New("linear baseline: R² is not finite")
	}
	return r2, nil
}
