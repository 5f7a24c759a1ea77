package trainer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// HighRiskThreshold is the score above which a cell counts as high risk for
// precision and recall.
const HighRiskThreshold = 80.0

// Metrics are regression and high-risk classification scores on one split.
type Metrics struct {
	RMSE              float64 `json:"rmse"`
	MAE               float64 `json:"mae"`
	R2                float64 `json:"r2"`
	HighRiskPrecision float64 `json:"high_risk_precision"`
	HighRiskRecall    float64 `json:"high_risk_recall"`
	Samples           int     `json:"samples"`
}

// Evaluate scores predictions against targets. Precision is zero when no
// prediction is high risk; recall is zero when no target is.
func Evaluate(pred, y []float64) Metrics {
	m := Metrics{Samples: len(y)}
	if len(y) == 0 {
		return m
	}
	m.RMSE = rmse(pred, y)
	abs := 0.0
	var tp, fp, fn int
	for i := range y {
		abs += math.Abs(pred[i] - y[i])
		hp, hy := pred[i] > HighRiskThreshold, y[i] > HighRiskThreshold
		switch {
		case hp && hy:
			tp++
		case hp:
			fp++
		case hy:
			fn++
		}
	}
	m.MAE = abs / float64(len(y))
	m.R2 = finite(stat.RSquaredFrom(pred, y, nil))
	if tp+fp > 0 {
		m.HighRiskPrecision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.HighRiskRecall = float64(tp) / float64(tp+fn)
	}
	return m
}

func rmse(pred, y []float64) float64 {
	if len(y) == 0 {
		return math.NaN()
	}
	s := 0.0
	for i := range y {
		d := pred[i] - y[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(y)))
}

// Gate is the acceptance test a model must pass on the test split before it
// becomes the active version.
type Gate struct {
	MaxRMSE              float64 `json:"max_rmse"`
	MinR2                float64 `json:"min_r2"`
	MinHighRiskPrecision float64 `json:"min_high_risk_precision"`
}

// DefaultGate is RMSE < 15, R² > 0.70 and high-risk precision > 0.80.
var DefaultGate = Gate{MaxRMSE: 15, MinR2: 0.70, MinHighRiskPrecision: 0.80}

// Check returns one message per failed criterion; none means the gate passed.
func (g Gate) Check(m Metrics) []string {
	var failures []string
	if !(m.RMSE < g.MaxRMSE) {
		failures = append(failures, fmt.Sprintf("test RMSE %.2f is not below %.2f", m.RMSE, g.MaxRMSE))
	}
	if !(m.R2 > g.MinR2) {
		failures = append(failures, fmt.Sprintf("test R² %.3f is not above %.2f", m.R2, g.MinR2))
	}
	if !(m.HighRiskPrecision > g.MinHighRiskPrecision) {
		failures = append(failures, fmt.Sprintf("high-risk precision %.3f is not above %.2f", m.HighRiskPrecision, g.MinHighRiskPrecision))
	}
	return failures
}

// finite maps NaN and ±Inf to zero so metrics always encode as JSON.
func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
