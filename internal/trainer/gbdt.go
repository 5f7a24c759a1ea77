package trainer

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/wildlife-risk-engine/internal/model"
)

// Params configures gradient boosting.
type Params struct {
	Rounds              int     `json:"rounds"`
	LearningRate        float64 `json:"learning_rate"`
	NumLeaves           int     `json:"num_leaves"`
	MinLeaf             int     `json:"min_data_in_leaf"`
	Lambda              float64 `json:"lambda_l2"`
	FeatureFraction     float64 `json:"feature_fraction"`
	BaggingFraction     float64 `json:"bagging_fraction"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds"`
	Bins                int     `json:"max_bins"`
	Seed                uint64  `json:"seed"`
}

// DefaultParams are the production training parameters.
func DefaultParams() Params {
	return Params{
		Rounds:              1000,
		LearningRate:        0.05,
		NumLeaves:           31,
		MinLeaf:             20,
		Lambda:              1,
		FeatureFraction:     0.8,
		BaggingFraction:     0.8,
		EarlyStoppingRounds: 50,
		Bins:                64,
		Seed:                42,
	}
}

// FitResult is a trained ensemble and its training trace.
type FitResult struct {
	Ensemble model.Ensemble
	// BestIteration is the number of trees kept after early stopping.
	BestIteration int
	// Importances is the total split gain per feature over the kept trees.
	Importances []float64
	// ValidationRMSE is NaN when no validation set was given.
	ValidationRMSE float64
}

// Fit trains a squared-loss gradient-boosted tree ensemble with leaf-wise
// growth on histogram bins. When a validation set is given, boosting stops
// after EarlyStoppingRounds rounds without improvement in validation RMSE and
// the ensemble is truncated to the best round. The same inputs and seed
// always produce the same ensemble.
func Fit(x [][]float64, y []float64, xVal [][]float64, yVal []float64, p Params) (FitResult, error) {
	switch {
	case len(x) == 0:
		return FitResult{}, errors.New("no training rows")
	case len(x) != len(y) || len(xVal) != len(yVal):
		return FitResult{}, errors.New("row and target counts differ")
	case p.Rounds < 1 || p.LearningRate <= 0 || p.NumLeaves < 2:
		return FitResult{}, errors.New("invalid boosting parameters")
	}
	nf := len(x[0])
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	g := newGrower(x, p)

	base := stat.Mean(y, nil)
	pred := filled(len(y), base)
	valPred := filled(len(yVal), base)
	ens := model.Ensemble{Base: base, LearningRate: p.LearningRate}

	bestRMSE, bestIter, stale := math.Inf(1), 0, 0
	for round := range p.Rounds {
		for i := range y {
			g.grad[i] = y[i] - pred[i]
		}
		tree := g.grow(sample(rng, len(y), p.BaggingFraction), sample(rng, nf, p.FeatureFraction))
		ens.Trees = append(ens.Trees, tree)
		for i := range x {
			pred[i] += p.LearningRate * tree.Predict(x[i])
		}

		if len(xVal) == 0 {
			bestIter = round + 1
			continue
		}
		for i := range xVal {
			valPred[i] += p.LearningRate * tree.Predict(xVal[i])
		}
		if r := rmse(valPred, yVal); r < bestRMSE-1e-9 {
			bestRMSE, bestIter, stale = r, round+1, 0
		} else if stale++; p.EarlyStoppingRounds > 0 && stale >= p.EarlyStoppingRounds {
			break
		}
	}
	ens.Trees = ens.Trees[:bestIter]

	imp := make([]float64, nf)
	for _, t := range ens.Trees {
		for _, n := range t.Nodes {
			if !n.IsLeaf() {
				imp[n.Feature] += n.Gain
			}
		}
	}
	res := FitResult{Ensemble: ens, BestIteration: bestIter, Importances: imp, ValidationRMSE: math.NaN()}
	if len(xVal) > 0 {
		res.ValidationRMSE = bestRMSE
	}
	return res, nil
}

// grower builds one tree per round from binned features.
type grower struct {
	p      Params
	cuts   [][]float64 // per feature, ascending split thresholds
	binned [][]uint16  // per feature, per row bin index
	grad   []float64
}

func newGrower(x [][]float64, p Params) *grower {
	nf := len(x[0])
	g := &grower{
		p:      p,
		cuts:   make([][]float64, nf),
		binned: make([][]uint16, nf),
		grad:   make([]float64, len(x)),
	}
	maxBins := max(2, p.Bins)
	col := make([]float64, len(x))
	for j := range nf {
		for i := range x {
			col[i] = x[i][j]
		}
		g.cuts[j] = binCuts(col, maxBins)
		g.binned[j] = make([]uint16, len(x))
		for i, v := range col {
			b, _ := slices.BinarySearch(g.cuts[j], v)
			g.binned[j][i] = uint16(b)
		}
	}
	return g
}

// binCuts returns at most maxBins-1 thresholds. A value v falls in bin b,
// the index of the first cut >= v.
func binCuts(col []float64, maxBins int) []float64 {
	u := slices.Clone(col)
	slices.Sort(u)
	u = slices.Compact(u)
	if len(u) <= maxBins {
		return u[:len(u)-1]
	}
	cuts := make([]float64, 0, maxBins-1)
	for b := 1; b < maxBins; b++ {
		cuts = append(cuts, u[b*len(u)/maxBins-1])
	}
	return slices.Compact(cuts)
}

type split struct {
	ok      bool
	feature int
	bin     int
	gain    float64
	leftSum float64
}

type growingLeaf struct {
	node int
	rows []int
	sum  float64
	best split
}

func (g *grower) leafValue(sum float64, n int) float64 {
	return sum / (float64(n) + g.p.Lambda)
}

func (g *grower) grow(rows, features []int) model.Tree {
	sum := 0.0
	for _, i := range rows {
		sum += g.grad[i]
	}
	nodes := []model.Node{{Feature: -1, Value: g.leafValue(sum, len(rows)), Cover: len(rows)}}
	leaves := []growingLeaf{{node: 0, rows: rows, sum: sum, best: g.bestSplit(rows, sum, features)}}

	for len(leaves) < g.p.NumLeaves {
		bi := -1
		for i, l := range leaves {
			if l.best.ok && (bi < 0 || l.best.gain > leaves[bi].best.gain) {
				bi = i
			}
		}
		if bi < 0 {
			break
		}
		l := leaves[bi]
		s := l.best
		var left, right []int
		for _, i := range l.rows {
			if int(g.binned[s.feature][i]) <= s.bin {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		rightSum := l.sum - s.leftSum
		li, ri := len(nodes), len(nodes)+1
		nodes = append(nodes,
			model.Node{Feature: -1, Value: g.leafValue(s.leftSum, len(left)), Cover: len(left)},
			model.Node{Feature: -1, Value: g.leafValue(rightSum, len(right)), Cover: len(right)},
		)
		parent := &nodes[l.node]
		parent.Feature = s.feature
		parent.Threshold = g.cuts[s.feature][s.bin]
		parent.Left, parent.Right = li, ri
		parent.Gain = s.gain

		leaves[bi] = growingLeaf{node: li, rows: left, sum: s.leftSum, best: g.bestSplit(left, s.leftSum, features)}
		leaves = append(leaves, growingLeaf{node: ri, rows: right, sum: rightSum, best: g.bestSplit(right, rightSum, features)})
	}
	return model.Tree{Nodes: nodes}
}

func (g *grower) bestSplit(rows []int, sum float64, features []int) split {
	n := len(rows)
	minLeaf := max(1, g.p.MinLeaf)
	if n < 2*minLeaf {
		return split{}
	}
	lambda := g.p.Lambda
	parentScore := sum * sum / (float64(n) + lambda)

	var best split
	for _, j := range features {
		nb := len(g.cuts[j]) + 1
		if nb < 2 {
			continue
		}
		hSum := make([]float64, nb)
		hCnt := make([]int, nb)
		for _, i := range rows {
			b := g.binned[j][i]
			hSum[b] += g.grad[i]
			hCnt[b]++
		}
		leftSum, leftN := 0.0, 0
		for b := 0; b < nb-1; b++ {
			leftSum += hSum[b]
			leftN += hCnt[b]
			rightN := n - leftN
			if leftN < minLeaf {
				continue
			}
			if rightN < minLeaf {
				break
			}
			rightSum := sum - leftSum
			gain := leftSum*leftSum/(float64(leftN)+lambda) +
				rightSum*rightSum/(float64(rightN)+lambda) - parentScore
			if gain > 1e-12 && (!best.ok || gain > best.gain) {
				best = split{ok: true, feature: j, bin: b, gain: gain, leftSum: leftSum}
			}
		}
	}
	return best
}

// sample returns a sorted random subset of [0, n) of size ceil(frac*n).
func sample(rng *rand.Rand, n int, frac float64) []int {
	if frac <= 0 || frac >= 1 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	k := max(1, int(math.Ceil(frac*float64(n))))
	out := rng.Perm(n)[:k]
	slices.Sort(out)
	return out
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
