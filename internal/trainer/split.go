package trainer

import (
	"math/rand/v2"
	"slices"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// Split holds row indices of the train, validation and test partitions.
type Split struct {
	Train, Validation, Test []int
}

// StratifiedSplit partitions targets into train/validation/test by the given
// fractions (the test set takes the remainder), shuffling within each risk
// level so every partition keeps the level mix of the whole table.
func StratifiedSplit(targets []float64, trainFrac, valFrac float64, seed uint64) Split {
	rng := rand.New(rand.NewPCG(seed, seed))
	strata := map[domain.RiskLevel][]int{}
	for i, y := range targets {
		l := domain.LevelFor(y)
		strata[l] = append(strata[l], i)
	}

	var s Split
	for _, level := range []domain.RiskLevel{domain.RiskSafe, domain.RiskLow, domain.RiskMedium, domain.RiskHigh} {
		idx := strata[level]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTrain := int(float64(len(idx)) * trainFrac)
		nVal := int(float64(len(idx)) * valFrac)
		s.Train = append(s.Train, idx[:nTrain]...)
		s.Validation = append(s.Validation, idx[nTrain:nTrain+nVal]...)
		s.Test = append(s.Test, idx[nTrain+nVal:]...)
	}
	slices.Sort(s.Train)
	slices.Sort(s.Validation)
	slices.Sort(s.Test)
	return s
}

// Fold is one grouped cross-validation fold.
type Fold struct {
	Parks      []string
	Train      []int
	Validation []int
}

// GroupKFold assigns whole parks to k folds so that a fold's validation rows
// come only from parks absent from its training rows. Parks are distributed
// largest first to balance fold sizes. k is capped at the number of parks; it
// returns nil when there are fewer than two parks.
func GroupKFold(parks []string, k int) []Fold {
	count := map[string]int{}
	for _, p := range parks {
		count[p]++
	}
	names := make([]string, 0, len(count))
	for p := range count {
		names = append(names, p)
	}
	if len(names) < 2 || k < 2 {
		return nil
	}
	k = min(k, len(names))
	slices.SortFunc(names, func(a, b string) int {
		if count[a] != count[b] {
			return count[b] - count[a]
		}
		if a < b {
			return -1
		}
		return 1
	})

	folds := make([]Fold, k)
	sizes := make([]int, k)
	foldOf := map[string]int{}
	for _, p := range names {
		f := slices.Index(sizes, slices.Min(sizes))
		foldOf[p] = f
		folds[f].Parks = append(folds[f].Parks, p)
		sizes[f] += count[p]
	}
	for i, p := range parks {
		f := foldOf[p]
		for j := range folds {
			if j == f {
				folds[j].Validation = append(folds[j].Validation, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	return folds
}

func subset[T any](xs []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}
