// Package model scores feature vectors with a trained gradient-boosted tree
// ensemble, or with a closed-form heuristic when no artifact can be loaded.
package model

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// Mode is how a Model produces scores.
type Mode string

const (
	ModeLoaded   Mode = "loaded"
	ModeFallback Mode = "fallback"
)

// FallbackVersion is the model version reported for heuristic predictions.
const FallbackVersion = "fallback"

const (
	imputedPenalty   = 0.05
	boundaryPenalty  = 0.15
	boundaryMargin   = 3.0
	fallbackPenalty  = 0.25
	explanationParts = 3
)

// Model is an immutable scorer shared by concurrent requests.
type Model struct {
	mode     Mode
	version  string
	ensemble *Ensemble
}

// NewFallback returns a Model in heuristic mode.
func NewFallback() *Model {
	return &Model{mode: ModeFallback, version: FallbackVersion}
}

// New returns a Model serving a validated artifact.
func New(a *Artifact) (*Model, error) {
	if err := a.Validate(); err != nil {
		return nil, domain.NewModelUnavailableError("invalid artifact "+a.Version, err)
	}
	return &Model{mode: ModeLoaded, version: a.Version, ensemble: &a.Ensemble}, nil
}

// Load reads version from dir, where "" or "active" means the version named
// by the ACTIVE file. Any failure is logged and yields a fallback Model.
func Load(dir, version string, logger *slog.Logger) *Model {
	m, err := load(dir, version)
	if err != nil {
		logger.Warn("trained model unavailable, using heuristic fallback",
			"dir", dir, "version", version, "error", err)
		return NewFallback()
	}
	logger.Info("model loaded", "version", m.version, "trees", len(m.ensemble.Trees))
	return m
}

func load(dir, version string) (*Model, error) {
	if version == "" || version == "active" {
		v, err := ActiveVersion(dir)
		if err != nil {
			return nil, domain.NewModelUnavailableError("no active model version", err)
		}
		version = v
	}
	a, err := ReadArtifact(ArtifactPath(dir, version))
	if err != nil {
		return nil, domain.NewModelUnavailableError("cannot read model "+version, err)
	}
	return New(a)
}

// Mode reports whether the model is trained or heuristic.
func (m *Model) Mode() Mode { return m.mode }

// Version is embedded in every prediction and response.
func (m *Model) Version() string { return m.version }

// Features returns the column order the model consumes.
func (m *Model) Features() []string { return slices.Clone(domain.FeatureNames) }

// PredictBatch scores cells in order. A cell whose feature vector is
// malformed is left out of the predictions and reported as skipped; the rest
// of the batch is unaffected.
func (m *Model) PredictBatch(cells []domain.CellFeatures) ([]domain.Prediction, []domain.SkippedCell) {
	preds := make([]domain.Prediction, 0, len(cells))
	var skipped []domain.SkippedCell
	for _, c := range cells {
		p, err := m.Predict(c)
		if err != nil {
			skipped = append(skipped, domain.SkippedCell{CellID: c.Cell.ID, Reason: err.Error()})
			continue
		}
		preds = append(preds, p)
	}
	return preds, skipped
}

// Predict scores a single cell.
func (m *Model) Predict(c domain.CellFeatures) (domain.Prediction, error) {
	if err := c.Features.Validate(); err != nil {
		return domain.Prediction{}, domain.NewPredictionError(c.Cell.ID, err.Error())
	}
	d := domain.Derive(c.Features)

	var (
		raw    float64
		groups map[domain.FeatureGroup]float64
	)
	if m.mode == ModeLoaded {
		bias, contrib := m.ensemble.Contributions(d.Values())
		raw = bias + floats.Sum(contrib)
		groups = groupContributions(contrib)
	} else {
		raw = HeuristicScore(d)
		groups = heuristicAttribution(d)
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return domain.Prediction{}, domain.NewPredictionError(c.Cell.ID, "model produced a non-finite score")
	}

	score := round2(clampScore(raw))
	attribution := normalize(groups)
	return domain.Prediction{
		CellID:       c.Cell.ID,
		RiskScore:    score,
		RiskLevel:    domain.LevelFor(score),
		Attribution:  attribution,
		Explanation:  Explain(attribution),
		Confidence:   m.confidence(score, c.Imputed),
		ModelVersion: m.version,
	}, nil
}

func (m *Model) confidence(score float64, imputed int) float64 {
	c := 1.0 - imputedPenalty*float64(imputed)
	for _, b := range domain.RiskLevelBoundaries {
		if math.Abs(score-b) <= boundaryMargin {
			c -= boundaryPenalty
			break
		}
	}
	if m.mode == ModeFallback {
		c -= fallbackPenalty
	}
	return round2(clamp01(c))
}

// groupContributions sums absolute per-feature contributions by group.
func groupContributions(contrib []float64) map[domain.FeatureGroup]float64 {
	groups := make(map[domain.FeatureGroup]float64, len(domain.FeatureGroups))
	for i, c := range contrib {
		g, ok := domain.GroupOf(domain.FeatureNames[i])
		if !ok {
			continue
		}
		groups[g] += math.Abs(c)
	}
	return groups
}

// normalize scales group magnitudes to percentages summing to 100 and orders
// them largest first. Groups with no contribution are left out. When every
// magnitude is zero the share is split evenly.
func normalize(groups map[domain.FeatureGroup]float64) []domain.Contribution {
	total := 0.0
	for _, v := range groups {
		total += v
	}
	out := make([]domain.Contribution, 0, len(domain.FeatureGroups))
	for _, g := range domain.FeatureGroups {
		share := 100 / float64(len(domain.FeatureGroups))
		if total > 0 {
			if groups[g] <= 0 {
				continue
			}
			share = 100 * groups[g] / total
		}
		out = append(out, domain.Contribution{Group: g, Percent: math.Round(share*10) / 10})
	}
	slices.SortStableFunc(out, func(a, b domain.Contribution) int {
		switch {
		case a.Percent > b.Percent:
			return -1
		case a.Percent < b.Percent:
			return 1
		}
		return 0
	})
	return out
}

// Explain renders the leading contributions, e.g.
// "65% vegetation density + 20% boundary proximity + 15% historical incidents".
func Explain(attribution []domain.Contribution) string {
	parts := make([]string, 0, explanationParts)
	for _, c := range attribution {
		if len(parts) == explanationParts {
			break
		}
		parts = append(parts, fmt.Sprintf("%.0f%% %s", c.Percent, c.Group.Label()))
	}
	return strings.Join(parts, " + ")
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
