package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
	"github.com/couchcryptid/wildlife-risk-engine/internal/grid"
	"github.com/couchcryptid/wildlife-risk-engine/internal/history"
	"github.com/couchcryptid/wildlife-risk-engine/internal/incidents"
	"github.com/couchcryptid/wildlife-risk-engine/internal/observability"
	"github.com/couchcryptid/wildlife-risk-engine/internal/packager"
)

// Progress stages, in the order they are reported.
const (
	StageInitializing      = "initializing"
	StageGridGeneration    = "grid_generation"
	StageFeatureExtraction = "feature_extraction"
	StageRiskModeling      = "risk_modeling"
	StagePackaging         = "packaging"
	StageComplete          = "complete"
)

// Feature extraction reports progress between these percentages.
const (
	extractionStartPercent = 10
	extractionEndPercent   = 70
)

// Extractor assembles feature vectors for the cells of one analysis.
type Extractor interface {
	Extract(ctx context.Context, req features.Request) ([]domain.CellFeatures, error)
}

// Predictor scores a batch of cells.
type Predictor interface {
	PredictBatch(cells []domain.CellFeatures) ([]domain.Prediction, []domain.SkippedCell)
	Version() string
}

// Publisher announces completed analyses.
type Publisher interface {
	Publish(ctx context.Context, resp *domain.AnalysisResponse) error
}

// Deps are the collaborators of an Analyzer. Publisher and Clock are optional.
type Deps struct {
	Extractor Extractor
	Predictor Predictor
	Packager  *packager.Packager
	History   *history.Store
	Incidents *incidents.Store
	Publisher Publisher
	Clock     clockwork.Clock
}

// Analyzer runs the grid, features, predict, package pipeline for one
// request at a time. Concurrent calls share only the read-only model, the
// atomically swapped incident index and the history store.
type Analyzer struct {
	deps    Deps
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an Analyzer.
func New(deps Deps, logger *slog.Logger, metrics *observability.Metrics) *Analyzer {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.History == nil {
		deps.History = history.NewStore(history.DefaultDepth, history.DefaultMaxAreas)
	}
	if deps.Incidents == nil {
		deps.Incidents = incidents.NewStore(nil)
	}
	return &Analyzer{deps: deps, logger: logger, metrics: metrics}
}

// CheckReadiness returns nil once an incident index has been loaded.
func (a *Analyzer) CheckReadiness(_ context.Context) error {
	if a.deps.Incidents.Load() == nil {
		return errors.New("incident index not loaded")
	}
	return nil
}

// Analyze validates req and produces its response. progress may be nil;
// sends on it never block, so a slow reader misses events rather than
// stalling the analysis. Invalid requests fail before any feature source is
// called.
func (a *Analyzer) Analyze(ctx context.Context, req domain.AnalysisRequest, progress chan<- domain.ProgressEvent) (*domain.AnalysisResponse, error) {
	start := a.deps.Clock.Now()
	id := uuid.NewString()
	emit := func(stage string, percent int, msg string) {
		if progress == nil {
			return
		}
		select {
		case progress <- domain.ProgressEvent{AnalysisID: id, Stage: stage, Percent: percent, Message: msg}:
		default:
		}
	}

	resp, err := a.analyze(ctx, id, req, emit)
	if err != nil {
		outcome := "error"
		switch {
		case domain.IsInputValidation(err):
			outcome = "invalid"
		case ctx.Err() != nil:
			outcome = "cancelled"
		}
		a.metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
		a.logger.Warn("analysis failed", "analysis_id", id, "outcome", outcome, "error", err)
		return nil, err
	}

	a.metrics.AnalysesTotal.WithLabelValues("success").Inc()
	a.metrics.AnalysisDuration.Observe(a.deps.Clock.Since(start).Seconds())
	emit(StageComplete, 100, "")
	return resp, nil
}

func (a *Analyzer) analyze(ctx context.Context, id string, req domain.AnalysisRequest, emit func(string, int, string)) (*domain.AnalysisResponse, error) {
	emit(StageInitializing, 0, "")
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cells, err := grid.Generate(req.AreaOfInterest, req.GridGranularityKm)
	if err != nil {
		return nil, err
	}
	a.metrics.GridCells.Observe(float64(len(cells)))
	emit(StageGridGeneration, extractionStartPercent, fmt.Sprintf("%d cells", len(cells)))
	a.logger.Info("analysis started",
		"analysis_id", id,
		"cells", len(cells),
		"cell_size_km", req.GridGranularityKm,
	)

	freq := features.Request{
		Cells:       cells,
		Area:        req.AreaOfInterest,
		DateRange:   req.DateRange,
		Species:     req.SpeciesFilter,
		ThreatTypes: req.ThreatTypes,
		Progress: func(done, total int) {
			span := extractionEndPercent - extractionStartPercent
			emit(StageFeatureExtraction, extractionStartPercent+span*done/total, "")
		},
	}
	// Assign only a non-nil snapshot so the interface stays nil when no
	// index is loaded.
	if ix := a.deps.Incidents.Load(); ix != nil {
		freq.Incidents = ix
	}

	cellFeatures, err := a.deps.Extractor.Extract(ctx, freq)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emit(StageRiskModeling, extractionEndPercent, "")
	preds, skipped := a.deps.Predictor.PredictBatch(cellFeatures)
	a.metrics.CellsScored.Add(float64(len(preds)))
	a.metrics.CellsSkipped.Add(float64(len(skipped)))
	for _, s := range skipped {
		a.logger.Warn("cell skipped", "analysis_id", id, "cell_id", s.CellID, "reason", s.Reason)
	}

	emit(StagePackaging, 90, "")
	areaKey := AreaKey(req)
	resp := a.deps.Packager.Package(packager.Input{
		AnalysisID:   id,
		Request:      req,
		AreaKey:      areaKey,
		ModelVersion: a.deps.Predictor.Version(),
		GeneratedAt:  a.deps.Clock.Now().UTC(),
		Cells:        cellFeatures,
		Predictions:  preds,
		Skipped:      skipped,
		History:      a.deps.History.Snapshots(areaKey),
	})
	a.deps.History.Record(areaKey, packager.Snapshot(resp, preds))

	a.publish(ctx, resp)
	a.logger.Info("analysis complete",
		"analysis_id", id,
		"scored", len(preds),
		"skipped", len(skipped),
		"average_risk", resp.Summary.AverageRisk,
		"high_risk_cells", resp.Summary.HighRiskCells,
	)
	return resp, nil
}

func (a *Analyzer) publish(ctx context.Context, resp *domain.AnalysisResponse) {
	if a.deps.Publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.deps.Publisher.Publish(pctx, resp); err != nil {
		a.metrics.PublishErrors.Inc()
		a.logger.Warn("publish analysis failed", "analysis_id", resp.Metadata.AnalysisID, "error", err)
	}
}

// AreaKey identifies repeated analyses of the same geometry at the same cell
// size.
func AreaKey(req domain.AnalysisRequest) string {
	return fmt.Sprintf("%s/%dkm", req.AreaOfInterest.Key(), req.GridGranularityKm)
}
