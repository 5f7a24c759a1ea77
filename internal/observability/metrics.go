package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wildlife_risk"

// Metrics holds the Prometheus counters, histograms, and gauges for the risk pipeline.
type Metrics struct {
	AnalysesTotal    *prometheus.CounterVec // labels: outcome={success,invalid,cancelled,error}
	AnalysisDuration prometheus.Histogram
	GridCells        prometheus.Histogram
	CellsScored      prometheus.Counter
	CellsSkipped     prometheus.Counter

	// Feature source metrics.
	SourceRequests  *prometheus.CounterVec   // labels: source, outcome={success,error}
	SourceRetries   *prometheus.CounterVec   // labels: source
	SourceDuration  *prometheus.HistogramVec // labels: source
	ImputedFeatures *prometheus.CounterVec   // labels: group
	SatelliteCache  *prometheus.CounterVec   // labels: result={hit,miss}

	// Model and index state.
	ModelFallback       prometheus.Gauge
	IncidentIndexSize   prometheus.Gauge
	IncidentIndexReload *prometheus.CounterVec // labels: outcome={success,error}

	PublishErrors prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.GridCells,
		m.CellsScored,
		m.CellsSkipped,
		m.SourceRequests,
		m.SourceRetries,
		m.SourceDuration,
		m.ImputedFeatures,
		m.SatelliteCache,
		m.ModelFallback,
		m.IncidentIndexSize,
		m.IncidentIndexReload,
		m.PublishErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Risk analyses by outcome.",
		}, []string{"outcome"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of a complete grid-to-package analysis.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		GridCells: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grid_cells",
			Help:      "Number of grid cells per analysis.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000},
		}),
		CellsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_scored_total",
			Help:      "Total cells that received a prediction.",
		}),
		CellsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_skipped_total",
			Help:      "Total cells dropped because their feature vector was malformed.",
		}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_source_requests_total",
			Help:      "External feature source calls by source and outcome, after retries.",
		}, []string{"source", "outcome"}),
		SourceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_source_retries_total",
			Help:      "Retried external feature source attempts.",
		}, []string{"source"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feature_source_duration_seconds",
			Help:      "External feature source call duration including retries.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"source"}),
		ImputedFeatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imputed_features_total",
			Help:      "Features replaced by defaults, by feature group.",
		}, []string{"group"}),
		SatelliteCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "satellite_cache_total",
			Help:      "NDVI raster cache lookups by result.",
		}, []string{"result"}),
		ModelFallback: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_fallback",
			Help:      "1 when predictions come from the heuristic fallback, 0 when a trained model is loaded.",
		}),
		IncidentIndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "incident_index_size",
			Help:      "Incidents in the active historical index.",
		}),
		IncidentIndexReload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_index_reloads_total",
			Help:      "Incident index reloads by outcome.",
		}, []string{"outcome"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Analysis-completed events that failed to publish.",
		}),
	}
}
