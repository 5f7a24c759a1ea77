package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/wildlife-risk-engine/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/wildlife-risk-engine/internal/adapter/kafka"
	"github.com/couchcryptid/wildlife-risk-engine/internal/adapter/overpass"
	"github.com/couchcryptid/wildlife-risk-engine/internal/adapter/reffile"
	"github.com/couchcryptid/wildlife-risk-engine/internal/adapter/satellite"
	"github.com/couchcryptid/wildlife-risk-engine/internal/config"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
	"github.com/couchcryptid/wildlife-risk-engine/internal/history"
	"github.com/couchcryptid/wildlife-risk-engine/internal/incidents"
	"github.com/couchcryptid/wildlife-risk-engine/internal/model"
	"github.com/couchcryptid/wildlife-risk-engine/internal/observability"
	"github.com/couchcryptid/wildlife-risk-engine/internal/packager"
	"github.com/couchcryptid/wildlife-risk-engine/internal/pipeline"
	"github.com/couchcryptid/wildlife-risk-engine/internal/retry"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	m := model.Load(cfg.ModelDir, cfg.ModelVersion, logger)
	if m.Mode() == model.ModeFallback {
		metrics.ModelFallback.Set(1)
	}

	index, err := loadIndex(cfg.IncidentsPath, logger)
	if err != nil {
		logger.Error("failed to load incidents", "path", cfg.IncidentsPath, "error", err)
		os.Exit(1)
	}
	metrics.IncidentIndexSize.Set(float64(index.Len()))
	store := incidents.NewStore(index)

	sources, err := buildSources(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build feature sources", "error", err)
		os.Exit(1)
	}

	assembler := features.NewAssembler(sources, features.Config{
		Concurrency:   cfg.FeatureConcurrency,
		RateLimit:     cfg.SourceRateLimit,
		SourceTimeout: cfg.SourceTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			Jitter:      cfg.RetryJitter,
		},
		RuggednessRadiusM: 250,
	}, logger, metrics)

	deps := pipeline.Deps{
		Extractor: assembler,
		Predictor: m,
		Packager:  packager.New(packager.DefaultConfig()),
		History:   history.NewStore(cfg.HistoryDepth, cfg.HistoryMaxAreas),
		Incidents: store,
	}

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		deps.Publisher = publisher
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	analyzer := pipeline.New(deps, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, analyzer, m, analyzer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go reloadOnHangup(ctx, cfg.IncidentsPath, store, logger, metrics)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// loadIndex reads the incident history. A missing file starts the service
// with an empty index so historical features are imputed.
func loadIndex(path string, logger *slog.Logger) (*incidents.Index, error) {
	ix, err := incidents.LoadFile(path, logger)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("incident history not found, starting with an empty index", "path", path)
		return incidents.NewIndex(nil), nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("incident index loaded", "path", path, "records", ix.Len())
	return ix, nil
}

// reloadOnHangup rebuilds the incident index on SIGHUP. In-flight analyses
// keep the snapshot they started with; a failed reload keeps the old index.
func reloadOnHangup(ctx context.Context, path string, store *incidents.Store, logger *slog.Logger, metrics *observability.Metrics) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			ix, err := incidents.LoadFile(path, logger)
			if err != nil {
				metrics.IncidentIndexReload.WithLabelValues("error").Inc()
				logger.Error("incident index reload failed, keeping current index", "path", path, "error", err)
				continue
			}
			store.Swap(ix)
			metrics.IncidentIndexReload.WithLabelValues("success").Inc()
			metrics.IncidentIndexSize.Set(float64(ix.Len()))
			logger.Info("incident index reloaded", "records", ix.Len())
		}
	}
}

func buildSources(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (features.Sources, error) {
	var sources features.Sources

	if cfg.SatelliteURL != "" {
		client := satellite.NewClient(cfg.SatelliteURL, cfg.SatelliteToken, cfg.SatelliteTimeout, logger)
		sources.Vegetation = satellite.NewCachedSource(client, cfg.SatelliteCacheSize, metrics)
		logger.Info("satellite vegetation enabled", "cache_size", cfg.SatelliteCacheSize, "timeout", cfg.SatelliteTimeout)
	} else {
		logger.Info("satellite vegetation disabled, NDVI will be imputed")
	}

	if cfg.DEMPath != "" {
		dem, err := reffile.LoadDEM(cfg.DEMPath)
		if err != nil {
			return sources, err
		}
		sources.Terrain = dem
		logger.Info("elevation model loaded", "path", cfg.DEMPath, "bounds", dem.Bounds())
	} else {
		logger.Info("no elevation model, terrain will be imputed")
	}

	switch {
	case cfg.ReferencePath != "":
		refs, err := reffile.LoadReferences(cfg.ReferencePath)
		if err != nil {
			return sources, err
		}
		sources.References = refs
		logger.Info("reference geometry loaded", "path", cfg.ReferencePath)
	case cfg.OverpassEnabled:
		sources.References = overpass.NewSource(cfg.OverpassEndpoint, cfg.SourceTimeout, logger)
		logger.Info("overpass reference geometry enabled", "endpoint", cfg.OverpassEndpoint)
	default:
		logger.Info("no reference geometry, distances will be imputed")
	}

	return sources, nil
}
