package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Model artifact location. ModelVersion "active" follows the ACTIVE pointer.
	ModelDir     string
	ModelVersion string

	IncidentsPath string
	ReferencePath string
	DEMPath       string

	OverpassEnabled  bool
	OverpassEndpoint string

	// Satellite NDVI configuration. An empty URL disables the source.
	SatelliteURL       string
	SatelliteToken     string
	SatelliteTimeout   time.Duration
	SatelliteCacheSize int

	FeatureConcurrency int
	SourceRateLimit    float64
	SourceTimeout      time.Duration
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryJitter        float64

	HistoryDepth    int
	HistoryMaxAreas int

	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaBatchSize    int
	KafkaBatchTimeout time.Duration
}

// LoadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ModelDir:     sharedcfg.EnvOrDefault("MODEL_DIR", "models"),
		ModelVersion: sharedcfg.EnvOrDefault("MODEL_VERSION", "active"),

		IncidentsPath: sharedcfg.EnvOrDefault("INCIDENTS_PATH", "data/incidents.csv"),
		ReferencePath: os.Getenv("REFERENCE_PATH"),
		DEMPath:       os.Getenv("DEM_PATH"),

		OverpassEnabled:  p.bool("OVERPASS_ENABLED", false),
		OverpassEndpoint: sharedcfg.EnvOrDefault("OVERPASS_ENDPOINT", "https://overpass-api.de/api/interpreter"),

		SatelliteURL:       os.Getenv("SATELLITE_URL"),
		SatelliteToken:     os.Getenv("SATELLITE_TOKEN"),
		SatelliteTimeout:   p.duration("SATELLITE_TIMEOUT", 10*time.Second),
		SatelliteCacheSize: p.positiveInt("SATELLITE_CACHE_SIZE", 256),

		FeatureConcurrency: p.positiveInt("FEATURE_CONCURRENCY", 8),
		SourceRateLimit:    p.float("SOURCE_RATE_LIMIT", 20, 0, 0),
		SourceTimeout:      p.duration("SOURCE_TIMEOUT", 5*time.Second),
		RetryMaxAttempts:   p.positiveInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     p.duration("RETRY_BASE_DELAY", 200*time.Millisecond),
		RetryJitter:        p.float("RETRY_JITTER", 0.5, 0, 1),

		HistoryDepth:    p.positiveInt("HISTORY_DEPTH", 4),
		HistoryMaxAreas: p.positiveInt("HISTORY_MAX_AREAS", 1000),

		KafkaEnabled:      p.bool("KAFKA_ENABLED", false),
		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:        sharedcfg.EnvOrDefault("KAFKA_TOPIC", "wildlife-risk-analyses"),
		KafkaBatchSize:    batchSize,
		KafkaBatchTimeout: flushInterval,
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.ModelDir == "" {
		return nil, errors.New("MODEL_DIR is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is empty")
		}
	}
	if cfg.OverpassEnabled && cfg.OverpassEndpoint == "" {
		return nil, errors.New("OVERPASS_ENABLED is true but OVERPASS_ENDPOINT is empty")
	}

	return cfg, nil
}

// parser reads typed variables and keeps the first error, which names the
// offending variable.
type parser struct {
	err error
}

func (p *parser) fail(key, value, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %s", key, value, want)
	}
}

func (p *parser) bool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s, "must be true or false")
		return def
	}
	return v
}

func (p *parser) positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		p.fail(key, s, "must be a positive integer")
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		p.fail(key, s, "must be a positive duration")
		return def
	}
	return v
}

// float parses a non-negative number; hi of 0 means no upper bound.
func (p *parser) float(key string, def, lo, hi float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < lo || (hi > 0 && v > hi) {
		if hi > 0 {
			p.fail(key, s, fmt.Sprintf("must be a number within [%v, %v]", lo, hi))
		} else {
			p.fail(key, s, fmt.Sprintf("must be a number >= %v", lo))
		}
		return def
	}
	return v
}
