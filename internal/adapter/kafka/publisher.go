package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/wildlife-risk-engine/internal/config"
	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// AnalysisCompleted is the event published for every finished analysis.
type AnalysisCompleted struct {
	AnalysisID           string            `json:"analysis_id"`
	AreaKey              string            `json:"area_key"`
	ModelVersion         string            `json:"model_version"`
	GeneratedAt          time.Time         `json:"generated_at"`
	CellSizeKm           int               `json:"cell_size_km"`
	Summary              domain.Summary    `json:"summary"`
	Priorities           []domain.Priority `json:"priorities"`
	AnomalyCount         int               `json:"anomaly_count"`
	LowerConfidenceCells int               `json:"lower_confidence_cells"`
	SkippedCells         int               `json:"skipped_cells"`
}

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces analysis-completed events to a Kafka topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: cfg.KafkaBatchTimeout,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish serializes the response summary and writes it keyed by analysis ID.
func (p *Publisher) Publish(ctx context.Context, resp *domain.AnalysisResponse) error {
	msg, err := serializeToMessage(resp)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish analysis %s: %w", resp.Metadata.AnalysisID, err)
	}
	p.logger.Debug("analysis published", "analysis_id", resp.Metadata.AnalysisID)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// NewAnalysisCompleted extracts the event payload from a response.
func NewAnalysisCompleted(resp *domain.AnalysisResponse) AnalysisCompleted {
	md := resp.Metadata
	return AnalysisCompleted{
		AnalysisID:           md.AnalysisID,
		AreaKey:              md.AreaKey,
		ModelVersion:         md.ModelVersion,
		GeneratedAt:          md.GeneratedAt,
		CellSizeKm:           md.CellSizeKm,
		Summary:              resp.Summary,
		Priorities:           resp.Priorities,
		AnomalyCount:         len(resp.Anomalies),
		LowerConfidenceCells: len(md.LowerConfidenceCells),
		SkippedCells:         md.SkippedCellCount,
	}
}

// serializeToMessage marshals an analysis-completed event into a Kafka message.
func serializeToMessage(resp *domain.AnalysisResponse) (kafkago.Message, error) {
	event := NewAnalysisCompleted(resp)
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize analysis event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.AnalysisID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "model_version", Value: []byte(event.ModelVersion)},
			{Key: "generated_at", Value: []byte(event.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
