package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/config"
	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	headerEventType = "event_type"
	headerTrainedAt = "trained_at"

	eventTypeArtifactsUpdated = "artifacts-updated"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher announces committed artifact sets on the artifact topic.
// It implements training.Notifier.
type Publisher struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Kafka producer for the configured artifact topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaArtifactTopic,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger, metrics: metrics}
}

// PublishArtifactsUpdated writes one event keyed by the run id.
func (p *Publisher) PublishArtifactsUpdated(ctx context.Context, event domain.ArtifactsUpdated) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish artifacts-updated event: %w", err)
	}
	p.metrics.ArtifactEventsPublished.Inc()
	p.logger.Info("artifacts-updated event published", "run_id", event.RunID, "trained", len(event.Trained))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an ArtifactsUpdated event into a Kafka message.
func serializeToMessage(event domain.ArtifactsUpdated) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize artifacts-updated event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: headerEventType, Value: []byte(eventTypeArtifactsUpdated)},
			{Key: headerTrainedAt, Value: []byte(event.TrainedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
