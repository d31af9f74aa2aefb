package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/climate-health-engine/internal/config"
	"github.com/couchcryptid/climate-health-engine/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageReader is the subset of *kafkago.Reader the listener uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Listener consumes artifact update events.
// It implements refresh.EventSource.
type Listener struct {
	reader messageReader
	logger *slog.Logger
}

// NewListener creates a consumer-group reader for the artifact topic. Each
// serving replica needs its own group id to see every event.
func NewListener(cfg *config.Config, logger *slog.Logger) *Listener {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaArtifactTopic,
		GroupID:     cfg.KafkaGroupID,
		StartOffset: kafkago.LastOffset,
		MinBytes:    1,
		MaxBytes:    1 << 20,
	})
	return &Listener{reader: r, logger: logger}
}

// Next blocks until a decodable event arrives. Messages that are not
// artifacts-updated events are committed and skipped.
func (l *Listener) Next(ctx context.Context) (domain.ArtifactEvent, error) {
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			return domain.ArtifactEvent{}, fmt.Errorf("fetch artifact event: %w", err)
		}

		event, err := mapMessageToEvent(msg)
		if err != nil {
			l.logger.Warn("skipping malformed artifact event",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			if err := l.reader.CommitMessages(ctx, msg); err != nil {
				l.logger.Warn("commit offset failed", "error", err, "offset", msg.Offset)
			}
			continue
		}
		event.Commit = func(ctx context.Context) error {
			return l.reader.CommitMessages(ctx, msg)
		}
		return event, nil
	}
}

func (l *Listener) Close() error {
	return l.reader.Close()
}

// mapMessageToEvent decodes a Kafka message into an ArtifactEvent.
func mapMessageToEvent(msg kafkago.Message) (domain.ArtifactEvent, error) {
	for _, h := range msg.Headers {
		if h.Key == headerEventType && string(h.Value) != eventTypeArtifactsUpdated {
			return domain.ArtifactEvent{}, fmt.Errorf("unexpected event type %q", h.Value)
		}
	}
	var update domain.ArtifactsUpdated
	if err := json.Unmarshal(msg.Value, &update); err != nil {
		return domain.ArtifactEvent{}, fmt.Errorf("decode artifacts-updated event: %w", err)
	}
	if update.RunID == "" {
		return domain.ArtifactEvent{}, errors.New("artifacts-updated event has no run_id")
	}
	return domain.ArtifactEvent{
		Update:    update,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}, nil
}
