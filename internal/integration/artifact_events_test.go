//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/adapter/filestore"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/kafka"
	"github.com/couchcryptid/climate-health-engine/internal/config"
	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/refresh"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	"github.com/couchcryptid/climate-health-engine/internal/training"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testArtifactTopic = "test-model-artifacts-updated"

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaEnabled:       true,
		KafkaBrokers:       []string{broker},
		KafkaArtifactTopic: testArtifactTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
	}
}

func newRegistry(t *testing.T, root string, clock clockwork.Clock) *registry.Registry {
	t.Helper()
	store, err := filestore.New(root, time.Hour, 3, clock, discardLogger())
	require.NoError(t, err)
	return registry.New(store, discardLogger(), observability.NewMetricsForTesting(), clock)
}

// runLoop starts a refresh loop fed by a Kafka listener and returns a stop
// function that waits for it to exit.
func runLoop(ctx context.Context, t *testing.T, cfg *config.Config, reg *registry.Registry) func() {
	t.Helper()
	listener := kafka.NewListener(cfg, discardLogger())
	loop := refresh.New(listener, reg, 0, clockwork.NewRealClock(), discardLogger(), observability.NewMetricsForTesting())

	loopCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(loopCtx) }()

	return func() {
		cancel()
		require.NoError(t, <-errCh)
		_ = listener.Close()
	}
}

// TestArtifactEventsRefreshServingRegistry trains into a shared artifact
// directory and checks that a separate serving registry picks the new set
// up from the published event.
func TestArtifactEventsRefreshServingRegistry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testArtifactTopic)

	root := t.TempDir()
	clock := clockwork.NewRealClock()
	serving := newRegistry(t, root, clock)
	require.NoError(t, serving.Refresh(ctx))
	require.Empty(t, serving.Snapshot().Version())

	stop := runLoop(ctx, t, testConfig(broker, "test-serving"), serving)
	defer stop()

	publisher := kafka.NewPublisher(testConfig(broker, "test-trainer"), discardLogger(), observability.NewMetricsForTesting())
	t.Cleanup(func() { _ = publisher.Close() })

	trainer := training.New(newRegistry(t, root, clock), training.DefaultOptions, nil, clock, discardLogger(), observability.NewMetricsForTesting())
	report, err := trainer.Train(ctx, trainingSet())
	require.NoError(t, err)
	require.Contains(t, report.Trained(), domain.HeatStressCases)

	event := domain.ArtifactsUpdated{
		RunID:     report.RunID,
		TrainedAt: report.TrainedAt,
		Trained:   report.Trained(),
		Skipped:   report.Skipped(),
	}

	// The listener starts at the newest offset once its group has joined,
	// so keep announcing until the serving side has swapped.
	require.Eventually(t, func() bool {
		if serving.Snapshot().Version() == report.RunID {
			return true
		}
		if err := publisher.PublishArtifactsUpdated(ctx, event); err != nil {
			t.Logf("publish: %v", err)
		}
		return false
	}, 90*time.Second, 2*time.Second)

	snap := serving.Snapshot()
	assert.Contains(t, snap.AvailableTargets(), domain.HeatStressCases)
	assert.Equal(t, []string{"Delhi", "Mumbai"}, snap.Schema().Regions)
}

// TestListenerSkipsMalformedEvents publishes a poison message ahead of a
// valid event and checks that only the valid one is delivered.
func TestListenerSkipsMalformedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testArtifactTopic)

	cfg := testConfig(broker, "test-poison")
	listener := kafka.NewListener(cfg, discardLogger())
	t.Cleanup(func() { _ = listener.Close() })

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testArtifactTopic}
	t.Cleanup(func() { _ = producer.Close() })
	publisher := kafka.NewPublisher(cfg, discardLogger(), observability.NewMetricsForTesting())
	t.Cleanup(func() { _ = publisher.Close() })

	trainedAt := time.Date(2024, time.August, 1, 2, 0, 0, 0, time.UTC)
	got := make(chan domain.ArtifactEvent, 1)
	go func() {
		event, err := listener.Next(ctx)
		if err == nil {
			got <- event
		}
	}()

	// Repeat the pair until the group has joined and the listener sees it.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")}))
		require.NoError(t, publisher.PublishArtifactsUpdated(ctx, domain.ArtifactsUpdated{
			RunID:     "run-1",
			TrainedAt: trainedAt,
			Trained:   []domain.Target{domain.HeatStressCases},
		}))

		select {
		case event := <-got:
			assert.Equal(t, "run-1", event.Update.RunID)
			assert.True(t, trainedAt.Equal(event.Update.TrainedAt))
			assert.Equal(t, testArtifactTopic, event.Topic)
			require.NotNil(t, event.Commit)
			require.NoError(t, event.Commit(ctx))
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("timed out waiting for artifact event")
		}
	}
}
