//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("climate-health-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// trainingSet is two weeks of Delhi and Mumbai observations with heat labels
// on both sides of the threshold and a varying case count.
func trainingSet() []domain.Observation {
	start := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	var out []domain.Observation
	for _, region := range []string{"Delhi", "Mumbai"} {
		for i := range 14 {
			temp := 30 + float64(i%8)
			heat := 0.0
			if temp > 35 {
				heat = 1
			}
			out = append(out, domain.Observation{
				RegionID:      region,
				Date:          start.AddDate(0, 0, i),
				Temperature:   temp,
				Precipitation: float64(i % 5),
				Humidity:      40 + float64(i),
				Wind:          5,
				PM25:          60 + 4*float64(i),
				Labels: map[domain.Target]float64{
					domain.HighHeatRisk:    heat,
					domain.HeatStressCases: 2 + temp/4 + float64(i%3),
				},
			})
		}
	}
	domain.AttachLaggedTemperature(out)
	return out
}
