package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var trainedAt = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

func testEvent() domain.ArtifactsUpdated {
	return domain.ArtifactsUpdated{
		RunID:     "run-1",
		TrainedAt: trainedAt,
		Trained:   []domain.Target{domain.HighHeatRisk, domain.BedsNeeded},
		Skipped:   []domain.Target{domain.HighFloodRisk},
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(testEvent())
	require.NoError(t, err)

	assert.Equal(t, []byte("run-1"), msg.Key)
	assert.JSONEq(t, `{
		"run_id": "run-1",
		"trained_at": "2024-06-01T02:00:00Z",
		"trained": ["high_heat_risk", "beds_needed"],
		"skipped": ["high_flood_risk"]
	}`, string(msg.Value))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, headerEventType, msg.Headers[0].Key)
	assert.Equal(t, []byte(eventTypeArtifactsUpdated), msg.Headers[0].Value)
	assert.Equal(t, headerTrainedAt, msg.Headers[1].Key)
	assert.Equal(t, []byte(trainedAt.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestMapMessageToEvent(t *testing.T) {
	msg, err := serializeToMessage(testEvent())
	require.NoError(t, err)
	msg.Topic = "model-artifacts-updated"
	msg.Partition = 2
	msg.Offset = 42

	event, err := mapMessageToEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, testEvent(), event.Update)
	assert.Equal(t, "model-artifacts-updated", event.Topic)
	assert.Equal(t, 2, event.Partition)
	assert.Equal(t, int64(42), event.Offset)
}

func TestMapMessageToEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		msg  kafkago.Message
	}{
		{"invalid json", kafkago.Message{Value: []byte("not-json{{{")}},
		{"missing run id", kafkago.Message{Value: []byte(`{"trained":[]}`)}},
		{"other event type", kafkago.Message{
			Value:   []byte(`{"run_id":"x"}`),
			Headers: []kafkago.Header{{Key: headerEventType, Value: []byte("something-else")}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mapMessageToEvent(tt.msg)
			require.Error(t, err)
		})
	}
}

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisher(t *testing.T) {
	w := &fakeWriter{}
	metrics := observability.NewMetricsForTesting()
	p := &Publisher{writer: w, logger: discardLogger(), metrics: metrics}

	require.NoError(t, p.PublishArtifactsUpdated(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("run-1"), w.msgs[0].Key)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ArtifactEventsPublished))

	w.err = errors.New("broker down")
	err := p.PublishArtifactsUpdated(context.Background(), testEvent())
	require.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ArtifactEventsPublished))
}

type fakeReader struct {
	msgs      []kafkago.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestListener_SkipsMalformedAndCommitsOnRequest(t *testing.T) {
	good, err := serializeToMessage(testEvent())
	require.NoError(t, err)
	good.Offset = 8
	r := &fakeReader{msgs: []kafkago.Message{
		{Offset: 7, Value: []byte("garbage")},
		good,
	}}
	l := &Listener{reader: r, logger: discardLogger()}
	ctx := context.Background()

	event, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", event.Update.RunID)
	assert.Equal(t, []int64{7}, r.committed, "malformed message committed")

	require.NotNil(t, event.Commit)
	require.NoError(t, event.Commit(ctx))
	assert.Equal(t, []int64{7, 8}, r.committed)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.Next(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}
