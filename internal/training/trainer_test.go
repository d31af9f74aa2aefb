package training_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/adapter/filestore"
	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	"github.com/couchcryptid/climate-health-engine/internal/training"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	events []domain.ArtifactsUpdated
}

func (n *recordingNotifier) PublishArtifactsUpdated(_ context.Context, e domain.ArtifactsUpdated) error {
	n.events = append(n.events, e)
	return nil
}

type harness struct {
	root     string
	reg      *registry.Registry
	trainer  *training.Trainer
	metrics  *observability.Metrics
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.August, 1, 12, 0, 0, 0, time.UTC))
	store, err := filestore.New(root, time.Hour, 3, clock, discardLogger())
	require.NoError(t, err)
	metrics := observability.NewMetricsForTesting()
	reg := registry.New(store, discardLogger(), metrics, clock)
	n := &recordingNotifier{}
	return &harness{
		root:     root,
		reg:      reg,
		trainer:  training.New(reg, training.DefaultOptions, n, clock, discardLogger(), metrics),
		metrics:  metrics,
		notifier: n,
	}
}

// sevenDays is a week of Delhi observations whose heat flag never fires.
func sevenDays() []domain.Observation {
	cases := []float64{5, 8, 12, 20, 3, 9, 11}
	temps := []float64{31, 33, 34, 36, 29, 33, 34}
	out := make([]domain.Observation, len(cases))
	for i := range cases {
		out[i] = domain.Observation{
			RegionID:      "Delhi",
			Date:          time.Date(2024, time.May, 1+i, 0, 0, 0, 0, time.UTC),
			Temperature:   temps[i],
			Precipitation: float64(i),
			Humidity:      40 + float64(i),
			PM25:          80 + 3*float64(i),
			Labels: map[domain.Target]float64{
				domain.HighHeatRisk:    0,
				domain.HeatStressCases: cases[i],
			},
		}
	}
	return out
}

func TestTrain_ZeroVarianceTargetIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	report, err := h.trainer.Train(ctx, sevenDays())
	require.NoError(t, err)

	res, ok := report.Result(domain.HighHeatRisk)
	require.True(t, ok)
	assert.Equal(t, training.StatusSkipped, res.Status)
	assert.Contains(t, report.Skipped(), domain.HighHeatRisk)
	assert.Equal(t, []domain.Target{domain.HeatStressCases}, report.Trained())

	modelDir := filepath.Join(h.root, "versions", report.RunID, "models")
	assert.NoFileExists(t, filepath.Join(modelDir, "high_heat_risk.json"))
	assert.FileExists(t, filepath.Join(modelDir, "heat_stress_cases.json"))

	require.NoError(t, h.reg.Refresh(ctx))
	snap := h.reg.Snapshot()
	assert.Equal(t, []domain.Target{domain.HeatStressCases}, snap.AvailableTargets())
	assert.Contains(t, snap.Metadata().Skipped, domain.HighHeatRisk)
	assert.Equal(t, 7, snap.Metadata().DatasetSize)

	m, s, err := snap.Load(domain.HeatStressCases)
	require.NoError(t, err)
	assert.Equal(t, "r2", m.Metric)
	assert.Equal(t, m.SchemaVersion, s.SchemaVersion)
	assert.Equal(t, snap.Schema().Version, m.SchemaVersion)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TrainingRuns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TrainingTargets.WithLabelValues("trained")))
}

func TestTrain_PublishesArtifactsUpdated(t *testing.T) {
	h := newHarness(t)

	report, err := h.trainer.Train(context.Background(), sevenDays())
	require.NoError(t, err)

	require.Len(t, h.notifier.events, 1)
	e := h.notifier.events[0]
	assert.Equal(t, report.RunID, e.RunID)
	assert.Equal(t, []domain.Target{domain.HeatStressCases}, e.Trained)
	assert.Contains(t, e.Skipped, domain.HighHeatRisk)
}

func TestTrain_ClassifierAndPeakProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var obs []domain.Observation
	for i := 0; i < 60; i++ {
		month := time.Month(1 + i%12)
		temp := 25 + float64(i%20)
		flag := 0.0
		if temp > 35 {
			flag = 1
		}
		obs = append(obs, domain.Observation{
			RegionID:    []string{"Delhi", "Chennai", "Shimla"}[i%3],
			Date:        time.Date(2023, month, 1+i%28, 0, 0, 0, 0, time.UTC),
			Temperature: temp,
			Humidity:    50,
			PM25:        60,
			Labels: map[domain.Target]float64{
				domain.HighHeatRisk: flag,
				domain.BedsNeeded:   40 + temp,
			},
		})
	}

	report, err := h.trainer.Train(ctx, obs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Target{domain.HighHeatRisk, domain.BedsNeeded}, report.Trained())

	res, _ := report.Result(domain.HighHeatRisk)
	assert.Equal(t, "accuracy", res.Metric)
	assert.Equal(t, 48, res.TrainRows)
	assert.Equal(t, 12, res.TestRows)

	res, _ = report.Result(domain.BedsNeeded)
	assert.InDelta(t, 1.0, res.Score, 0.01, "an exact linear label is recovered")

	require.NoError(t, h.reg.Refresh(ctx))
	profile := h.reg.Snapshot().Profile()
	assert.Contains(t, profile.PeakMonths, domain.HighHeatRisk)
	assert.Equal(t, []string{"Chennai", "Delhi", "Shimla"}, h.reg.Snapshot().Metadata().Regions)
}

func TestTrain_EmptyDataset(t *testing.T) {
	h := newHarness(t)
	_, err := h.trainer.Train(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrNoData)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TrainingRuns.WithLabelValues("failed")))
}

func TestTrain_CancelledRunLeavesPreviousSetLive(t *testing.T) {
	h := newHarness(t)
	first, err := h.trainer.Train(context.Background(), sevenDays())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.trainer.Train(ctx, sevenDays())
	require.ErrorIs(t, err, context.Canceled)

	current, err := os.ReadFile(filepath.Join(h.root, "CURRENT"))
	require.NoError(t, err)
	assert.Equal(t, first.RunID+"\n", string(current))

	entries, err := os.ReadDir(filepath.Join(h.root, "versions"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the cancelled run's staging is discarded")
	assert.Len(t, h.notifier.events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TrainingRuns.WithLabelValues("cancelled")))
}
