package registry_test

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
	"github.com/couchcryptid/climate-health-engine/internal/features"
	"github.com/couchcryptid/climate-health-engine/internal/model"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/peak"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	root    string
	store   *filestore.Store
	reg     *registry.Registry
	metrics *observability.Metrics
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))
	store, err := filestore.New(root, time.Hour, 3, clock, discardLogger())
	require.NoError(t, err)
	metrics := observability.NewMetricsForTesting()
	return &fixture{
		root:    root,
		store:   store,
		reg:     registry.New(store, discardLogger(), metrics, clock),
		metrics: metrics,
		clock:   clock,
	}
}

var testSchema = features.NewSchema([]string{"Delhi", "Mumbai"}, []string{"Heatwave"})

func testScaler(group domain.Family) *model.Scaler {
	cols := testSchema.Columns()
	s := &model.Scaler{Group: group, SchemaVersion: testSchema.Version, Columns: cols}
	for range cols {
		s.Means = append(s.Means, 0)
		s.Scales = append(s.Scales, 1)
	}
	return s
}

func testModel(target domain.Target) *model.Model {
	return &model.Model{
		Target:        target,
		Kind:          model.KindFor(target),
		Group:         target.Family(),
		SchemaVersion: testSchema.Version,
		Intercept:     1,
		Weights:       make([]float64, testSchema.Width()),
		Metric:        model.MetricR2,
		Score:         0.5,
	}
}

// commitSet publishes a set with scalers for every family and models for targets.
func commitSet(t *testing.T, f *fixture, targets ...domain.Target) string {
	t.Helper()
	ctx := context.Background()
	b, err := f.reg.Begin(ctx)
	require.NoError(t, err)
	defer b.Abort(ctx)

	require.NoError(t, b.SaveSchema(testSchema))
	for _, g := range domain.Families {
		require.NoError(t, b.SaveScaler(testScaler(g)))
	}
	for _, tgt := range targets {
		require.NoError(t, b.SaveModel(tgt, testModel(tgt), tgt.Family()))
	}
	require.NoError(t, b.SaveProfile(peak.Profile{
		PeakMonths: map[domain.Target]time.Month{domain.HighHeatRisk: time.May},
	}))
	require.NoError(t, b.SaveMetadata(registry.RunMetadata{
		TrainedAt:   f.clock.Now(),
		DatasetSize: 42,
		Skipped:     map[domain.Target]string{domain.HighFloodRisk: "labels have a single value"},
	}))
	require.NoError(t, b.Commit(ctx))
	return b.Version()
}

func TestRegistry_NotReadyBeforeRefresh(t *testing.T) {
	f := newFixture(t)
	require.Error(t, f.reg.CheckReadiness(context.Background()))
	assert.Empty(t, f.reg.Snapshot().AvailableTargets())
}

func TestRegistry_RefreshWithoutArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reg.Refresh(ctx))
	require.NoError(t, f.reg.CheckReadiness(ctx))

	snap := f.reg.Snapshot()
	assert.Empty(t, snap.Version())
	assert.Empty(t, snap.AvailableTargets())

	_, _, err := snap.Load(domain.BedsNeeded)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RegistryRefreshes.WithLabelValues("empty")))
}

func TestRegistry_CommitAndRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	version := commitSet(t, f, domain.HighHeatRisk, domain.BedsNeeded, domain.RespIssues)

	require.NoError(t, f.reg.Refresh(ctx))
	snap := f.reg.Snapshot()

	assert.Equal(t, version, snap.Version())
	assert.Equal(t, []domain.Target{domain.HighHeatRisk, domain.RespIssues, domain.BedsNeeded}, snap.AvailableTargets())

	m, s, err := snap.Load(domain.BedsNeeded)
	require.NoError(t, err)
	assert.Equal(t, domain.BedsNeeded, m.Target)
	assert.Equal(t, domain.FamilyCapacity, s.Group)
	assert.Equal(t, m.SchemaVersion, s.SchemaVersion)

	_, ok := snap.Builder().Schema(testSchema.Version)
	assert.True(t, ok, "snapshot builder knows the stored vocabulary")
	assert.Equal(t, testSchema, snap.Schema())
	assert.Equal(t, time.May, snap.Profile().PeakMonths[domain.HighHeatRisk])

	md := snap.Metadata()
	assert.Equal(t, version, md.RunID)
	assert.Equal(t, 42, md.DatasetSize)
	assert.Contains(t, md.Skipped, domain.HighFloodRisk)

	_, _, err = snap.Load(domain.HighFloodRisk)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.reg.Refresh(ctx))
	assert.Same(t, snap, f.reg.Snapshot(), "unchanged version keeps the memoized snapshot")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RegistryRefreshes.WithLabelValues("unchanged")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ArtifactsLoaded))
}

func TestRegistry_CorruptModelIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	version := commitSet(t, f, domain.HeatStressCases, domain.FloodInjuries)

	path := filepath.Join(f.root, "versions", version, "models", "flood_injuries.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	require.NoError(t, f.reg.Refresh(ctx))
	snap := f.reg.Snapshot()

	assert.Equal(t, []domain.Target{domain.HeatStressCases, domain.FloodInjuries}, snap.AvailableTargets())

	_, _, err := snap.Load(domain.FloodInjuries)
	require.ErrorIs(t, err, domain.ErrArtifactCorrupt)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = snap.Load(domain.HeatStressCases)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ArtifactsCorrupt))
}

func TestRegistry_RefreshRetriesCorruptArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	version := commitSet(t, f, domain.HeatStressCases, domain.FloodInjuries)

	path := filepath.Join(f.root, "versions", version, "models", "flood_injuries.json")
	good, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	require.NoError(t, f.reg.Refresh(ctx))
	_, _, err = f.reg.Snapshot().Load(domain.FloodInjuries)
	require.ErrorIs(t, err, domain.ErrArtifactCorrupt)

	require.NoError(t, os.WriteFile(path, good, 0o644))
	require.NoError(t, f.reg.Refresh(ctx))

	assert.Equal(t, version, f.reg.Snapshot().Version())
	_, _, err = f.reg.Snapshot().Load(domain.FloodInjuries)
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ArtifactsCorrupt))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.RegistryRefreshes.WithLabelValues("loaded")))

	require.NoError(t, f.reg.Refresh(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RegistryRefreshes.WithLabelValues("unchanged")),
		"a healthy snapshot is not reloaded")
}

func TestRegistry_MissingScalerMarksGroupCorrupt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	version := commitSet(t, f, domain.HighRespRisk, domain.StaffNeeded)

	require.NoError(t, os.Remove(filepath.Join(f.root, "versions", version, "scalers", "risk.json")))
	require.NoError(t, f.reg.Refresh(ctx))

	_, _, err := f.reg.Snapshot().Load(domain.HighRespRisk)
	require.ErrorIs(t, err, domain.ErrArtifactCorrupt)
	_, _, err = f.reg.Snapshot().Load(domain.StaffNeeded)
	require.NoError(t, err)
}

func TestRegistry_BrokenPointerKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	version := commitSet(t, f, domain.BedsNeeded)
	require.NoError(t, f.reg.Refresh(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "CURRENT"), []byte("../../x"), 0o644))

	require.Error(t, f.reg.Refresh(ctx))
	assert.Equal(t, version, f.reg.Snapshot().Version())
}

func TestBatch_CommitRejectsModelWithoutScaler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.reg.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SaveSchema(testSchema))
	require.NoError(t, b.SaveModel(domain.BedsNeeded, testModel(domain.BedsNeeded), domain.FamilyCapacity))

	require.Error(t, b.Commit(ctx))
	_, err = f.store.Current(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound, "nothing is published")

	assert.ErrorIs(t, b.SaveSchema(testSchema), registry.ErrBatchClosed)

	b2, err := f.reg.Begin(ctx)
	require.NoError(t, err, "a failed commit releases the lock")
	b2.Abort(ctx)
}

func TestBatch_CommitRejectsSchemaDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.reg.Begin(ctx)
	require.NoError(t, err)
	defer b.Abort(ctx)

	require.NoError(t, b.SaveSchema(testSchema))
	drifted := testScaler(domain.FamilyDisease)
	drifted.Columns[len(drifted.Columns)-1] = "event=Cyclone"
	require.NoError(t, b.SaveScaler(drifted))

	require.ErrorIs(t, b.Commit(ctx), domain.ErrSchemaMismatch)
}

func TestBatch_SaveModelValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.reg.Begin(ctx)
	require.NoError(t, err)
	defer b.Abort(ctx)

	assert.Error(t, b.SaveModel(domain.BedsNeeded, testModel(domain.BedsNeeded), domain.FamilyRisk))
	assert.Error(t, b.SaveModel(domain.BedsNeeded, testModel(domain.ICUNeeded), domain.FamilyCapacity))
	assert.Error(t, b.SaveModel(domain.BedsNeeded, nil, domain.FamilyCapacity))
}

func TestRegistry_SecondTrainerIsLockedOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := registry.New(f.store, discardLogger(), observability.NewMetricsForTesting(), f.clock)

	b, err := f.reg.Begin(ctx)
	require.NoError(t, err)

	_, err = other.Begin(ctx)
	require.ErrorIs(t, err, filestore.ErrLocked)

	b.Abort(ctx)
	b2, err := other.Begin(ctx)
	require.NoError(t, err)
	b2.Abort(ctx)
}
