// Package registry owns the persisted artifact namespace: it stages and
// publishes artifact sets for training runs and serves an immutable, atomically
// swapped snapshot of the current set to the prediction path.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/features"
	"github.com/couchcryptid/climate-health-engine/internal/model"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/peak"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Registry stages artifact sets for training and serves snapshots for prediction.
type Registry struct {
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	// training serializes in-process runs; the store lock covers other processes.
	training sync.Mutex
	// refreshing keeps concurrent Refresh calls from loading the same version twice.
	refreshing sync.Mutex
	current    atomic.Pointer[Snapshot]
	loaded     atomic.Bool
}

// New creates a Registry over store. The serving snapshot starts empty until
// Refresh succeeds.
func New(store Store, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Registry {
	r := &Registry{store: store, logger: logger, metrics: metrics, clock: clock}
	r.current.Store(emptySnapshot(clock.Now()))
	return r
}

// Begin takes the exclusive training lock and returns a batch staged under a
// fresh run ID. The caller must Commit or Abort it.
func (r *Registry) Begin(ctx context.Context) (*Batch, error) {
	r.training.Lock()
	unlockStore, err := r.store.Lock(ctx)
	if err != nil {
		r.training.Unlock()
		return nil, fmt.Errorf("lock artifact store: %w", err)
	}

	b := &Batch{
		reg:     r,
		version: uuid.NewString(),
		models:  make(map[domain.Target]*model.Model),
		scalers: make(map[domain.Family]*model.Scaler),
	}
	b.unlock = func() {
		if err := unlockStore(); err != nil {
			r.logger.Warn("release artifact store lock failed", "error", err)
		}
		r.training.Unlock()
	}
	return b, nil
}

// Snapshot returns the current serving snapshot. It never returns nil.
func (r *Registry) Snapshot() *Snapshot { return r.current.Load() }

// CheckReadiness reports ready once a refresh has succeeded, including one
// that found no published artifacts.
func (r *Registry) CheckReadiness(_ context.Context) error {
	if !r.loaded.Load() {
		return errors.New("artifact registry has not been loaded yet")
	}
	return nil
}

// Refresh loads the published artifact set into a new snapshot and swaps it
// in. An unchanged version is reloaded only while some of its artifacts are
// marked corrupt. A failure to read the store pointer keeps the previous
// snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshing.Lock()
	defer r.refreshing.Unlock()

	version, err := r.store.Current(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		if r.Snapshot().Version() != "" || !r.loaded.Load() {
			r.logger.Info("no published artifacts, serving rule-based estimates")
		}
		r.swap(emptySnapshot(r.clock.Now()))
		r.metrics.RegistryRefreshes.WithLabelValues("empty").Inc()
		return nil
	}
	if err != nil {
		r.metrics.RegistryRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("read current artifact version: %w", err)
	}
	if cur := r.Snapshot(); version == cur.Version() && len(cur.corrupt) == 0 && r.loaded.Load() {
		r.metrics.RegistryRefreshes.WithLabelValues("unchanged").Inc()
		return nil
	}

	snap, err := r.load(ctx, version)
	if err != nil {
		r.metrics.RegistryRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("load artifact version %s: %w", version, err)
	}
	r.swap(snap)
	r.metrics.RegistryRefreshes.WithLabelValues("loaded").Inc()
	r.logger.Info("artifact snapshot loaded",
		"version", snap.version,
		"models", len(snap.models),
		"corrupt", len(snap.corrupt),
	)
	return nil
}

func (r *Registry) swap(s *Snapshot) {
	r.current.Store(s)
	r.loaded.Store(true)
	r.metrics.ArtifactsLoaded.Set(float64(len(s.models)))
	r.metrics.ArtifactsCorrupt.Set(float64(len(s.corrupt)))
}

// load reads every artifact of version. Only a failure to list the version
// is returned; unreadable individual artifacts are recorded per target.
func (r *Registry) load(ctx context.Context, version string) (*Snapshot, error) {
	snap := emptySnapshot(r.clock.Now())
	snap.version = version

	modelFiles, err := r.store.List(ctx, version, modelsDir)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	schemaErr := r.readJSON(ctx, version, schemaFile, &snap.schema)
	if schemaErr == nil && !snap.schema.Valid() {
		schemaErr = fmt.Errorf("%w: schema version does not match vocabulary", domain.ErrArtifactCorrupt)
	}
	if schemaErr == nil {
		snap.builder.Register(snap.schema)
	} else {
		r.logger.Warn("feature schema unusable, models in this set will fall back", "version", version, "error", schemaErr)
	}

	scalerErrs := make(map[domain.Family]error, len(domain.Families))
	for _, g := range domain.Families {
		var s model.Scaler
		err := r.readJSON(ctx, version, scalerName(string(g)), &s)
		if err == nil {
			err = s.Validate()
		}
		if err == nil && s.Group != g {
			err = fmt.Errorf("scaler file for %s holds group %s", g, s.Group)
		}
		if err == nil && schemaErr == nil {
			if s.SchemaVersion != snap.schema.Version {
				err = fmt.Errorf("%w: scaler %s fit on %s", domain.ErrSchemaMismatch, g, s.SchemaVersion)
			} else {
				err = features.CheckColumns(snap.schema.Columns(), s.Columns)
			}
		}
		if err != nil {
			scalerErrs[g] = err
			continue
		}
		snap.scalers[g] = &s
	}

	for _, name := range modelFiles {
		target := domain.Target(strings.TrimSuffix(name, artifactFileExt))
		if !strings.HasSuffix(name, artifactFileExt) || !target.Valid() {
			r.logger.Warn("ignoring unknown artifact", "version", version, "file", name)
			continue
		}
		m, err := r.loadModel(ctx, version, target, snap, schemaErr, scalerErrs)
		if err != nil {
			snap.corrupt[target] = fmt.Errorf("model %s: %w: %v", target, domain.ErrArtifactCorrupt, err)
			r.logger.Warn("model artifact unusable", "version", version, "target", target, "error", err)
			continue
		}
		snap.models[target] = m
	}

	if err := r.readJSON(ctx, version, profileFile, &snap.profile); err != nil {
		r.logger.Warn("peak profile unavailable", "version", version, "error", err)
		snap.profile = peak.Profile{}
	}
	if err := r.readJSON(ctx, version, metadataFile, &snap.metadata); err != nil {
		r.logger.Warn("run metadata unavailable", "version", version, "error", err)
		snap.metadata = RunMetadata{RunID: version}
	}
	return snap, nil
}

func (r *Registry) loadModel(ctx context.Context, version string, target domain.Target, snap *Snapshot, schemaErr error, scalerErrs map[domain.Family]error) (*model.Model, error) {
	var m model.Model
	if err := r.readJSON(ctx, version, modelName(string(target)), &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Target != target {
		return nil, fmt.Errorf("file holds model for %s", m.Target)
	}
	if schemaErr != nil {
		return nil, fmt.Errorf("schema: %w", schemaErr)
	}
	if err, ok := scalerErrs[target.Family()]; ok {
		return nil, fmt.Errorf("scaler: %w", err)
	}
	s := snap.scalers[target.Family()]
	if m.Group != s.Group || m.SchemaVersion != s.SchemaVersion || len(m.Weights) != len(s.Columns) {
		return nil, fmt.Errorf("%w: model and scaler disagree", domain.ErrSchemaMismatch)
	}
	return &m, nil
}

func (r *Registry) readJSON(ctx context.Context, version, name string, v any) error {
	data, err := r.store.Get(ctx, version, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
