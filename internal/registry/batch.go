package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/features"
	"github.com/couchcryptid/climate-health-engine/internal/model"
	"github.com/couchcryptid/climate-health-engine/internal/peak"
)

// RunMetadata describes the training run that produced an artifact set.
type RunMetadata struct {
	RunID       string                   `json:"run_id"`
	TrainedAt   time.Time                `json:"trained_at"`
	DatasetSize int                      `json:"dataset_size"`
	Regions     []string                 `json:"regions"`
	Scores      map[domain.Target]Score  `json:"scores"`
	Skipped     map[domain.Target]string `json:"skipped,omitempty"`
}

// Score is the holdout evaluation recorded for one trained target.
type Score struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// ErrBatchClosed is returned when a committed or aborted batch is reused.
var ErrBatchClosed = errors.New("artifact batch already closed")

// Batch stages one artifact set under the registry's exclusive lock. Nothing
// is visible to readers until Commit publishes it.
type Batch struct {
	reg     *Registry
	version string
	unlock  func()
	closed  bool

	schema   *features.Schema
	models   map[domain.Target]*model.Model
	scalers  map[domain.Family]*model.Scaler
	profile  *peak.Profile
	metadata *RunMetadata
}

// Version is the run ID the batch will publish under.
func (b *Batch) Version() string { return b.version }

// SaveModel stages the model for target. group names the scaler the model's
// inputs were produced with and must be the target's family.
func (b *Batch) SaveModel(target domain.Target, m *model.Model, group domain.Family) error {
	if b.closed {
		return ErrBatchClosed
	}
	if m == nil {
		return fmt.Errorf("save model %s: nil model", target)
	}
	if m.Target != target {
		return fmt.Errorf("save model %s: model is for %s", target, m.Target)
	}
	if group != target.Family() {
		return fmt.Errorf("save model %s: group %q is not the target's family", target, group)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("save model %s: %w", target, err)
	}
	m.Group = group
	b.models[target] = m
	return nil
}

// SaveScaler stages the scaler shared by a family's models.
func (b *Batch) SaveScaler(s *model.Scaler) error {
	if b.closed {
		return ErrBatchClosed
	}
	if s == nil {
		return errors.New("save scaler: nil scaler")
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("save scaler: %w", err)
	}
	b.scalers[s.Group] = s
	return nil
}

// SaveSchema stages the feature vocabulary every model in the set was fit on.
func (b *Batch) SaveSchema(s features.Schema) error {
	if b.closed {
		return ErrBatchClosed
	}
	if !s.Valid() {
		return fmt.Errorf("save schema: version %q does not match vocabulary", s.Version)
	}
	b.schema = &s
	return nil
}

// SaveProfile stages the seasonal peak profile.
func (b *Batch) SaveProfile(p peak.Profile) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.profile = &p
	return nil
}

// SaveMetadata stages the run record. RunID is forced to the batch version.
func (b *Batch) SaveMetadata(md RunMetadata) error {
	if b.closed {
		return ErrBatchClosed
	}
	md.RunID = b.version
	b.metadata = &md
	return nil
}

// Commit validates the staged set, writes it, and publishes it as current.
// Every model must have its group's scaler, and model, scaler and schema
// must agree on the schema version and column order.
func (b *Batch) Commit(ctx context.Context) error {
	if b.closed {
		return ErrBatchClosed
	}
	defer b.release()

	if err := b.validate(); err != nil {
		b.discard(ctx)
		return fmt.Errorf("commit %s: %w", b.version, err)
	}
	if err := b.write(ctx); err != nil {
		b.discard(ctx)
		return fmt.Errorf("commit %s: %w", b.version, err)
	}
	if err := b.reg.store.Publish(ctx, b.version); err != nil {
		b.discard(ctx)
		return fmt.Errorf("commit %s: publish: %w", b.version, err)
	}
	b.reg.logger.Info("artifact set committed",
		"version", b.version,
		"models", len(b.models),
		"scalers", len(b.scalers),
	)
	return nil
}

// Abort drops the staged set and releases the lock. It is safe to call after
// Commit, in which case it does nothing.
func (b *Batch) Abort(ctx context.Context) {
	if b.closed {
		return
	}
	b.discard(ctx)
	b.release()
}

func (b *Batch) validate() error {
	if b.schema == nil {
		return errors.New("no schema staged")
	}
	cols := b.schema.Columns()
	for g, s := range b.scalers {
		if s.SchemaVersion != b.schema.Version {
			return fmt.Errorf("scaler %s: %w: fit on %s, schema is %s", g, domain.ErrSchemaMismatch, s.SchemaVersion, b.schema.Version)
		}
		if err := features.CheckColumns(cols, s.Columns); err != nil {
			return fmt.Errorf("scaler %s: %w", g, err)
		}
	}
	for t, m := range b.models {
		s, ok := b.scalers[m.Group]
		if !ok {
			return fmt.Errorf("model %s: no %s scaler staged", t, m.Group)
		}
		if m.SchemaVersion != s.SchemaVersion {
			return fmt.Errorf("model %s: %w: fit on %s, scaler on %s", t, domain.ErrSchemaMismatch, m.SchemaVersion, s.SchemaVersion)
		}
		if len(m.Weights) != len(s.Columns) {
			return fmt.Errorf("model %s: %w: %d weights for %d columns", t, domain.ErrSchemaMismatch, len(m.Weights), len(s.Columns))
		}
	}
	return nil
}

func (b *Batch) write(ctx context.Context) error {
	put := func(name string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		return b.reg.store.Put(ctx, b.version, name, data)
	}

	if err := put(schemaFile, b.schema); err != nil {
		return err
	}
	groups := make([]domain.Family, 0, len(b.scalers))
	for g := range b.scalers {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	for _, g := range groups {
		if err := put(scalerName(string(g)), b.scalers[g]); err != nil {
			return err
		}
	}
	for _, t := range domain.AllTargets() {
		m, ok := b.models[t]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := put(modelName(string(t)), m); err != nil {
			return err
		}
	}

	profile := peak.Profile{}
	if b.profile != nil {
		profile = *b.profile
	}
	if err := put(profileFile, profile); err != nil {
		return err
	}

	md := RunMetadata{RunID: b.version, TrainedAt: b.reg.clock.Now().UTC()}
	if b.metadata != nil {
		md = *b.metadata
	}
	return put(metadataFile, md)
}

func (b *Batch) discard(ctx context.Context) {
	if err := b.reg.store.Discard(ctx, b.version); err != nil {
		b.reg.logger.Warn("discard staged artifacts failed", "version", b.version, "error", err)
	}
}

func (b *Batch) release() {
	if b.closed {
		return
	}
	b.closed = true
	b.unlock()
}
