package registry

import (
	"fmt"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/features"
	"github.com/couchcryptid/climate-health-engine/internal/model"
	"github.com/couchcryptid/climate-health-engine/internal/peak"
)

// Snapshot is an immutable view of one published artifact set. Models and
// scalers in a snapshot always come from the same version.
type Snapshot struct {
	version  string
	loadedAt time.Time
	schema   features.Schema
	builder  *features.Builder
	models   map[domain.Target]*model.Model
	scalers  map[domain.Family]*model.Scaler
	corrupt  map[domain.Target]error
	profile  peak.Profile
	metadata RunMetadata
}

func emptySnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		loadedAt: now,
		builder:  features.NewBuilder(),
		models:   map[domain.Target]*model.Model{},
		scalers:  map[domain.Family]*model.Scaler{},
		corrupt:  map[domain.Target]error{},
	}
}

// Version is the published run ID, or "" when no artifacts exist.
func (s *Snapshot) Version() string { return s.version }

// LoadedAt is when the snapshot was read from the store.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// AvailableTargets lists the targets the published set has an artifact for,
// in family order. Unreadable artifacts are included so callers can record
// the fallback; Load reports why they cannot be used.
func (s *Snapshot) AvailableTargets() []domain.Target {
	out := make([]domain.Target, 0, len(s.models)+len(s.corrupt))
	for _, t := range domain.AllTargets() {
		if _, ok := s.models[t]; ok {
			out = append(out, t)
			continue
		}
		if _, ok := s.corrupt[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Load returns the model for target together with the scaler it was trained
// with. A target without an artifact is domain.ErrNotFound; an unreadable one
// is domain.ErrArtifactCorrupt.
func (s *Snapshot) Load(target domain.Target) (*model.Model, *model.Scaler, error) {
	if err, ok := s.corrupt[target]; ok {
		return nil, nil, err
	}
	m, ok := s.models[target]
	if !ok {
		return nil, nil, fmt.Errorf("model %s: %w", target, domain.ErrNotFound)
	}
	return m, s.scalers[m.Group], nil
}

// Builder encodes observations with the vocabulary of this artifact set.
func (s *Snapshot) Builder() *features.Builder { return s.builder }

// Schema is the vocabulary the set was trained with.
func (s *Snapshot) Schema() features.Schema { return s.schema }

// Profile is the seasonal profile stored with the set.
func (s *Snapshot) Profile() peak.Profile { return s.profile }

// Metadata is the training run record stored with the set.
func (s *Snapshot) Metadata() RunMetadata { return s.metadata }
