package features

import (
	"fmt"
	"strings"
	"sync"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
)

// Vector is a fixed-schema numeric encoding of one observation.
// Columns is shared with the schema and must not be modified.
type Vector struct {
	SchemaVersion string
	Columns       []string
	Values        []float64
}

// Builder encodes observations into vectors for registered schema versions.
// It is safe for concurrent use.
type Builder struct {
	mu      sync.RWMutex
	schemas map[string]registered
}

type registered struct {
	schema  Schema
	columns []string
	regions map[string]int
	events  map[string]int
}

// NewBuilder creates a Builder with the given schemas registered.
func NewBuilder(schemas ...Schema) *Builder {
	b := &Builder{schemas: make(map[string]registered, len(schemas))}
	for _, s := range schemas {
		b.Register(s)
	}
	return b
}

// Register makes s available to Build. Registering the same version again
// is a no-op because versions are derived from the vocabulary.
func (b *Builder) Register(s Schema) {
	reg := registered{
		schema:  s,
		columns: s.Columns(),
		regions: make(map[string]int, len(s.Regions)),
		events:  make(map[string]int, len(s.Events)),
	}
	offset := len(baseColumns)
	for i, r := range s.Regions {
		reg.regions[vocabKey(r)] = offset + i
	}
	offset += len(s.Regions)
	for i, e := range s.Events {
		reg.events[vocabKey(e)] = offset + i
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.schemas[s.Version] = reg
}

// Schema returns the registered schema for version.
func (b *Builder) Schema(version string) (Schema, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reg, ok := b.schemas[version]
	return reg.schema, ok
}

// Build encodes obs using the vocabulary registered for version. Region and
// event names match case-insensitively. Unknown regions and events map to
// all-zero indicators; a nil lagged temperature encodes as 0.
func (b *Builder) Build(obs domain.Observation, version string) (Vector, error) {
	b.mu.RLock()
	reg, ok := b.schemas[version]
	b.mu.RUnlock()
	if !ok {
		return Vector{}, fmt.Errorf("%w: no vocabulary registered for schema %q", domain.ErrSchemaMismatch, version)
	}

	values := make([]float64, len(reg.columns))
	values[0] = obs.Temperature
	values[1] = obs.Precipitation
	values[2] = obs.Humidity
	values[3] = obs.Wind
	values[4] = obs.PM25
	if obs.LaggedTemperature != nil {
		values[5] = *obs.LaggedTemperature
	}
	values[6] = float64(obs.Date.Month())

	if i, ok := reg.regions[vocabKey(obs.RegionID)]; ok {
		values[i] = 1
	}
	if i, ok := reg.events[vocabKey(obs.Event)]; ok {
		values[i] = 1
	}

	return Vector{SchemaVersion: version, Columns: reg.columns, Values: values}, nil
}

func vocabKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// BuildAll encodes every observation with the same schema version.
func (b *Builder) BuildAll(observations []domain.Observation, version string) ([]Vector, error) {
	out := make([]Vector, 0, len(observations))
	for i, o := range observations {
		v, err := b.Build(o, version)
		if err != nil {
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// CheckColumns returns ErrSchemaMismatch unless got equals want exactly,
// same names in the same order.
func CheckColumns(want, got []string) error {
	if len(want) != len(got) {
		return fmt.Errorf("%w: expected %d columns, got %d", domain.ErrSchemaMismatch, len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("%w: column %d is %q, expected %q", domain.ErrSchemaMismatch, i, got[i], want[i])
		}
	}
	return nil
}
