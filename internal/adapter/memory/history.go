// Package memory provides in-process implementations of the history and
// state store ports, used for CSV-backed serving and in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
)

// History holds observations per region ordered by date.
type History struct {
	mu       sync.RWMutex
	byRegion map[string][]domain.Observation
}

// NewHistory creates a History seeded with observations.
func NewHistory(observations []domain.Observation) *History {
	h := &History{byRegion: make(map[string][]domain.Observation)}
	h.Add(observations...)
	return h
}

// Add appends observations, keeping each region sorted by date.
func (h *History) Add(observations ...domain.Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	touched := make(map[string]struct{})
	for _, o := range observations {
		key := regionKey(o.RegionID)
		h.byRegion[key] = append(h.byRegion[key], o)
		touched[key] = struct{}{}
	}
	for key := range touched {
		slices.SortStableFunc(h.byRegion[key], func(a, b domain.Observation) int {
			return a.Date.Compare(b.Date)
		})
	}
}

// Latest returns the newest observation at or before asOf; zero asOf is unbounded.
func (h *History) Latest(_ context.Context, region string, asOf time.Time) (domain.Observation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rows := h.upTo(region, asOf)
	if len(rows) == 0 {
		return domain.Observation{}, fmt.Errorf("observation for %q: %w", region, domain.ErrNotFound)
	}
	return rows[len(rows)-1], nil
}

// Recent returns up to n observations at or before asOf, newest first.
func (h *History) Recent(_ context.Context, region string, asOf time.Time, n int) ([]domain.Observation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rows := h.upTo(region, asOf)
	if n < len(rows) {
		rows = rows[len(rows)-n:]
	}
	out := slices.Clone(rows)
	slices.Reverse(out)
	return out, nil
}

// All returns every stored observation, grouped by region and date ordered.
func (h *History) All() []domain.Observation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.byRegion))
	for k := range h.byRegion {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var out []domain.Observation
	for _, k := range keys {
		out = append(out, h.byRegion[k]...)
	}
	return out
}

func (h *History) upTo(region string, asOf time.Time) []domain.Observation {
	rows := h.byRegion[regionKey(region)]
	if asOf.IsZero() {
		return rows
	}
	i, _ := slices.BinarySearchFunc(rows, asOf, func(o domain.Observation, t time.Time) int {
		if o.Date.After(t) {
			return 1
		}
		return -1
	})
	return rows[:i]
}

func regionKey(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}
