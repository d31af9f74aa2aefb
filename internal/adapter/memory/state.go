package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
)

// StateStore is a mutex-guarded domain.StateStore.
type StateStore struct {
	mu     sync.Mutex
	values map[string][]byte
	lists  map[string][][]byte
}

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		values: make(map[string][]byte),
		lists:  make(map[string][][]byte),
	}
}

func (s *StateStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("state %q: %w", key, domain.ErrNotFound)
	}
	return slices.Clone(v), nil
}

func (s *StateStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = slices.Clone(value)
	return nil
}

func (s *StateStore) Append(_ context.Context, key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], slices.Clone(value))
	return int64(len(s.lists[key])), nil
}

func (s *StateStore) List(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.lists[key]))
	for i, v := range s.lists[key] {
		out[i] = slices.Clone(v)
	}
	return out, nil
}
