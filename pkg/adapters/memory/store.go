package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.ProcessState
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.ProcessState),
	}
}

// Save persists a deep copy of the state, so later mutations by the caller
// do not leak into the store (the same isolation serialization gives).
func (s *Store) Save(ctx context.Context, processID string, state *domain.ProcessState) error {
	copied, err := state.Clone()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[processID] = copied
	return nil
}

// Load retrieves a copy of the state.
func (s *Store) Load(ctx context.Context, processID string) (*domain.ProcessState, error) {
	s.mu.RLock()
	state, ok := s.data[processID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProcessNotFound
	}
	return state.Clone()
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, processID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, processID)
	return nil
}

// List returns the stored process IDs in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
