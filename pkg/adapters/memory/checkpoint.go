package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// Checkpoints implements ports.CheckpointStore in memory.
type Checkpoints struct {
	mu    sync.RWMutex
	snaps map[string]map[string]*domain.ProcessState
}

// NewCheckpoints creates an empty checkpoint store.
func NewCheckpoints() *Checkpoints {
	return &Checkpoints{snaps: make(map[string]map[string]*domain.ProcessState)}
}

// Upload stores a copy of state under label.
func (c *Checkpoints) Upload(ctx context.Context, state *domain.ProcessState, label string) error {
	copied, err := state.Clone()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byLabel, ok := c.snaps[state.ID]
	if !ok {
		byLabel = make(map[string]*domain.ProcessState)
		c.snaps[state.ID] = byLabel
	}
	byLabel[label] = copied
	return nil
}

// Download returns a copy of the snapshot stored under (processID, label).
func (c *Checkpoints) Download(ctx context.Context, processID, label string) (*domain.ProcessState, error) {
	c.mu.RLock()
	snap, ok := c.snaps[processID][label]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.ErrCheckpointNotFound
	}
	return snap.Clone()
}
