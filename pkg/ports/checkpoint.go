package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// CheckpointStore keeps labelled snapshots of a process for crash recovery.
type CheckpointStore interface {
	// Upload stores a snapshot under (state.ID, label), replacing any earlier one.
	Upload(ctx context.Context, state *domain.ProcessState, label string) error

	// Download returns the snapshot stored under (processID, label).
	// Returns domain.ErrCheckpointNotFound if there is none.
	Download(ctx context.Context, processID, label string) (*domain.ProcessState, error)
}
