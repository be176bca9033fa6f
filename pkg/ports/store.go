package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// StateStore defines the interface for persisting process state.
// It is used on every suspend/resume transition, so a process may resume on
// a different worker than the one that suspended it.
type StateStore interface {
	// Save persists the state under its process ID.
	Save(ctx context.Context, processID string, state *domain.ProcessState) error

	// Load retrieves the state for a given process ID.
	// Returns domain.ErrProcessNotFound if the process does not exist.
	Load(ctx context.Context, processID string) (*domain.ProcessState, error)

	// Delete removes the state for a given process ID.
	Delete(ctx context.Context, processID string) error

	// List returns the IDs of all stored processes.
	List(ctx context.Context) ([]string, error)
}
