package ports

import "context"

// EventDispatcher delivers a resume event to the host owning the process.
// Adapters (HTTP, queues) call it; the facade engine implements it.
type EventDispatcher interface {
	Dispatch(ctx context.Context, processID, event string, payload any) error
}
