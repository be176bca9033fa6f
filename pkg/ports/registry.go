package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Invocable is a resolved task.
// A task requests suspension by returning a domain.SuspendRequest as its output.
type Invocable interface {
	Invoke(ctx context.Context, req domain.TaskRequest) (any, error)
}

// TaskRegistry resolves task names.
type TaskRegistry interface {
	// Resolve returns the task registered under name.
	Resolve(name string) (Invocable, bool)
}

// ScriptRunner runs inline scripts of one language.
// The returned value is bound like a task output.
type ScriptRunner interface {
	Run(ctx context.Context, body string, scope Scope, in map[string]any) (any, error)
}
