package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// TaskFunc defines the signature for a task implementation.
// It receives the invocation request and returns a result, a
// domain.SuspendRequest, or an error.
type TaskFunc func(ctx context.Context, req domain.TaskRequest) (any, error)

// Invoke satisfies ports.Invocable.
func (f TaskFunc) Invoke(ctx context.Context, req domain.TaskRequest) (any, error) {
	return f(ctx, req)
}

// Simple adapts a function that only needs the arguments.
func Simple(fn func(ctx context.Context, args map[string]any) (any, error)) TaskFunc {
	return func(ctx context.Context, req domain.TaskRequest) (any, error) {
		return fn(ctx, req.Args)
	}
}

// Registry manages the available tasks.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]ports.Invocable
}

var _ ports.TaskRegistry = (*Registry)(nil)

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]ports.Invocable),
	}
}

// Register adds a task to the registry.
// If a task with the same name exists, it is overwritten.
func (r *Registry) Register(name string, task ports.Invocable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = task
}

// RegisterFunc is Register for plain functions.
func (r *Registry) RegisterFunc(name string, fn TaskFunc) {
	r.Register(name, fn)
}

// Resolve looks up a task by name.
func (r *Registry) Resolve(name string) (ports.Invocable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[name]
	return task, ok
}

// Names lists the registered tasks in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute looks up a task by name and invokes it outside of any process.
// Returns an error if the task is not found.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	task, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("task not found: %s", name)
	}
	return task.Invoke(ctx, domain.TaskRequest{Task: name, Args: args})
}
