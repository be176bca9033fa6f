package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Exec is the handle a command receives: one lane of one running process.
// It offers the scope, evaluation and frame primitives commands are built on.
type Exec struct {
	r    *run
	lane *domain.Lane
}

// ProcessID returns the ID of the running process.
func (x *Exec) ProcessID() string { return x.r.state.ID }

// Lane returns the lane being driven.
func (x *Exec) Lane() *domain.Lane { return x.lane }

// Top returns the innermost frame.
func (x *Exec) Top() *domain.Frame { return x.lane.Top() }

// Push enters a new scope.
func (x *Exec) Push(f *domain.Frame) { x.lane.Push(f) }

// Now reads the engine clock.
func (x *Exec) Now() time.Time { return x.r.e.clock.Now() }

// Logger returns the engine logger scoped to this lane.
func (x *Exec) Logger() *slog.Logger {
	return x.r.e.logger.With("process_id", x.r.state.ID, "lane_id", x.lane.ID)
}

// Lookup resolves name from the innermost frame up to the nearest root
// frame, then in the shared top-level variables.
func (x *Exec) Lookup(name string) (any, bool) {
	frames := x.lane.Frames
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if v, ok := f.Vars[name]; ok {
			return v, true
		}
		if f.Root {
			break
		}
	}
	return x.r.global(name)
}

// Bind assigns name. The value lands in the nearest frame (up to the root
// frame) that already holds or declares the name; otherwise in the shared
// top-level variables when they hold it; otherwise in the root frame.
func (x *Exec) Bind(name string, v any) {
	frames := x.lane.Frames
	var root *domain.Frame
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if f.Declares(name) {
			f.Vars[name] = v
			return
		}
		if f.Root {
			root = f
			break
		}
	}
	if x.r.setGlobal(name, v) {
		return
	}
	if root == nil {
		root = x.lane.Top()
	}
	if root == nil {
		return
	}
	root.Vars[name] = v
}

// visible flattens the lane's frames up to the root frame, inner scopes
// shadowing outer ones. Shared top-level variables are not included.
func (x *Exec) visible() map[string]any {
	frames := x.lane.Frames
	start := 0
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Root {
			start = i
			break
		}
	}
	out := make(map[string]any)
	for _, f := range frames[start:] {
		for k, v := range f.Vars {
			out[k] = v
		}
	}
	return out
}

// Scope returns the read view handed to evaluators and script runners.
func (x *Exec) Scope() ports.Scope { return laneScope{x: x} }

// Eval evaluates one expression against the lane's scope.
func (x *Exec) Eval(ctx context.Context, expr string) (any, error) {
	return x.r.e.eval.Eval(ctx, expr, x.Scope())
}

// EvalBool evaluates a condition against the lane's scope.
func (x *Exec) EvalBool(ctx context.Context, expr string) (bool, error) {
	return x.r.e.eval.EvalBool(ctx, expr, x.Scope())
}

// EvalValue evaluates expressions embedded in v: strings are evaluated,
// maps and lists recursively, other values pass through.
func (x *Exec) EvalValue(ctx context.Context, v any) (any, error) {
	switch t := v.(type) {
	case string:
		if !strings.Contains(t, "${") {
			return t, nil
		}
		return x.Eval(ctx, t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			ev, err := x.EvalValue(ctx, item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			ev, err := x.EvalValue(ctx, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

// EvalArgs evaluates an input mapping.
func (x *Exec) EvalArgs(ctx context.Context, in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		ev, err := x.EvalValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

// Requeue puts id back at the head of the top frame, so the command runs
// again the next time the lane is driven.
func (x *Exec) Requeue(id string) {
	if top := x.lane.Top(); top != nil {
		top.Splice(id)
	}
}

type laneScope struct {
	x *Exec
}

func (s laneScope) Lookup(name string) (any, bool) {
	return s.x.Lookup(name)
}

func (s laneScope) Flatten() map[string]any {
	out := s.x.r.globals()
	for k, v := range s.x.visible() {
		out[k] = v
	}
	return out
}
