package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// TaskCall invokes a registered task with evaluated inputs.
type TaskCall struct {
	meta
	task string
	in   map[string]any
	out  string
}

// NewTaskCall creates a task invocation.
func NewTaskCall(id, step, task string, in map[string]any, out string) *TaskCall {
	return &TaskCall{meta: meta{id: id, step: step}, task: task, in: in, out: out}
}

func (c *TaskCall) Kind() string { return string(domain.KindTaskCall) }

func (c *TaskCall) Run(ctx context.Context, x *Exec) Result {
	inv, ok := x.r.e.tasks.Resolve(c.task)
	if !ok {
		return Fail(domain.Failuref(domain.UnresolvedReferenceFailure, c.step, "unknown task %q", c.task))
	}
	args, err := x.EvalArgs(ctx, c.in)
	if err != nil {
		return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
	}

	req := domain.TaskRequest{
		ProcessID:      x.ProcessID(),
		Task:           c.task,
		Args:           args,
		Attempt:        attempt(x),
		IdempotencyKey: idempotencyKey(x, c.id),
	}
	out, err := invoke(ctx, inv.Invoke, req)
	if err != nil {
		if ctx.Err() != nil {
			x.Requeue(c.id)
			return interrupted()
		}
		return Fail(domain.AsFailure(err, domain.TaskFailure, c.step))
	}

	switch s := out.(type) {
	case domain.SuspendRequest:
		return c.suspend(s)
	case *domain.SuspendRequest:
		if s != nil {
			return c.suspend(*s)
		}
		out = nil
	}
	if c.out != "" {
		x.Bind(c.out, out)
	}
	return Continue()
}

func (c *TaskCall) suspend(s domain.SuspendRequest) Result {
	rec := domain.Suspension{Reason: domain.ReasonTask, Event: s.Event, Bind: c.out, WakeAt: s.WakeAt}
	return Suspend(rec)
}

// invoke calls fn, turning a panic into an error.
func invoke(ctx context.Context, fn func(context.Context, domain.TaskRequest) (any, error), req domain.TaskRequest) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s panicked: %v", req.Task, rec)
		}
	}()
	return fn(ctx, req)
}

// attempt reads the retry counter when the command runs under a retry frame.
func attempt(x *Exec) int {
	if top := x.Top(); top != nil && top.Kind == domain.FrameRetry {
		return top.Attempt
	}
	return 0
}

// idempotencyKey is stable across retries of one invocation and across
// resumes, and differs between iterations and between calls.
func idempotencyKey(x *Exec, id string) string {
	frame := ""
	if top := x.Top(); top != nil {
		frame = top.ID
	}
	sum := sha256.Sum256([]byte(x.ProcessID() + "|" + frame + "|" + id))
	return hex.EncodeToString(sum[:])
}

// ScriptCall runs an inline script.
type ScriptCall struct {
	meta
	language string
	body     string
	in       map[string]any
	out      string
}

// NewScriptCall creates a script invocation.
func NewScriptCall(id, step, language, body string, in map[string]any, out string) *ScriptCall {
	return &ScriptCall{meta: meta{id: id, step: step}, language: language, body: body, in: in, out: out}
}

func (c *ScriptCall) Kind() string { return string(domain.KindScriptCall) }

func (c *ScriptCall) Run(ctx context.Context, x *Exec) Result {
	runner, ok := x.r.e.scripts[c.language]
	if !ok {
		return Fail(domain.Failuref(domain.UnresolvedReferenceFailure, c.step, "no runner for language %q", c.language))
	}
	args, err := x.EvalArgs(ctx, c.in)
	if err != nil {
		return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
	}

	out, err := runner.Run(ctx, c.body, x.Scope(), args)
	if err != nil {
		if ctx.Err() != nil {
			x.Requeue(c.id)
			return interrupted()
		}
		return Fail(domain.AsFailure(err, domain.TaskFailure, c.step))
	}

	if c.out != "" {
		x.Bind(c.out, out)
		return Continue()
	}
	if m, ok := out.(map[string]any); ok {
		for k, v := range m {
			x.Bind(k, v)
		}
	}
	return Continue()
}

// FlowCall runs another flow in a fresh root frame.
type FlowCall struct {
	meta
	flow string
	in   map[string]any
	out  []string
}

// NewFlowCall creates a sub-flow invocation.
func NewFlowCall(id, step, flow string, in map[string]any, out []string) *FlowCall {
	return &FlowCall{meta: meta{id: id, step: step}, flow: flow, in: in, out: out}
}

func (c *FlowCall) Kind() string { return string(domain.KindFlowCall) }

func (c *FlowCall) Run(ctx context.Context, x *Exec) Result {
	root, ok := x.r.e.program.Flow(c.flow)
	if !ok {
		return Fail(domain.Failuref(domain.UnresolvedReferenceFailure, c.step, "unknown flow %q", c.flow))
	}
	args, err := x.EvalArgs(ctx, c.in)
	if err != nil {
		return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
	}
	x.Push(&domain.Frame{
		Kind:    domain.FrameFlow,
		Owner:   c.id,
		Root:    true,
		Vars:    args,
		Pending: []string{root},
	})
	return Continue()
}

// Finish copies the declared outputs from the callee scope to the caller.
func (c *FlowCall) Finish(ctx context.Context, x *Exec, f *domain.Frame) Result {
	for _, name := range c.out {
		if v, ok := f.Vars[name]; ok {
			x.Bind(name, v)
		}
	}
	return Continue()
}
