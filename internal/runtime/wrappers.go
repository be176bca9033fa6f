package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/tidwall/gjson"
)

// Retry re-runs one attempt of the wrapped command while attempts remain.
// A positive delay parks the lane on a timer instead of sleeping.
type Retry struct {
	meta
	inner    string
	attempts int
	delay    time.Duration
}

// NewRetry wraps inner with a retry policy.
func NewRetry(id, step, inner string, policy domain.Retry) *Retry {
	return &Retry{
		meta:     meta{id: id, step: step},
		inner:    inner,
		attempts: policy.Attempts,
		delay:    time.Duration(policy.DelayMs) * time.Millisecond,
	}
}

func (c *Retry) Kind() string { return "retry" }

func (c *Retry) Children() []string { return []string{c.inner} }

func (c *Retry) Run(ctx context.Context, x *Exec) Result {
	x.Push(&domain.Frame{Kind: domain.FrameRetry, Owner: c.id, Pending: []string{c.inner}})
	return Continue()
}

func (c *Retry) Finish(ctx context.Context, x *Exec, f *domain.Frame) Result {
	return Continue()
}

func (c *Retry) Catch(ctx context.Context, x *Exec, f *domain.Frame, fail *domain.Failure) (Result, bool) {
	if f.Kind != domain.FrameRetry || fail.Kind == domain.CancellationFailure {
		return Result{}, false
	}
	if f.Attempt >= c.attempts {
		return Result{}, false
	}
	f.Attempt++
	f.Vars = make(map[string]any)
	f.Pending = []string{c.inner}

	x.Logger().DebugContext(ctx, "Retrying command",
		"command", c.inner, "attempt", f.Attempt, "err", fail)

	if c.delay <= 0 {
		return Continue(), true
	}
	wake := x.Now().Add(c.delay)
	return Suspend(domain.Suspension{Reason: domain.ReasonRetry, WakeAt: &wake}), true
}

// Items runs the wrapped command once per element of a sequence, each in
// its own iteration frame. The first failure stops the remaining items.
type Items struct {
	meta
	inner    string
	source   string
	itemVar  string
	indexVar string
	outVar   string
	// collect names the per-iteration outputs gathered into outVar.
	collect []string
}

// NewItems wraps inner with iteration. collect lists the output names the
// wrapped step binds; they are local to each iteration.
func NewItems(id, step, inner string, items domain.WithItems, collect []string) *Items {
	c := &Items{
		meta:     meta{id: id, step: step},
		inner:    inner,
		source:   items.Source,
		itemVar:  items.ItemVar,
		indexVar: items.IndexVar,
		outVar:   items.OutVar,
		collect:  collect,
	}
	if c.itemVar == "" {
		c.itemVar = domain.DefaultItemVar
	}
	if c.indexVar == "" {
		c.indexVar = domain.DefaultIndexVar
	}
	if c.outVar == "" && len(collect) == 1 {
		c.outVar = collect[0]
	}
	return c
}

func (c *Items) Kind() string { return "items" }

func (c *Items) Children() []string { return []string{c.inner} }

func (c *Items) Run(ctx context.Context, x *Exec) Result {
	src, err := x.EvalValue(ctx, c.source)
	if err != nil {
		return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
	}
	items, err := asItems(src)
	if err != nil {
		return Fail(domain.NewFailure(domain.EvaluationFailure, c.step, err))
	}

	x.Push(&domain.Frame{Kind: domain.FrameLoop, Owner: c.id, Items: items, Results: []any{}})
	if len(items) > 0 {
		c.enter(x, items[0], 0)
	}
	return Continue()
}

func (c *Items) enter(x *Exec, item any, index int) {
	locals := append([]string{c.itemVar, c.indexVar}, c.collect...)
	x.Push(&domain.Frame{
		Kind:    domain.FrameIteration,
		Owner:   c.id,
		Locals:  locals,
		Vars:    map[string]any{c.itemVar: item, c.indexVar: index},
		Pending: []string{c.inner},
	})
}

func (c *Items) Finish(ctx context.Context, x *Exec, f *domain.Frame) Result {
	switch f.Kind {
	case domain.FrameIteration:
		loop := x.Top()
		loop.Results = append(loop.Results, c.result(f))
		loop.Index++
		if loop.Index < len(loop.Items) {
			c.enter(x, loop.Items[loop.Index], loop.Index)
		}
	case domain.FrameLoop:
		if c.outVar != "" {
			x.Bind(c.outVar, f.Results)
		}
	}
	return Continue()
}

func (c *Items) result(f *domain.Frame) any {
	switch len(c.collect) {
	case 0:
		return nil
	case 1:
		return f.Vars[c.collect[0]]
	}
	out := make(map[string]any, len(c.collect))
	for _, name := range c.collect {
		if v, ok := f.Vars[name]; ok {
			out[name] = v
		}
	}
	return out
}

// asItems normalizes an item source into an ordered sequence. Maps iterate
// as key/value entries sorted by key; JSON array text is parsed.
func asItems(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return t, nil
	case map[string]any:
		return entries(t), nil
	case string:
		res := gjson.Parse(t)
		if res.IsArray() {
			return res.Value().([]any), nil
		}
		return nil, fmt.Errorf("item source %q is not a list", t)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("item source: %w", err)
	}
	res := gjson.ParseBytes(data)
	switch {
	case res.IsArray():
		return res.Value().([]any), nil
	case res.IsObject():
		return entries(res.Value().(map[string]any)), nil
	}
	return nil, fmt.Errorf("item source of type %T is not iterable", v)
}

func entries(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = map[string]any{"key": k, "value": m[k]}
	}
	return out
}

// ErrorWrapper runs a handler block instead of re-raising any failure that
// escapes the wrapped command. The failure is bound to lastError in the
// handler's frame.
type ErrorWrapper struct {
	meta
	inner   string
	handler string
}

// NewErrorWrapper wraps inner with the handler block.
func NewErrorWrapper(id, step, inner, handler string) *ErrorWrapper {
	return &ErrorWrapper{meta: meta{id: id, step: step}, inner: inner, handler: handler}
}

func (c *ErrorWrapper) Kind() string { return "error" }

func (c *ErrorWrapper) Children() []string { return []string{c.inner, c.handler} }

func (c *ErrorWrapper) Run(ctx context.Context, x *Exec) Result {
	x.Push(&domain.Frame{Kind: domain.FrameGuard, Owner: c.id, Pending: []string{c.inner}})
	return Continue()
}

// Finish resumes unwinding after a handler ran for a cancellation: handlers
// act as cleanup, they cannot keep a cancelled lane alive.
func (c *ErrorWrapper) Finish(ctx context.Context, x *Exec, f *domain.Frame) Result {
	if f.Kind == domain.FrameCatch && f.Error != nil && f.Error.Kind == domain.CancellationFailure {
		return Fail(f.Error)
	}
	return Continue()
}

// Catch only handles failures crossing the guard frame. Failures raised by
// the handler itself propagate past the wrapper.
func (c *ErrorWrapper) Catch(ctx context.Context, x *Exec, f *domain.Frame, fail *domain.Failure) (Result, bool) {
	if f.Kind != domain.FrameGuard {
		return Result{}, false
	}
	x.r.pop(x.lane)

	x.Logger().InfoContext(ctx, "Error handler engaged", "step", c.step, "err", fail)
	x.Push(&domain.Frame{
		Kind:    domain.FrameCatch,
		Owner:   c.id,
		Locals:  []string{domain.VarLastError},
		Vars:    map[string]any{domain.VarLastError: fail.Value()},
		Error:   fail,
		Pending: []string{c.handler},
	})
	return Continue(), true
}
