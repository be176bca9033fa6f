package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withOptions(o domain.Options) domain.Base {
	return domain.Base{Options: o}
}

func TestRetry_RunsAttemptsPlusOne(t *testing.T) {
	for _, k := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("Attempts %d", k), func(t *testing.T) {
			var attempts []int
			var keys []string
			reg := registry.NewRegistry()
			reg.RegisterFunc("flaky", func(ctx context.Context, req domain.TaskRequest) (any, error) {
				attempts = append(attempts, req.Attempt)
				keys = append(keys, req.IdempotencyKey)
				return nil, errors.New("service down")
			})

			e := newEngine(t, domain.Flows{"main": {
				&domain.TaskCall{
					Base: withOptions(domain.Options{Retry: &domain.Retry{Attempts: k}}),
					Task: "flaky",
				},
			}}, reg)

			st, err := e.Start(context.Background(), "p1", "main", nil)
			require.NoError(t, err)

			assert.Equal(t, domain.StatusFailed, st.Status)
			require.Len(t, attempts, k+1)
			for i, a := range attempts {
				assert.Equal(t, i, a)
				assert.Equal(t, keys[0], keys[i], "idempotency key is stable across attempts")
			}
			assert.Equal(t, domain.TaskFailure, st.Error.Kind)
			assert.Contains(t, st.Error.Message, "service down")
			assertBalanced(t, st)
		})
	}
}

func TestRetry_RecoversAndBinds(t *testing.T) {
	reg := registry.NewRegistry()
	reg.RegisterFunc("flaky", func(ctx context.Context, req domain.TaskRequest) (any, error) {
		if req.Attempt < 2 {
			return nil, errors.New("not yet")
		}
		return "ok", nil
	})

	e := newEngine(t, domain.Flows{"main": {
		&domain.TaskCall{
			Base: withOptions(domain.Options{Retry: &domain.Retry{Attempts: 5}}),
			Task: "flaky",
			Out:  "r",
		},
	}}, reg)

	st, err := e.Start(context.Background(), "p1", "main", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, st.Status)
	assert.Equal(t, "ok", st.MainLane().Final["r"])
}

func TestRetry_DelaySuspendsOnTimer(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	var keys []string
	reg := registry.NewRegistry()
	reg.RegisterFunc("flaky", func(ctx context.Context, req domain.TaskRequest) (any, error) {
		keys = append(keys, req.IdempotencyKey)
		if req.Attempt == 0 {
			return nil, errors.New("try later")
		}
		return "ok", nil
	})

	e := newEngine(t, domain.Flows{"main": {
		&domain.TaskCall{
			Base: withOptions(domain.Options{Retry: &domain.Retry{Attempts: 2, DelayMs: 1000}}),
			Task: "flaky",
			Out:  "r",
		},
	}}, reg, runtime.WithClock(clock))

	ctx := context.Background()
	st, err := e.Start(ctx, "p1", "main", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuspended, st.Status)

	s := st.Suspension()
	require.NotNil(t, s)
	assert.Equal(t, domain.ReasonRetry, s.Reason)
	require.NotNil(t, s.WakeAt)
	assert.Equal(t, clock.now.Add(time.Second), *s.WakeAt)

	assert.Empty(t, e.DueTimers(st, clock.now))
	assert.Equal(t, []string{s.Event}, e.DueTimers(st, clock.now.Add(time.Second)))

	require.NoError(t, e.Resume(ctx, st, s.Event, nil))
	assert.Equal(t, domain.StatusFinished, st.Status)
	assert.Equal(t, "ok", st.MainLane().Final["r"])
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestRetry_DoesNotRetryCancellation(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, domain.Flows{"main": {
		&domain.Group{
			Base:  withOptions(domain.Options{Retry: &domain.Retry{Attempts: 3}}),
			Steps: []domain.Step{record("enter"), &domain.FormCall{Form: "wait"}},
		},
	}}, newRegistry(rec))

	ctx := context.Background()
	st, err := e.Start(ctx, "p1", "main", nil)
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, st, false))

	assert.Equal(t, domain.StatusCancelled, st.Status)
	assert.Equal(t, []string{"enter"}, rec.list())
}

func TestItems_CollectsResults(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, domain.Flows{"main": {
		&domain.TaskCall{
			Base: withOptions(domain.Options{WithItems: &domain.WithItems{Source: "${items}", OutVar: "results"}}),
			Task: "record",
			In:   map[string]any{"value": "${item}-${itemIndex}"},
			Out:  "r",
		},
	}}, newRegistry(rec))

	st, err := e.Start(context.Background(), "p1", "main", map[string]any{"items": []any{"a", "b", "c"}})
	require.NoError(t, err)
	require.Equal(t, domain.StatusFinished, st.Status)

	final := st.MainLane().Final
	assert.Equal(t, []any{"a-0", "b-1", "c-2"}, final["results"])
	assert.NotContains(t, final, "r", "per-item output stays in the iteration")
	assert.NotContains(t, final, "item")
	assertBalanced(t, st)
}

func TestItems_FailFast(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, domain.Flows{"main": {
		&domain.TaskCall{
			Base: withOptions(domain.Options{WithItems: &domain.WithItems{Source: "${items}", OutVar: "results"}}),
			Task: "failOn",
			In:   map[string]any{"value": "${item}", "bad": "b"},
			Out:  "r",
		},
	}}, newRegistry(rec))

	st, err := e.Start(context.Background(), "p1", "main", map[string]any{"items": []any{"a", "b", "c"}})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Equal(t, []string{"a", "b"}, rec.list(), "c is never processed")
	assert.NotContains(t, st.MainLane().Final, "results")
	assert.NotContains(t, st.Variables, "results")
	assertBalanced(t, st)
}

func TestItems_Sources(t *testing.T) {
	tests := []struct {
		name   string
		source string
		args   map[string]any
		want   []any
	}{
		{"Map Entries", "${m}", map[string]any{"m": map[string]any{"b": 2, "a": 1}}, []any{"a", "b"}},
		{"JSON Text", `["x","y"]`, nil, []any{"x", "y"}},
		{"Lua Table", "${ {'p', 'q'} }", nil, []any{"p", "q"}},
		{"Empty", "${ {} }", nil, []any{}},
		{"Nil", "${nothing}", map[string]any{"nothing": nil}, []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr := "${item}"
			if tt.name == "Map Entries" {
				expr = "${item.key}"
			}
			e := newEngine(t, domain.Flows{"main": {
				&domain.Expression{
					Base: withOptions(domain.Options{WithItems: &domain.WithItems{Source: tt.source}}),
					Expr: expr,
					Out:  "out",
				},
			}}, registry.NewRegistry())

			st, err := e.Start(context.Background(), "p1", "main", tt.args)
			require.NoError(t, err)
			require.Equal(t, domain.StatusFinished, st.Status, "%v", st.Error)
			assert.Equal(t, tt.want, st.MainLane().Final["out"])
		})
	}
}

func TestItems_NotIterable(t *testing.T) {
	e := newEngine(t, domain.Flows{"main": {
		&domain.Expression{
			Base: withOptions(domain.Options{WithItems: &domain.WithItems{Source: "${n}"}}),
			Expr: "${item}",
		},
	}}, registry.NewRegistry())

	for _, n := range []any{7, "plain text", true} {
		st, err := e.Start(context.Background(), "p1", "main", map[string]any{"n": n})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, st.Status, "%v", n)
		assert.Equal(t, domain.EvaluationFailure, st.Error.Kind, "%v", n)
	}
}

func TestErrorScope_Asymmetry(t *testing.T) {
	options := func() domain.Options {
		return domain.Options{
			WithItems: &domain.WithItems{Source: "${items}"},
			ErrorSteps: []domain.Step{
				record("handled"),
				&domain.Expression{Expr: "${lastError.message}", Out: "caught"},
			},
		}
	}
	in := map[string]any{"value": "${item}", "bad": 2}
	args := map[string]any{"items": []any{1, 2, 3}}

	t.Run("Group Catches Per Iteration", func(t *testing.T) {
		rec := &recorder{}
		e := newEngine(t, domain.Flows{"main": {
			&domain.Group{
				Base:  withOptions(options()),
				Steps: []domain.Step{&domain.TaskCall{Task: "failOn", In: in}},
			},
		}}, newRegistry(rec))

		st, err := e.Start(context.Background(), "p1", "main", args)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFinished, st.Status)
		assert.Equal(t, []string{"1", "2", "handled", "3"}, rec.list())
		assertBalanced(t, st)
	})

	t.Run("Task Catches Once Around The Loop", func(t *testing.T) {
		rec := &recorder{}
		e := newEngine(t, domain.Flows{"main": {
			&domain.TaskCall{Base: withOptions(options()), Task: "failOn", In: in},
		}}, newRegistry(rec))

		st, err := e.Start(context.Background(), "p1", "main", args)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFinished, st.Status)
		assert.Equal(t, []string{"1", "2", "handled"}, rec.list())
		assert.Equal(t, "bad item 2", st.MainLane().Final["caught"])
		assertBalanced(t, st)
	})
}

func TestErrorScope_HandlerFailurePropagates(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, domain.Flows{"main": {
		&domain.Group{
			Base: withOptions(domain.Options{ErrorSteps: []domain.Step{
				&domain.TaskCall{Task: "failOn", In: map[string]any{"value": "handler", "bad": "handler"}},
			}}),
			Steps: []domain.Step{failTask()},
		},
		record("after"),
	}}, newRegistry(rec))

	st, err := e.Start(context.Background(), "p1", "main", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Contains(t, st.Error.Message, "bad item handler")
	assert.Equal(t, []string{"fail", "handler"}, rec.list())
	assertBalanced(t, st)
}

func TestErrorScope_RetryExhaustionIsCaught(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, domain.Flows{"main": {
		&domain.TaskCall{
			Base: withOptions(domain.Options{
				Retry:      &domain.Retry{Attempts: 2},
				ErrorSteps: []domain.Step{record("${lastError.kind}")},
			}),
			Task: "fail",
		},
	}}, newRegistry(rec))

	st, err := e.Start(context.Background(), "p1", "main", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, st.Status)
	assert.Equal(t, []string{"fail", "fail", "fail", "task"}, rec.list())
}
