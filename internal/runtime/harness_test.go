package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/internal/scripting"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects task invocations in the order they happen.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newRegistry(rec *recorder) *registry.Registry {
	reg := registry.NewRegistry()
	reg.RegisterFunc("record", registry.Simple(func(ctx context.Context, args map[string]any) (any, error) {
		v := fmt.Sprint(args["value"])
		rec.add(v)
		return v, nil
	}))
	reg.RegisterFunc("fail", registry.Simple(func(ctx context.Context, args map[string]any) (any, error) {
		rec.add("fail")
		return nil, errors.New("task exploded")
	}))
	reg.RegisterFunc("failOn", registry.Simple(func(ctx context.Context, args map[string]any) (any, error) {
		v := fmt.Sprint(args["value"])
		rec.add(v)
		if v == fmt.Sprint(args["bad"]) {
			return nil, fmt.Errorf("bad item %s", v)
		}
		return v, nil
	}))
	return reg
}

func newEngine(t *testing.T, flows domain.Flows, tasks ports.TaskRegistry, opts ...runtime.Option) *runtime.Engine {
	t.Helper()
	p, err := compiler.Compile(flows)
	require.NoError(t, err)
	lua := scripting.NewLua()
	opts = append([]runtime.Option{runtime.WithScriptRunner("lua", lua)}, opts...)
	return runtime.NewEngine(p, tasks, lua, opts...)
}

func record(v any) *domain.TaskCall {
	return &domain.TaskCall{Task: "record", In: map[string]any{"value": v}}
}

func failTask() *domain.TaskCall {
	return &domain.TaskCall{Task: "fail"}
}

// assertBalanced checks that every lane popped each frame it pushed.
func assertBalanced(t *testing.T, st *domain.ProcessState) {
	t.Helper()
	for _, l := range st.Lanes {
		assert.Equal(t, l.Pushes, l.Pops, "lane %s pushes/pops", l.ID)
		assert.Empty(t, l.Frames, "lane %s frames", l.ID)
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

type memCheckpoints struct {
	mu    sync.Mutex
	snaps map[string]*domain.ProcessState
	err   error
}

func (m *memCheckpoints) Upload(ctx context.Context, state *domain.ProcessState, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.snaps == nil {
		m.snaps = make(map[string]*domain.ProcessState)
	}
	m.snaps[label] = state
	return nil
}

func (m *memCheckpoints) Download(ctx context.Context, processID, label string) (*domain.ProcessState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[label]
	if !ok {
		return nil, domain.ErrCheckpointNotFound
	}
	return s, nil
}
