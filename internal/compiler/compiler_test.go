package compiler_test

import (
	"errors"
	"testing"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func children(t *testing.T, p *runtime.Program, id string) []string {
	t.Helper()
	cmd, ok := p.Command(id)
	require.True(t, ok, "command %s", id)
	parent, ok := cmd.(runtime.Parent)
	require.True(t, ok, "command %s has no children", id)
	return parent.Children()
}

func allOptions() domain.Options {
	return domain.Options{
		Retry:      &domain.Retry{Attempts: 2},
		WithItems:  &domain.WithItems{Source: "${items}"},
		ErrorSteps: []domain.Step{&domain.Expression{Expr: "1", Out: "handled"}},
	}
}

func TestCompile_CallStepWrapperOrder(t *testing.T) {
	p, err := compiler.Compile(domain.Flows{
		"main": {
			&domain.TaskCall{Base: domain.Base{Options: allOptions()}, Task: "echo"},
		},
	})
	require.NoError(t, err)

	root, ok := p.Flow("main")
	require.True(t, ok)
	assert.Equal(t, "main", root)
	assert.Equal(t, []string{"main/0+error"}, children(t, p, "main"))

	// error outermost, then items, then retry around the task.
	assert.Equal(t, []string{"main/0+items", "main/0/error"}, children(t, p, "main/0+error"))
	assert.Equal(t, []string{"main/0+retry"}, children(t, p, "main/0+items"))
	assert.Equal(t, []string{"main/0"}, children(t, p, "main/0+retry"))

	task, _ := p.Command("main/0")
	assert.IsType(t, &runtime.TaskCall{}, task)
}

func TestCompile_GroupWrapperOrder(t *testing.T) {
	p, err := compiler.Compile(domain.Flows{
		"main": {
			&domain.Group{
				Base:  domain.Base{Options: allOptions()},
				Steps: []domain.Step{&domain.TaskCall{Task: "echo"}},
			},
		},
	})
	require.NoError(t, err)

	// items outermost, so every iteration has its own error scope.
	assert.Equal(t, []string{"main/0+items"}, children(t, p, "main"))
	assert.Equal(t, []string{"main/0+error"}, children(t, p, "main/0+items"))
	assert.Equal(t, []string{"main/0+retry", "main/0/error"}, children(t, p, "main/0+error"))
	assert.Equal(t, []string{"main/0"}, children(t, p, "main/0+retry"))
	assert.Equal(t, []string{"main/0/steps"}, children(t, p, "main/0"))
	assert.Equal(t, []string{"main/0/steps/0"}, children(t, p, "main/0/steps"))
}

func TestCompile_Branches(t *testing.T) {
	p, err := compiler.Compile(domain.Flows{
		"main": {
			&domain.If{
				Condition: "${x > 0}",
				Then:      []domain.Step{&domain.TaskCall{Task: "a"}},
			},
			&domain.Switch{
				Key: "${color}",
				Cases: []domain.Case{
					{Value: "red", Steps: []domain.Step{&domain.TaskCall{Task: "r"}}},
					{Value: "blue", Steps: nil},
				},
				Default: []domain.Step{&domain.TaskCall{Task: "d"}},
			},
			&domain.Parallel{
				Branches: [][]domain.Step{
					{&domain.TaskCall{Task: "p0"}},
					{&domain.TaskCall{Task: "p1"}},
				},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"main/0/then"}, children(t, p, "main/0"), "missing else compiles to nothing")
	assert.Equal(t, []string{"main/1/case/0", "main/1/case/1", "main/1/default"}, children(t, p, "main/1"))
	assert.Empty(t, children(t, p, "main/1/case/1"))
	assert.Equal(t, []string{"main/2/branch/0", "main/2/branch/1"}, children(t, p, "main/2"))
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		step domain.Step
		path string
	}{
		{"Options On If", &domain.If{Base: domain.Base{Options: domain.Options{Retry: &domain.Retry{Attempts: 1}}}, Condition: "true"}, "main/0"},
		{"Options On Form", &domain.FormCall{Base: domain.Base{Options: domain.Options{WithItems: &domain.WithItems{Source: "x"}}}, Form: "f"}, "main/0"},
		{"Unknown Flow", &domain.FlowCall{Flow: "nowhere"}, "main/0"},
		{"Empty Task", &domain.TaskCall{}, "main/0"},
		{"Empty Expression", &domain.Expression{}, "main/0"},
		{"Empty Parallel", &domain.Parallel{}, "main/0"},
		{"Negative Retry", &domain.TaskCall{Base: domain.Base{Options: domain.Options{Retry: &domain.Retry{Attempts: -1}}}, Task: "t"}, "main/0"},
		{"Empty Item Source", &domain.TaskCall{Base: domain.Base{Options: domain.Options{WithItems: &domain.WithItems{}}}, Task: "t"}, "main/0"},
		{"Nil Step", nil, "main/0"},
		{"Bad Form Field", &domain.FormCall{Form: "f", Fields: []domain.FormField{{Name: "when", Type: "date"}}}, "main/0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.Compile(domain.Flows{"main": {tt.step}})
			require.Error(t, err)

			var ce *compiler.CompileError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.path, ce.Path)
		})
	}
}

func TestCompile_ReportsEveryError(t *testing.T) {
	_, err := compiler.Compile(domain.Flows{
		"main": {
			&domain.TaskCall{},
			&domain.If{Then: []domain.Step{&domain.Expression{}}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main/0: task name is empty")
	assert.Contains(t, err.Error(), "main/1: condition is empty")
}

func TestCompile_NoFlows(t *testing.T) {
	_, err := compiler.Compile(domain.Flows{})
	assert.Error(t, err)
}

func TestCompile_Digest(t *testing.T) {
	build := func(task string) string {
		p, err := compiler.Compile(domain.Flows{
			"main": {&domain.TaskCall{Task: task}},
			"sub":  {&domain.Return{}},
		})
		require.NoError(t, err)
		return p.Digest()
	}

	assert.NotEmpty(t, build("a"))
	assert.Equal(t, build("a"), build("a"), "digest is deterministic")
	assert.NotEqual(t, build("a"), build("b"))
}

func TestCompile_FlowCalls(t *testing.T) {
	p, err := compiler.Compile(domain.Flows{
		"main": {
			&domain.FlowCall{Flow: "sub", In: map[string]any{"n": 1}, Out: []string{"r"}},
			&domain.Group{Steps: []domain.Step{&domain.FlowCall{Flow: "sub"}}},
		},
		"sub": {&domain.Expression{Expr: "${n}", Out: "r"}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"sub": {"main/0", "main/1/steps/0"}}, p.FlowCalls())
	assert.Equal(t, []string{"main", "sub"}, p.Flows())
}
