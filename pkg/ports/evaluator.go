package ports

import "context"

// Scope is the read view of variables visible to an expression.
type Scope interface {
	// Lookup resolves a variable by name.
	Lookup(name string) (any, bool)

	// Flatten returns every visible variable, inner scopes shadowing outer ones.
	Flatten() map[string]any
}

// Evaluator is the expression language used by flows.
type Evaluator interface {
	// Eval evaluates expr against scope.
	// Text without expression markers evaluates to itself.
	Eval(ctx context.Context, expr string, scope Scope) (any, error)

	// EvalBool evaluates a condition.
	EvalBool(ctx context.Context, expr string, scope Scope) (bool, error)
}
