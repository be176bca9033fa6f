package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// Checkpoint uploads a snapshot of the whole process and continues.
type Checkpoint struct {
	meta
	label string
}

// NewCheckpoint creates a checkpoint command. label may hold an expression.
func NewCheckpoint(id, step, label string) *Checkpoint {
	return &Checkpoint{meta: meta{id: id, step: step}, label: label}
}

func (c *Checkpoint) Kind() string { return string(domain.KindCheckpoint) }

func (c *Checkpoint) Run(ctx context.Context, x *Exec) Result {
	v, err := x.EvalValue(ctx, c.label)
	if err != nil {
		return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
	}
	label := c.id
	if v != nil {
		if l := fmt.Sprint(v); l != "" {
			label = l
		}
	}
	if x.r.e.checkpoints == nil {
		x.Logger().WarnContext(ctx, "Checkpoint skipped: no checkpoint store", "label", label)
		return Continue()
	}
	return checkpoint(label)
}

// FormCall always suspends until the form is submitted.
type FormCall struct {
	meta
	form   string
	fields []domain.FormField
	bind   string
}

// NewFormCall creates a form suspension. The submission is bound to out,
// or to the form name when out is empty.
func NewFormCall(id, step, form string, fields []domain.FormField, out string) *FormCall {
	bind := out
	if bind == "" {
		bind = form
	}
	return &FormCall{meta: meta{id: id, step: step}, form: form, fields: fields, bind: bind}
}

func (c *FormCall) Kind() string { return string(domain.KindFormCall) }

func (c *FormCall) Run(ctx context.Context, x *Exec) Result {
	return Suspend(domain.Suspension{
		Reason: domain.ReasonForm,
		Bind:   c.bind,
		Form:   c.form,
		Fields: c.fields,
	})
}
