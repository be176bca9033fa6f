package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// Block splices its children ahead of the remaining commands of the
// current frame. An empty block is a no-op.
type Block struct {
	meta
	children []string
}

// NewBlock creates a block running children in order.
func NewBlock(id, step string, children []string) *Block {
	return &Block{meta: meta{id: id, step: step}, children: children}
}

func (b *Block) Kind() string { return "block" }

func (b *Block) Children() []string { return b.children }

func (b *Block) Run(ctx context.Context, x *Exec) Result {
	if top := x.Top(); top != nil {
		top.Splice(b.children...)
	}
	return Continue()
}

// Expression evaluates an expression and optionally binds the value.
type Expression struct {
	meta
	expr string
	out  string
}

// NewExpression creates an evaluate-and-bind command.
func NewExpression(id, step, expr, out string) *Expression {
	return &Expression{meta: meta{id: id, step: step}, expr: expr, out: out}
}

func (c *Expression) Kind() string { return string(domain.KindExpression) }

func (c *Expression) Run(ctx context.Context, x *Exec) Result {
	v, err := x.Eval(ctx, c.expr)
	if err != nil {
		return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
	}
	if c.out != "" {
		x.Bind(c.out, v)
	}
	return Continue()
}

// If selects one of two blocks. An empty block ID means no branch.
type If struct {
	meta
	cond string
	then string
	els  string
}

// NewIf creates a conditional. then and els are block IDs and may be empty.
func NewIf(id, step, cond, then, els string) *If {
	return &If{meta: meta{id: id, step: step}, cond: cond, then: then, els: els}
}

func (c *If) Kind() string { return string(domain.KindIf) }

func (c *If) Children() []string { return nonEmpty(c.then, c.els) }

func (c *If) Run(ctx context.Context, x *Exec) Result {
	ok, err := x.EvalBool(ctx, c.cond)
	if err != nil {
		return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
	}
	next := c.els
	if ok {
		next = c.then
	}
	if next != "" {
		x.Top().Splice(next)
	}
	return Continue()
}

// SwitchCase pairs a case label with the block it selects.
type SwitchCase struct {
	Value string
	Block string
}

// Switch selects the first case whose label equals the evaluated key.
// Labels holding an expression are evaluated before comparison.
type Switch struct {
	meta
	key   string
	cases []SwitchCase
	def   string
}

// NewSwitch creates a multi-way branch. def may be empty.
func NewSwitch(id, step, key string, cases []SwitchCase, def string) *Switch {
	return &Switch{meta: meta{id: id, step: step}, key: key, cases: cases, def: def}
}

func (c *Switch) Kind() string { return string(domain.KindSwitch) }

func (c *Switch) Children() []string {
	ids := make([]string, 0, len(c.cases)+1)
	for _, cs := range c.cases {
		ids = append(ids, cs.Block)
	}
	return append(ids, nonEmpty(c.def)...)
}

func (c *Switch) Run(ctx context.Context, x *Exec) Result {
	key, err := x.EvalValue(ctx, c.key)
	if err != nil {
		return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
	}
	want := fmt.Sprint(key)

	next := c.def
	for _, cs := range c.cases {
		label := any(cs.Value)
		if strings.Contains(cs.Value, "${") {
			if label, err = x.Eval(ctx, cs.Value); err != nil {
				return Fail(domain.AsFailure(err, domain.EvaluationFailure, c.step))
			}
		}
		if fmt.Sprint(label) == want {
			next = cs.Block
			break
		}
	}
	if next != "" {
		x.Top().Splice(next)
	}
	return Continue()
}

// Group runs a block in its own frame.
type Group struct {
	meta
	body string
}

// NewGroup creates a nested block.
func NewGroup(id, step, body string) *Group {
	return &Group{meta: meta{id: id, step: step}, body: body}
}

func (c *Group) Kind() string { return string(domain.KindGroup) }

func (c *Group) Children() []string { return []string{c.body} }

func (c *Group) Run(ctx context.Context, x *Exec) Result {
	x.Push(&domain.Frame{Kind: domain.FrameGroup, Owner: c.id, Pending: []string{c.body}})
	return Continue()
}

func (c *Group) Finish(ctx context.Context, x *Exec, f *domain.Frame) Result {
	return Continue()
}

// Return ends the innermost flow or branch. Frames entered since are
// popped without running their remaining commands.
type Return struct {
	meta
}

// NewReturn creates a return command.
func NewReturn(id, step string) *Return {
	return &Return{meta: meta{id: id, step: step}}
}

func (c *Return) Kind() string { return string(domain.KindReturn) }

func (c *Return) Run(ctx context.Context, x *Exec) Result {
	return x.unwindToRoot(ctx)
}

func nonEmpty(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
