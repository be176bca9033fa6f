package runtime

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Parallel runs each branch in a new lane and blocks at a join until all of
// them are done. The first failing branch fails the join and cancels the
// others.
type Parallel struct {
	meta
	branches []string
	out      []string
}

// NewParallel creates a fork/join over branch blocks. out names are copied
// from every branch's final scope once the join succeeds.
func NewParallel(id, step string, branches, out []string) *Parallel {
	return &Parallel{meta: meta{id: id, step: step}, branches: branches, out: out}
}

func (c *Parallel) Kind() string { return string(domain.KindParallel) }

func (c *Parallel) Children() []string { return c.branches }

func (c *Parallel) Run(ctx context.Context, x *Exec) Result {
	seeds := make([]branchSeed, len(c.branches))
	for i, b := range c.branches {
		seeds[i] = branchSeed{block: b, vars: x.visible()}
	}
	return join(c.id, seeds)
}

func (c *Parallel) Finish(ctx context.Context, x *Exec, f *domain.Frame) Result {
	if f.Kind != domain.FrameJoin {
		return Continue()
	}
	if f.Error != nil {
		fail := *f.Error
		if fail.Step == "" {
			fail.Step = c.step
		}
		return Fail(&fail)
	}
	for name, v := range f.Vars {
		x.Bind(name, v)
	}
	return Continue()
}
