package runtime

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/tendril/pkg/domain"
)

// Command is the executable form of a step or of a cross-cutting wrapper.
// Commands are immutable; everything they change lives in the lane's frames.
type Command interface {
	ID() string
	// Kind names the command variant, for telemetry.
	Kind() string
	// Step is the label of the step the command was compiled from.
	Step() string
	Run(ctx context.Context, x *Exec) Result
}

// Finisher is implemented by commands that own frames.
// Finish runs after a frame owned by the command drained and was popped.
type Finisher interface {
	Finish(ctx context.Context, x *Exec, f *domain.Frame) Result
}

// Catcher is implemented by commands whose frames can stop a failure.
// Catch is called while f is still the top frame. When it reports true the
// failure is considered handled and the returned Result is applied.
type Catcher interface {
	Catch(ctx context.Context, x *Exec, f *domain.Frame, fail *domain.Failure) (Result, bool)
}

// Parent is implemented by commands that refer to other commands of the
// program. Children are listed in execution order.
type Parent interface {
	Children() []string
}

// Result is what a command reports back to the lane driving it.
type Result struct {
	outcome    domain.Outcome
	suspension *domain.Suspension
	failure    *domain.Failure
	branches   []branchSeed
	joinOwner  string
	checkpoint string
	interrupt  bool
}

type branchSeed struct {
	block string
	vars  map[string]any
}

// Continue lets the lane dispatch its next pending command.
func Continue() Result { return Result{outcome: domain.OutcomeContinue} }

// Suspend stops the lane until the event named in s arrives.
func Suspend(s domain.Suspension) Result {
	return Result{outcome: domain.OutcomeSuspend, suspension: &s}
}

// Fail starts unwinding the lane with f.
func Fail(f *domain.Failure) Result { return Result{outcome: domain.OutcomeFail, failure: f} }

// join blocks the lane until one new lane per branch has finished.
func join(owner string, branches []branchSeed) Result {
	return Result{outcome: domain.OutcomeWait, joinOwner: owner, branches: branches}
}

// checkpoint pauses every lane so the process can be snapshotted under label.
func checkpoint(label string) Result {
	return Result{outcome: domain.OutcomeYield, checkpoint: label}
}

// interrupted hands control back to the host without changing the outcome
// of the current command; the command has already been re-queued.
func interrupted() Result {
	return Result{outcome: domain.OutcomeYield, interrupt: true}
}

// Outcome reports the kind of result.
func (r Result) Outcome() domain.Outcome { return r.outcome }

// Failure returns the failure carried by a Fail result.
func (r Result) Failure() *domain.Failure { return r.failure }

// meta carries the identity every command shares.
type meta struct {
	id   string
	step string
}

func (m meta) ID() string   { return m.id }
func (m meta) Step() string { return m.step }

// Program is a compiled set of flows: a command table keyed by stable IDs.
// Frames refer to pending commands by ID, which keeps ProcessState plain data.
type Program struct {
	commands map[string]Command
	flows    map[string]string
	digest   string
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{
		commands: make(map[string]Command),
		flows:    make(map[string]string),
	}
}

// Register adds c to the command table.
func (p *Program) Register(c Command) error {
	if _, exists := p.commands[c.ID()]; exists {
		return fmt.Errorf("duplicate command id %q", c.ID())
	}
	p.commands[c.ID()] = c
	return nil
}

// Command looks up a command by ID.
func (p *Program) Command(id string) (Command, bool) {
	c, ok := p.commands[id]
	return c, ok
}

// SetFlow records the root block of a flow.
func (p *Program) SetFlow(name, root string) {
	p.flows[name] = root
}

// Flow returns the root block ID of a flow.
func (p *Program) Flow(name string) (string, bool) {
	id, ok := p.flows[name]
	return id, ok
}

// Flows returns the flow names in sorted order.
func (p *Program) Flows() []string {
	names := make([]string, 0, len(p.flows))
	for name := range p.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of commands.
func (p *Program) Len() int { return len(p.commands) }

// SetDigest records the fingerprint of the definitions the program was built from.
func (p *Program) SetDigest(d string) { p.digest = d }

// Digest returns the fingerprint recorded with SetDigest.
func (p *Program) Digest() string { return p.digest }

// FlowCalls returns every flow name referenced by a FlowCall command.
func (p *Program) FlowCalls() map[string][]string {
	out := make(map[string][]string)
	for id, c := range p.commands {
		if fc, ok := c.(*FlowCall); ok {
			out[fc.flow] = append(out[fc.flow], id)
		}
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}
