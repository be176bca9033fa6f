package runtime

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aretw0/tendril/pkg/domain"
)

// laneRun is the scheduler's bookkeeping for one lane during a run.
type laneRun struct {
	lane *domain.Lane

	// cancel is set by the scheduler while the lane may be running.
	cancel atomic.Bool

	// inject is raised before the next dispatch. Written only while the
	// lane is parked.
	inject *domain.Failure

	// running is owned by the scheduler goroutine.
	running bool
}

// laneReport is what a lane goroutine hands back when it stops.
type laneReport struct {
	lr          *laneRun
	suspension  *domain.Suspension
	branches    []branchSeed
	checkpoint  string
	interrupted bool
}

// drive runs the lane until it leaves the runnable state or has to yield.
func (r *run) drive(ctx context.Context, lr *laneRun) laneReport {
	x := &Exec{r: r, lane: lr.lane}
	rep := laneReport{lr: lr}

	for {
		if ctx.Err() != nil {
			rep.interrupted = true
			return rep
		}
		if r.pausing.Load() {
			return rep
		}
		if fail := r.pendingFailure(lr); fail != nil {
			if r.apply(ctx, x, Fail(fail), &rep) {
				return rep
			}
			continue
		}

		top := lr.lane.Top()
		if top == nil {
			if err := r.checkFinal(lr.lane); err != nil {
				r.raise(ctx, x, domain.NewFailure(domain.SuspensionProtocolFailure, "", err), &rep)
				return rep
			}
			lr.lane.Status = domain.LaneCompleted
			return rep
		}

		id, ok := top.Next()
		if !ok {
			if r.apply(ctx, x, r.finishTop(ctx, x), &rep) {
				return rep
			}
			continue
		}

		cmd, ok := r.e.program.Command(id)
		if !ok {
			fail := domain.Failuref(domain.UnresolvedReferenceFailure, "", "unknown command %q", id)
			if r.apply(ctx, x, Fail(fail), &rep) {
				return rep
			}
			continue
		}

		if r.apply(ctx, x, r.dispatch(ctx, x, cmd), &rep) {
			return rep
		}
	}
}

// pendingFailure returns a failure the lane must raise before dispatching.
func (r *run) pendingFailure(lr *laneRun) *domain.Failure {
	if lr.inject != nil {
		f := lr.inject
		lr.inject = nil
		return f
	}
	if lr.lane.CancelRaised {
		return nil
	}
	if r.state.CancelRequested {
		lr.lane.CancelRaised = true
		f := domain.Failuref(domain.CancellationFailure, "", "process cancelled")
		f.NonCatchable = r.state.NonCatchable
		return f
	}
	if lr.cancel.Load() {
		lr.lane.CancelRaised = true
		return domain.Failuref(domain.CancellationFailure, "", "sibling branch failed")
	}
	return nil
}

// dispatch runs one command, surrounded by the listener hooks.
func (r *run) dispatch(ctx context.Context, x *Exec, cmd Command) Result {
	ev := domain.CommandEvent{
		EventBase: domain.EventBase{
			Timestamp: r.e.clock.Now(),
			Type:      domain.EventBeforeCommand,
			ProcessID: r.state.ID,
		},
		LaneID:    x.lane.ID,
		CommandID: cmd.ID(),
		Command:   cmd.Kind(),
		Step:      cmd.Step(),
	}
	before := ev
	r.e.emitCommand(ctx, r.e.listeners.BeforeCommand, &before)

	r.e.logger.DebugContext(ctx, "Dispatching command",
		"process_id", r.state.ID, "lane_id", x.lane.ID, "command", cmd.ID())

	res := cmd.Run(ctx, x)

	after := ev
	after.Type = domain.EventAfterCommand
	after.Timestamp = r.e.clock.Now()
	after.Duration = after.Timestamp.Sub(ev.Timestamp)
	after.Outcome = res.outcome
	after.Failure = res.failure
	r.e.emitCommand(ctx, r.e.listeners.AfterCommand, &after)

	return res
}

// apply acts on a command result. It reports whether the lane must stop.
func (r *run) apply(ctx context.Context, x *Exec, res Result, rep *laneReport) bool {
	switch res.outcome {
	case domain.OutcomeContinue:
		return false
	case domain.OutcomeFail:
		return r.raise(ctx, x, res.failure, rep)
	case domain.OutcomeSuspend:
		return r.suspend(ctx, x, *res.suspension, rep)
	case domain.OutcomeWait:
		x.lane.Push(&domain.Frame{Kind: domain.FrameJoin, Owner: res.joinOwner})
		x.lane.Status = domain.LaneWaiting
		rep.branches = res.branches
		return true
	case domain.OutcomeYield:
		if res.interrupt {
			rep.interrupted = true
		} else {
			rep.checkpoint = res.checkpoint
		}
		return true
	default:
		panic(fmt.Sprintf("runtime: unknown outcome %q", res.outcome))
	}
}

// raise unwinds frames one at a time until a Catcher handles fail or the
// stack is empty, in which case the lane fails.
func (r *run) raise(ctx context.Context, x *Exec, fail *domain.Failure, rep *laneReport) bool {
	r.e.emitCommand(ctx, r.e.listeners.OnError, &domain.CommandEvent{
		EventBase: domain.EventBase{
			Timestamp: r.e.clock.Now(),
			Type:      domain.EventError,
			ProcessID: r.state.ID,
		},
		LaneID:  x.lane.ID,
		Step:    fail.Step,
		Outcome: domain.OutcomeFail,
		Failure: fail,
	})

	for {
		f := x.lane.Top()
		if f == nil {
			_ = r.checkFinal(x.lane)
			x.lane.Status = domain.LaneFailed
			x.lane.Error = fail
			r.e.logger.InfoContext(ctx, "Lane failed",
				"process_id", r.state.ID, "lane_id", x.lane.ID, "err", fail)
			return true
		}
		if !fail.NonCatchable && f.Owner != "" {
			if c, ok := r.e.program.Command(f.Owner); ok {
				if catcher, ok := c.(Catcher); ok {
					if res, handled := catcher.Catch(ctx, x, f, fail); handled {
						return r.apply(ctx, x, res, rep)
					}
				}
			}
		}
		r.pop(x.lane)
	}
}

// suspend parks the lane after checking that its scope can be persisted.
func (r *run) suspend(ctx context.Context, x *Exec, s domain.Suspension, rep *laneReport) bool {
	if err := r.checkSerializable(x.lane); err != nil {
		return r.raise(ctx, x, domain.NewFailure(domain.SuspensionProtocolFailure, "", err), rep)
	}
	s.LaneID = x.lane.ID
	s.CreatedAt = r.e.clock.Now()
	if s.Event == "" {
		s.Event = r.e.eventName(s.Reason)
	}
	x.lane.Status = domain.LaneSuspended
	rep.suspension = &s
	return true
}

func (r *run) checkSerializable(l *domain.Lane) error {
	if err := checkLane(l); err != nil {
		return err
	}
	return domain.CheckScope("", r.globals())
}

// checkLane verifies every value l would carry into a stored state: frame
// variables, loop items and collected results, and the final scope.
func checkLane(l *domain.Lane) error {
	for _, f := range l.Frames {
		if err := domain.CheckScope(f.ID+".", f.Vars); err != nil {
			return err
		}
		if err := domain.CheckSerializable(f.ID+".items", f.Items); err != nil {
			return err
		}
		if err := domain.CheckSerializable(f.ID+".results", f.Results); err != nil {
			return err
		}
	}
	return domain.CheckScope(l.ID+".final.", l.Final)
}

// checkFinal drops a branch's final scope when it cannot be persisted,
// since branch lanes stay in the stored state after they settle.
func (r *run) checkFinal(l *domain.Lane) error {
	if l.Parent == "" {
		return nil
	}
	err := domain.CheckScope(l.ID+".final.", l.Final)
	if err != nil {
		l.Final = nil
	}
	return err
}

// pop removes the top frame, recording the lane's final scope when the
// root frame goes.
func (r *run) pop(l *domain.Lane) *domain.Frame {
	f := l.Pop()
	if f != nil && f.Root && len(l.Frames) == 0 {
		l.Final = f.Vars
	}
	return f
}

// finishTop pops a drained frame and lets its owner react.
func (r *run) finishTop(ctx context.Context, x *Exec) Result {
	f := r.pop(x.lane)
	if f == nil || f.Owner == "" {
		return Continue()
	}
	if c, ok := r.e.program.Command(f.Owner); ok {
		if fin, ok := c.(Finisher); ok {
			return fin.Finish(ctx, x, f)
		}
	}
	return Continue()
}

// unwindToRoot pops frames up to and including the nearest root frame,
// finishing only that root frame. Scopes in between are abandoned.
func (x *Exec) unwindToRoot(ctx context.Context) Result {
	for {
		f := x.r.pop(x.lane)
		if f == nil {
			return Continue()
		}
		// A handler cleaning up after a cancellation cannot return past it.
		if f.Kind == domain.FrameCatch && f.Error != nil && f.Error.Kind == domain.CancellationFailure {
			return Fail(f.Error)
		}
		if !f.Root {
			continue
		}
		if f.Owner == "" {
			return Continue()
		}
		if c, ok := x.r.e.program.Command(f.Owner); ok {
			if fin, ok := c.(Finisher); ok {
				return fin.Finish(ctx, x, f)
			}
		}
		return Continue()
	}
}
