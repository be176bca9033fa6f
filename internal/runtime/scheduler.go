package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aretw0/tendril/pkg/domain"
)

// run is one execution attempt of a process: from Start/Resume/Continue
// until every lane is parked. A single scheduler goroutine owns the lane
// set, joins, checkpoints and suspension records; each runnable lane is
// driven by its own goroutine and reports back over a channel.
type run struct {
	e     *Engine
	state *domain.ProcessState

	// mu guards state.Variables, the only data lanes share.
	mu sync.RWMutex

	// pausing asks every lane to stop at its next command boundary.
	pausing atomic.Bool

	lanes map[string]*laneRun
}

type checkpointRequest struct {
	lr    *laneRun
	label string
}

func newRun(e *Engine, state *domain.ProcessState) *run {
	if state.Variables == nil {
		state.Variables = make(map[string]any)
	}
	return &run{e: e, state: state, lanes: make(map[string]*laneRun)}
}

func (r *run) global(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.state.Variables[name]
	return v, ok
}

func (r *run) setGlobal(name string, v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.Variables[name]; !ok {
		return false
	}
	r.state.Variables[name] = v
	return true
}

func (r *run) globals() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.state.Variables))
	for k, v := range r.state.Variables {
		out[k] = v
	}
	return out
}

func (r *run) laneRun(l *domain.Lane) *laneRun {
	lr, ok := r.lanes[l.ID]
	if !ok {
		lr = &laneRun{lane: l}
		r.lanes[l.ID] = lr
	}
	return lr
}

// execute drives all runnable lanes until none is left. It returns the
// context error when the host interrupted the run.
func (r *run) execute(ctx context.Context) error {
	reports := make(chan laneReport)
	inflight := 0
	interrupted := false
	var checkpoints []checkpointRequest

	for {
		if !r.pausing.Load() && !interrupted {
			for _, l := range r.state.Lanes {
				lr := r.laneRun(l)
				if lr.running || l.Status != domain.LaneRunnable {
					continue
				}
				lr.running = true
				inflight++
				go func(lr *laneRun) {
					reports <- r.drive(ctx, lr)
				}(lr)
			}
		}

		if inflight == 0 {
			if len(checkpoints) > 0 && !interrupted {
				r.uploadCheckpoints(ctx, checkpoints)
				checkpoints = nil
				r.pausing.Store(false)
				continue
			}
			if !interrupted && r.rejectUnserializable(ctx) {
				continue
			}
			break
		}

		rep := <-reports
		inflight--
		rep.lr.running = false
		l := rep.lr.lane

		switch {
		case rep.interrupted:
			interrupted = true
		case rep.checkpoint != "":
			checkpoints = append(checkpoints, checkpointRequest{lr: rep.lr, label: rep.checkpoint})
			r.pausing.Store(true)
		case l.Status == domain.LaneWaiting:
			r.spawn(l, rep.branches)
		case rep.suspension != nil:
			r.state.Suspensions = append(r.state.Suspensions, *rep.suspension)
		}
		if rep.lr.cancel.Load() && !l.Status.Done() && !l.CancelRaised {
			// Flagged while running: the lane may have parked since.
			r.cancelLane(l)
		}
		if l.Status.Done() {
			r.settle(l)
		}
	}

	r.finalize()
	if interrupted {
		return ctx.Err()
	}
	return nil
}

// spawn creates one lane per branch below the join frame on top of parent.
func (r *run) spawn(parent *domain.Lane, branches []branchSeed) {
	j := parent.Top()
	for _, b := range branches {
		child := &domain.Lane{
			ID:     r.state.NewLaneID(),
			Parent: parent.ID,
			Status: domain.LaneRunnable,
		}
		child.Push(&domain.Frame{
			Kind:    domain.FrameBranch,
			Root:    true,
			Owner:   j.Owner,
			Vars:    b.vars,
			Pending: []string{b.block},
		})
		r.state.Lanes = append(r.state.Lanes, child)
		j.Children = append(j.Children, child.ID)
	}
	if len(j.Children) == 0 {
		parent.Status = domain.LaneRunnable
	}
}

// settle reacts to a finished branch lane: the first failure cancels the
// remaining siblings, and once every sibling is done the join is released.
func (r *run) settle(l *domain.Lane) {
	if l.Parent == "" {
		return
	}
	parent := r.state.Lane(l.Parent)
	if parent == nil || parent.Status != domain.LaneWaiting {
		return
	}
	j := parent.Top()
	if j == nil || j.Kind != domain.FrameJoin {
		return
	}

	if l.Status == domain.LaneFailed && j.Error == nil {
		j.Error = l.Error
		for _, id := range j.Children {
			if sib := r.state.Lane(id); sib != nil && sib != l {
				r.cancelLane(sib)
			}
		}
	}

	children := make([]*domain.Lane, 0, len(j.Children))
	for _, id := range j.Children {
		child := r.state.Lane(id)
		if child == nil {
			continue
		}
		if r.laneRun(child).running || !child.Status.Done() {
			return
		}
		children = append(children, child)
	}

	if j.Error == nil {
		if p, ok := r.e.program.Command(j.Owner); ok {
			if par, ok := p.(*Parallel); ok {
				for _, child := range children {
					for _, name := range par.out {
						if v, ok := child.Final[name]; ok {
							j.Vars[name] = v
						}
					}
				}
			}
		}
	}
	parent.Status = domain.LaneRunnable
}

// cancelLane asks l, and every lane it is waiting on, to unwind.
func (r *run) cancelLane(l *domain.Lane) {
	lr := r.laneRun(l)
	lr.cancel.Store(true)
	if lr.running || l.CancelRaised {
		return
	}
	switch l.Status {
	case domain.LaneSuspended:
		r.dropSuspension(l.ID)
		l.Status = domain.LaneRunnable
	case domain.LaneWaiting:
		if j := l.Top(); j != nil {
			for _, id := range j.Children {
				if child := r.state.Lane(id); child != nil {
					r.cancelLane(child)
				}
			}
		}
	}
}

// rejectUnserializable checks the parked state of a suspending process.
// Lanes only check their own frames when they suspend, so values held by a
// waiting parent are checked here once every lane is parked. The failure is
// raised in the first suspended lane. It reports whether lanes must run
// again.
func (r *run) rejectUnserializable(ctx context.Context) bool {
	if len(r.state.Suspensions) == 0 {
		return false
	}
	err := domain.CheckScope("", r.state.Variables)
	for _, l := range r.state.Lanes {
		if err != nil {
			break
		}
		err = checkLane(l)
	}
	if err == nil {
		return false
	}

	l := r.state.Lane(r.state.Suspensions[0].LaneID)
	if l == nil {
		return false
	}
	r.e.logger.WarnContext(ctx, "Suspension rejected",
		"process_id", r.state.ID, "lane_id", l.ID, "err", err)
	r.dropSuspension(l.ID)
	l.Status = domain.LaneRunnable
	r.laneRun(l).inject = domain.NewFailure(domain.SuspensionProtocolFailure, "", err)
	return true
}

func (r *run) dropSuspension(laneID string) {
	kept := r.state.Suspensions[:0]
	for _, s := range r.state.Suspensions {
		if s.LaneID != laneID {
			kept = append(kept, s)
		}
	}
	r.state.Suspensions = kept
}

// uploadCheckpoints snapshots the quiescent state once and uploads it under
// every requested label. An upload failure is raised in the requesting lane.
func (r *run) uploadCheckpoints(ctx context.Context, reqs []checkpointRequest) {
	snap, cloneErr := r.state.Clone()
	for _, req := range reqs {
		err := cloneErr
		if err == nil {
			err = r.e.checkpoints.Upload(ctx, snap, req.label)
		}
		if err != nil {
			r.e.logger.ErrorContext(ctx, "Checkpoint upload failed",
				"process_id", r.state.ID, "label", req.label, "err", err)
			req.lr.inject = domain.NewFailure(domain.TaskFailure, "checkpoint:"+req.label, err)
			continue
		}
		r.e.logger.InfoContext(ctx, "Checkpoint stored",
			"process_id", r.state.ID, "label", req.label)
	}
}

// finalize derives the process status from its lanes.
func (r *run) finalize() {
	r.state.UpdatedAt = r.e.clock.Now()
	main := r.state.MainLane()
	if main == nil {
		return
	}
	switch main.Status {
	case domain.LaneCompleted:
		r.state.Status = domain.StatusFinished
		r.state.Suspensions = nil
	case domain.LaneFailed:
		r.state.Error = main.Error
		r.state.Suspensions = nil
		if main.Error != nil && main.Error.Kind == domain.CancellationFailure {
			r.state.Status = domain.StatusCancelled
		} else {
			r.state.Status = domain.StatusFailed
		}
	default:
		r.state.Status = domain.StatusRunning
		runnable := false
		for _, l := range r.state.Lanes {
			if l.Status == domain.LaneRunnable {
				runnable = true
				break
			}
		}
		if !runnable && len(r.state.Suspensions) > 0 {
			r.state.Status = domain.StatusSuspended
		}
	}
}
