package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/schema"
	"github.com/google/uuid"
)

// Engine executes compiled programs against process states.
// It holds no per-process data: everything lives in the ProcessState it is
// handed, so one Engine can serve any number of processes concurrently.
type Engine struct {
	program     *Program
	tasks       ports.TaskRegistry
	eval        ports.Evaluator
	scripts     map[string]ports.ScriptRunner
	checkpoints ports.CheckpointStore
	listeners   domain.Listeners
	logger      *slog.Logger
	clock       ports.Clock
	newID       func() string
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithListeners sets the execution listener hooks.
func WithListeners(l domain.Listeners) Option {
	return func(e *Engine) {
		e.listeners = l
	}
}

// WithCheckpoints sets where Checkpoint steps upload snapshots.
// Without it, checkpoint steps are skipped.
func WithCheckpoints(store ports.CheckpointStore) Option {
	return func(e *Engine) {
		e.checkpoints = store
	}
}

// WithScriptRunner registers the runner used for script steps in language.
func WithScriptRunner(language string, runner ports.ScriptRunner) Option {
	return func(e *Engine) {
		e.scripts[language] = runner
	}
}

// WithClock replaces the system clock.
func WithClock(c ports.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator replaces the generator of resume event identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// NewEngine creates an engine for program. Tasks and expressions are
// resolved through the given collaborators.
func NewEngine(program *Program, tasks ports.TaskRegistry, eval ports.Evaluator, opts ...Option) *Engine {
	e := &Engine{
		program: program,
		tasks:   tasks,
		eval:    eval,
		scripts: make(map[string]ports.ScriptRunner),
		logger:  logging.NewNop(),
		clock:   ports.NewRealClock(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Program returns the compiled program.
func (e *Engine) Program() *Program { return e.program }

// Start creates a process running flow with args as its top-level
// variables and runs it until it finishes, fails or suspends.
func (e *Engine) Start(ctx context.Context, id, flow string, args map[string]any) (*domain.ProcessState, error) {
	root, ok := e.program.Flow(flow)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownFlow, flow)
	}
	if id == "" {
		id = uuid.NewString()
	}

	state := domain.NewProcessState(id, flow, args, e.clock.Now())
	state.ProgramDigest = e.program.Digest()
	lane := &domain.Lane{ID: state.NewLaneID(), Status: domain.LaneRunnable}
	lane.Push(&domain.Frame{Kind: domain.FrameFlow, Root: true, Pending: []string{root}})
	state.Lanes = []*domain.Lane{lane}

	e.logger.InfoContext(ctx, "Process started", "process_id", id, "flow", flow)
	e.emitProcess(ctx, state)
	return state, e.execute(ctx, state)
}

// Continue runs every runnable lane of state. It is used after a crash or
// an interrupted run, and after restoring a checkpoint.
func (e *Engine) Continue(ctx context.Context, state *domain.ProcessState) error {
	if err := e.check(state); err != nil {
		return err
	}
	return e.execute(ctx, state)
}

// Resume delivers event to the lane suspended on it. The payload is bound to
// the variable the suspension names, then the process runs on.
func (e *Engine) Resume(ctx context.Context, state *domain.ProcessState, event string, payload any) error {
	if err := e.check(state); err != nil {
		return err
	}
	i, s := state.FindSuspension(event)
	if s == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownEvent, event)
	}
	if s.Reason == domain.ReasonForm && len(s.Fields) > 0 {
		form, err := schema.FromFields(s.Fields)
		if err == nil {
			payload, err = form.Apply(payload)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidSubmission, err)
		}
	}
	lane := state.Lane(s.LaneID)
	if lane == nil {
		return fmt.Errorf("suspension refers to missing lane %s", s.LaneID)
	}
	rec := *s
	state.Suspensions = append(state.Suspensions[:i], state.Suspensions[i+1:]...)
	lane.Status = domain.LaneRunnable
	state.Status = domain.StatusRunning

	r := newRun(e, state)
	if rec.Bind != "" {
		x := &Exec{r: r, lane: lane}
		x.Bind(rec.Bind, payload)
	}

	e.logger.InfoContext(ctx, "Process resumed",
		"process_id", state.ID, "event", event, "reason", rec.Reason)
	e.emitProcess(ctx, state)
	return e.finish(ctx, r)
}

// Cancel unwinds every lane with a cancellation failure. Error handlers
// still run unless nonCatchable is set.
func (e *Engine) Cancel(ctx context.Context, state *domain.ProcessState, nonCatchable bool) error {
	if err := e.check(state); err != nil {
		return err
	}
	state.CancelRequested = true
	state.NonCatchable = nonCatchable
	// Lanes already unwinding keep their suspensions: a handler may be
	// waiting on a form.
	kept := state.Suspensions[:0]
	for _, s := range state.Suspensions {
		if l := state.Lane(s.LaneID); l != nil && !l.CancelRaised {
			l.Status = domain.LaneRunnable
			continue
		}
		kept = append(kept, s)
	}
	state.Suspensions = kept
	state.Status = domain.StatusRunning

	e.logger.InfoContext(ctx, "Process cancellation requested",
		"process_id", state.ID, "non_catchable", nonCatchable)
	return e.execute(ctx, state)
}

// DueTimers returns the events of clock-driven suspensions whose wake-up
// time is not after now.
func (e *Engine) DueTimers(state *domain.ProcessState, now time.Time) []string {
	var events []string
	for _, s := range state.Suspensions {
		if s.WakeAt != nil && !s.WakeAt.After(now) {
			events = append(events, s.Event)
		}
	}
	return events
}

func (e *Engine) check(state *domain.ProcessState) error {
	if state.Status.Terminal() {
		return domain.ErrProcessTerminal
	}
	if state.ProgramDigest != "" && state.ProgramDigest != e.program.Digest() {
		return domain.ErrProgramMismatch
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, state *domain.ProcessState) error {
	return e.finish(ctx, newRun(e, state))
}

func (e *Engine) finish(ctx context.Context, r *run) error {
	err := r.execute(ctx)
	state := r.state
	switch state.Status {
	case domain.StatusFailed:
		e.logger.WarnContext(ctx, "Process failed", "process_id", state.ID, "err", state.Error)
	case domain.StatusSuspended:
		if s := state.Suspension(); s != nil {
			e.logger.InfoContext(ctx, "Process suspended",
				"process_id", state.ID, "event", s.Event, "reason", s.Reason)
		}
	default:
		e.logger.InfoContext(ctx, "Process stopped", "process_id", state.ID, "status", state.Status)
	}
	e.emitProcess(ctx, state)
	return err
}

func (e *Engine) eventName(reason domain.SuspendReason) string {
	return string(reason) + ":" + e.newID()
}

// emitCommand calls a listener hook, isolating the engine from its panics.
func (e *Engine) emitCommand(ctx context.Context, fn func(context.Context, *domain.CommandEvent), ev *domain.CommandEvent) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.WarnContext(ctx, "Listener panicked", "hook", ev.Type, "panic", rec)
		}
	}()
	fn(ctx, ev)
}

func (e *Engine) emitProcess(ctx context.Context, state *domain.ProcessState) {
	fn := e.listeners.OnProcess
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.WarnContext(ctx, "Listener panicked", "hook", domain.EventProcess, "panic", rec)
		}
	}()
	fn(ctx, &domain.ProcessEvent{
		EventBase: domain.EventBase{
			Timestamp: e.clock.Now(),
			Type:      domain.EventProcess,
			ProcessID: state.ID,
		},
		Flow:   state.Flow,
		Status: state.Status,
		Error:  state.Error,
	})
}
