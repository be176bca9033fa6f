package tendril

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/internal/scripting"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/aretw0/tendril/pkg/session"
	"github.com/aretw0/tendril/pkg/tasks"
	"github.com/google/uuid"
)

// Version is the tendril release.
const Version = "0.4.0"

// DefaultTimerInterval is how often RunTimers polls for due timers.
const DefaultTimerInterval = time.Second

// Engine is the high-level entry point for the tendril library.
// It compiles flows once and owns the load, lock, run, save cycle of every
// process, so callers only deal in process IDs and events.
type Engine struct {
	runtime  *runtime.Engine
	sessions *session.Manager

	store       ports.StateStore
	checkpoints ports.CheckpointStore
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	tasks       ports.TaskRegistry
	extraTasks  map[string]registry.TaskFunc
	evaluator   ports.Evaluator
	scripts     map[string]ports.ScriptRunner
	listeners   domain.Listeners
	clock       ports.Clock
	logger      *slog.Logger
	newID       func() string
}

var _ ports.EventDispatcher = (*Engine)(nil)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStore sets where process states are persisted (default: memory).
func WithStore(store ports.StateStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithCheckpoints sets where checkpoint steps upload snapshots.
func WithCheckpoints(store ports.CheckpointStore) Option {
	return func(e *Engine) {
		e.checkpoints = store
	}
}

// WithListeners registers observability hooks.
func WithListeners(l domain.Listeners) Option {
	return func(e *Engine) {
		e.listeners = l
	}
}

// WithLocker enables distributed locking of processes across replicas.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = locker
		e.lockTTL = ttl
	}
}

// WithTasks replaces the task registry. The built-in tasks are only
// available if reg provides them.
func WithTasks(reg ports.TaskRegistry) Option {
	return func(e *Engine) {
		e.tasks = reg
	}
}

// WithTask adds a task to the default registry.
func WithTask(name string, fn registry.TaskFunc) Option {
	return func(e *Engine) {
		e.extraTasks[name] = fn
	}
}

// WithEvaluator replaces the expression language (default: Lua).
func WithEvaluator(eval ports.Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = eval
	}
}

// WithScripts registers the runner for script steps in language.
func WithScripts(language string, runner ports.ScriptRunner) Option {
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

// WithIDGenerator replaces the generator of process and event identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// Validate compiles flows and reports every invalid step.
func Validate(flows domain.Flows) error {
	_, err := compiler.Compile(flows)
	return err
}

// NewFromSource loads flows from src and creates an Engine for them.
func NewFromSource(ctx context.Context, src ports.FlowSource, opts ...Option) (*Engine, error) {
	flows, err := src.LoadFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load flows: %w", err)
	}
	return New(flows, opts...)
}

// New compiles flows and creates an Engine.
func New(flows domain.Flows, opts ...Option) (*Engine, error) {
	eng := &Engine{
		extraTasks: make(map[string]registry.TaskFunc),
		scripts:    make(map[string]ports.ScriptRunner),
		lockTTL:    session.DefaultLockTTL,
		clock:      ports.NewRealClock(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.tasks == nil {
		reg := registry.NewRegistry()
		tasks.Register(reg, tasks.WithLogger(eng.logger), tasks.WithClock(eng.clock))
		for name, fn := range eng.extraTasks {
			reg.RegisterFunc(name, fn)
		}
		eng.tasks = reg
	} else if len(eng.extraTasks) > 0 {
		return nil, errors.New("WithTask cannot be combined with WithTasks")
	}

	lua := scripting.NewLua()
	if eng.evaluator == nil {
		eng.evaluator = lua
	}
	if _, ok := eng.scripts[compiler.DefaultScriptLanguage]; !ok {
		eng.scripts[compiler.DefaultScriptLanguage] = lua
	}

	program, err := compiler.Compile(flows)
	if err != nil {
		return nil, err
	}

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithListeners(eng.listeners),
		runtime.WithClock(eng.clock),
		runtime.WithIDGenerator(eng.newID),
	}
	if eng.checkpoints != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithCheckpoints(eng.checkpoints))
	}
	for lang, runner := range eng.scripts {
		runtimeOpts = append(runtimeOpts, runtime.WithScriptRunner(lang, runner))
	}
	eng.runtime = runtime.NewEngine(program, eng.tasks, eng.evaluator, runtimeOpts...)

	sessionOpts := []session.Option{session.WithLogger(eng.logger), session.WithLockTTL(eng.lockTTL)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
	}
	eng.sessions = session.NewManager(eng.store, sessionOpts...)

	eng.logger.Debug("Engine ready", "flows", program.Flows(), "commands", program.Len(), "digest", program.Digest())
	return eng, nil
}

// Flows returns the names of the compiled flows.
func (e *Engine) Flows() []string {
	return e.runtime.Program().Flows()
}

// Digest returns the fingerprint of the compiled program.
func (e *Engine) Digest() string {
	return e.runtime.Program().Digest()
}

// Start creates process id running flow and runs it until it finishes,
// fails or suspends. An empty id is replaced by a generated one.
func (e *Engine) Start(ctx context.Context, id, flow string, args map[string]any) (*domain.ProcessState, error) {
	if id == "" {
		id = e.newID()
	}
	return e.sessions.Create(ctx, id, func(ctx context.Context) (*domain.ProcessState, error) {
		state, err := e.runtime.Start(ctx, id, flow, args)
		return compact(state), err
	})
}

// Resume delivers event to process id. The payload becomes the value of
// the variable the suspension binds.
func (e *Engine) Resume(ctx context.Context, id, event string, payload any) (*domain.ProcessState, error) {
	return e.update(ctx, id, func(ctx context.Context, s *domain.ProcessState) error {
		return e.runtime.Resume(ctx, s, event, payload)
	})
}

// Dispatch implements ports.EventDispatcher.
func (e *Engine) Dispatch(ctx context.Context, id, event string, payload any) error {
	_, err := e.Resume(ctx, id, event, payload)
	return err
}

// CancelOptions tunes a cancellation.
type CancelOptions struct {
	// NonCatchable skips error handlers while unwinding.
	NonCatchable bool
}

// Cancel unwinds every lane of process id.
func (e *Engine) Cancel(ctx context.Context, id string, opts CancelOptions) (*domain.ProcessState, error) {
	return e.update(ctx, id, func(ctx context.Context, s *domain.ProcessState) error {
		return e.runtime.Cancel(ctx, s, opts.NonCatchable)
	})
}

// Continue runs the runnable lanes of process id, e.g. after a host crash
// left it in the running status.
func (e *Engine) Continue(ctx context.Context, id string) (*domain.ProcessState, error) {
	return e.update(ctx, id, func(ctx context.Context, s *domain.ProcessState) error {
		return e.runtime.Continue(ctx, s)
	})
}

// Restore replaces process id with the snapshot taken at checkpoint label
// and continues it.
func (e *Engine) Restore(ctx context.Context, id, label string) (*domain.ProcessState, error) {
	if e.checkpoints == nil {
		return nil, errors.New("no checkpoint store configured")
	}
	var state *domain.ProcessState
	err := e.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		snap, err := e.checkpoints.Download(ctx, id, label)
		if err != nil {
			return err
		}
		state = snap
		runErr := e.runtime.Continue(ctx, state)
		*state = *compact(state)
		if err := e.store.Save(ctx, id, state); err != nil {
			return errors.Join(runErr, fmt.Errorf("failed to save process: %w", err))
		}
		return runErr
	})
	return state, err
}

// Inspect returns the stored state of process id.
func (e *Engine) Inspect(ctx context.Context, id string) (*domain.ProcessState, error) {
	return e.sessions.Load(ctx, id)
}

// List returns the IDs of every stored process.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Delete removes process id from the store.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.sessions.Delete(ctx, id)
}

// FireTimers resumes every suspension whose wake-up time has passed and
// returns how many were delivered. Failures are logged and skipped.
func (e *Engine) FireTimers(ctx context.Context) (int, error) {
	ids, err := e.sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, id := range ids {
		state, err := e.sessions.Load(ctx, id)
		if err != nil {
			e.logger.WarnContext(ctx, "Skipping process in timer sweep", "process_id", id, "err", err)
			continue
		}
		if state.Status != domain.StatusSuspended {
			continue
		}
		for _, event := range e.runtime.DueTimers(state, e.clock.Now()) {
			if _, err := e.Resume(ctx, id, event, nil); err != nil {
				if errors.Is(err, domain.ErrUnknownEvent) || errors.Is(err, domain.ErrProcessTerminal) {
					continue
				}
				e.logger.WarnContext(ctx, "Timer delivery failed", "process_id", id, "event", event, "err", err)
				continue
			}
			fired++
		}
	}
	return fired, nil
}

// RunTimers calls FireTimers every interval until ctx is done.
func (e *Engine) RunTimers(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTimerInterval
	}
	e.logger.InfoContext(ctx, "Timer loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(interval):
			if _, err := e.FireTimers(ctx); err != nil && ctx.Err() == nil {
				e.logger.WarnContext(ctx, "Timer sweep failed", "err", err)
			}
		}
	}
}

func (e *Engine) update(ctx context.Context, id string, fn func(context.Context, *domain.ProcessState) error) (*domain.ProcessState, error) {
	return e.sessions.Update(ctx, id, func(ctx context.Context, s *domain.ProcessState) error {
		err := fn(ctx, s)
		*s = *compact(s)
		return err
	})
}

// compact drops the continuation of terminal processes.
func compact(s *domain.ProcessState) *domain.ProcessState {
	if s == nil || !s.Status.Terminal() {
		return s
	}
	return s.Compact()
}
