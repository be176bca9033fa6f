package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed holder keeps a distributed lock.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to each process across goroutines, and across
// replicas when a DistributedLocker is configured.
// Unused local locks are reclaimed by reference counting.
type Manager struct {
	store ports.StateStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over store.
func NewManager(store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(processID) after unlocking.
func (m *Manager) acquire(processID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[processID]
	if !exists {
		entry = &lockEntry{}
		m.locks[processID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(processID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[processID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, processID)
	}
}

// Load retrieves a process from the store.
func (m *Manager) Load(ctx context.Context, processID string) (*domain.ProcessState, error) {
	var state *domain.ProcessState
	err := m.WithLock(ctx, processID, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, processID)
		return err
	})
	return state, err
}

// Create runs fn to build a new process and saves its result. It fails if
// processID is already stored.
func (m *Manager) Create(ctx context.Context, processID string, fn func(context.Context) (*domain.ProcessState, error)) (*domain.ProcessState, error) {
	var state *domain.ProcessState
	err := m.WithLock(ctx, processID, func(ctx context.Context) error {
		_, err := m.store.Load(ctx, processID)
		if err == nil {
			return fmt.Errorf("process %s already exists", processID)
		}
		if !errors.Is(err, domain.ErrProcessNotFound) {
			return fmt.Errorf("failed to check process existence: %w", err)
		}

		state, err = fn(ctx)
		if state == nil {
			return err
		}
		if saveErr := m.store.Save(ctx, processID, state); saveErr != nil {
			return fmt.Errorf("failed to save process: %w", saveErr)
		}
		return err
	})
	return state, err
}

// Update loads processID, applies fn and saves the state fn left behind,
// all under the process lock. The state is saved even when fn fails, so a
// half-run process is never lost; fn's error is returned afterwards.
func (m *Manager) Update(ctx context.Context, processID string, fn func(context.Context, *domain.ProcessState) error) (*domain.ProcessState, error) {
	var state *domain.ProcessState
	err := m.WithLock(ctx, processID, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, processID)
		if err != nil {
			return err
		}
		runErr := fn(ctx, state)
		if saveErr := m.store.Save(ctx, processID, state); saveErr != nil {
			return errors.Join(runErr, fmt.Errorf("failed to save process: %w", saveErr))
		}
		return runErr
	})
	return state, err
}

// Save persists the process state.
func (m *Manager) Save(ctx context.Context, processID string, state *domain.ProcessState) error {
	return m.WithLock(ctx, processID, func(ctx context.Context) error {
		return m.store.Save(ctx, processID, state)
	})
}

// Delete removes the process from the store.
func (m *Manager) Delete(ctx context.Context, processID string) error {
	return m.WithLock(ctx, processID, func(ctx context.Context) error {
		return m.store.Delete(ctx, processID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying state store.
func (m *Manager) Store() ports.StateStore {
	return m.store
}

// WithLock executes fn while holding the lock for the process.
func (m *Manager) WithLock(ctx context.Context, processID string, fn func(context.Context) error) error {
	entry := m.acquire(processID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(processID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, processID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.WarnContext(ctx, "Failed to release distributed lock (will expire via TTL)",
					"process_id", processID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
