package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	data map[string]*domain.ProcessState
	mu   sync.Mutex
}

func (s *SlowStore) Save(ctx context.Context, processID string, state *domain.ProcessState) error {
	time.Sleep(2 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]*domain.ProcessState)
	}
	clone, err := state.Clone()
	if err != nil {
		return err
	}
	s.data[processID] = clone
	return nil
}

func (s *SlowStore) Load(ctx context.Context, processID string) (*domain.ProcessState, error) {
	time.Sleep(2 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.data[processID]; ok {
		return state.Clone()
	}
	return nil, domain.ErrProcessNotFound
}

func (s *SlowStore) Delete(ctx context.Context, processID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, processID)
	return nil
}

func (s *SlowStore) List(ctx context.Context) ([]string, error) {
	return nil, nil
}

func TestManager_UpdateIsSerialized(t *testing.T) {
	manager := session.NewManager(&SlowStore{})
	ctx := context.Background()
	id := "race-test"

	require.NoError(t, manager.Save(ctx, id, domain.NewProcessState(id, "main", map[string]any{"n": 0}, time.Now())))

	var wg sync.WaitGroup
	const writers = 10
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Update(ctx, id, func(ctx context.Context, s *domain.ProcessState) error {
				s.Variables["n"] = s.Variables["n"].(float64) + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := manager.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(writers), state.Variables["n"], "no update may be lost")
}

func TestManager_UpdateSavesOnFailure(t *testing.T) {
	manager := session.NewManager(&SlowStore{})
	ctx := context.Background()
	require.NoError(t, manager.Save(ctx, "p", domain.NewProcessState("p", "main", nil, time.Now())))

	boom := errors.New("boom")
	_, err := manager.Update(ctx, "p", func(ctx context.Context, s *domain.ProcessState) error {
		s.Status = domain.StatusFailed
		return boom
	})
	assert.ErrorIs(t, err, boom)

	state, err := manager.Load(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, state.Status)

	_, err = manager.Update(ctx, "missing", func(context.Context, *domain.ProcessState) error { return nil })
	assert.ErrorIs(t, err, domain.ErrProcessNotFound)
}

func TestManager_Create(t *testing.T) {
	manager := session.NewManager(&SlowStore{})
	ctx := context.Background()
	id := "atomic-init"

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Create(ctx, id, func(context.Context) (*domain.ProcessState, error) {
				return domain.NewProcessState(id, "main", nil, time.Now()), nil
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created, "exactly one creator wins")

	_, err := manager.Load(ctx, id)
	assert.NoError(t, err)
}

type countingLocker struct {
	mu       sync.Mutex
	locks    int
	unlocks  int
	lastTTL  time.Duration
	failWith error
}

func (l *countingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.locks++
	l.lastTTL = ttl
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocks++
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	manager := session.NewManager(&SlowStore{}, session.WithLocker(locker), session.WithLockTTL(5*time.Second))
	ctx := context.Background()

	require.NoError(t, manager.Save(ctx, "p", domain.NewProcessState("p", "main", nil, time.Now())))
	_, err := manager.Load(ctx, "p")
	require.NoError(t, err)

	assert.Equal(t, 2, locker.locks)
	assert.Equal(t, 2, locker.unlocks)
	assert.Equal(t, 5*time.Second, locker.lastTTL)

	locker.failWith = errors.New("redis down")
	err = manager.Save(ctx, "p", domain.NewProcessState("p", "main", nil, time.Now()))
	assert.ErrorContains(t, err, "distributed lock")
}
