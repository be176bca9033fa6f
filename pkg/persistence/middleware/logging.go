package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

type loggingMiddleware struct {
	next   ports.StateStore
	logger *slog.Logger
}

// NewLoggingMiddleware logs every store operation at debug level and
// failures at warn level.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next ports.StateStore) ports.StateStore {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

func (m *loggingMiddleware) Save(ctx context.Context, processID string, state *domain.ProcessState) error {
	start := time.Now()
	err := m.next.Save(ctx, processID, state)
	m.log(ctx, "save", processID, start, err, "status", state.Status)
	return err
}

func (m *loggingMiddleware) Load(ctx context.Context, processID string) (*domain.ProcessState, error) {
	start := time.Now()
	state, err := m.next.Load(ctx, processID)
	if errors.Is(err, domain.ErrProcessNotFound) {
		m.logger.DebugContext(ctx, "State not found", "process_id", processID)
		return nil, err
	}
	m.log(ctx, "load", processID, start, err)
	return state, err
}

func (m *loggingMiddleware) Delete(ctx context.Context, processID string) error {
	start := time.Now()
	err := m.next.Delete(ctx, processID)
	m.log(ctx, "delete", processID, start, err)
	return err
}

func (m *loggingMiddleware) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := m.next.List(ctx)
	m.log(ctx, "list", "", start, err, "count", len(ids))
	return ids, err
}

func (m *loggingMiddleware) log(ctx context.Context, op, processID string, start time.Time, err error, attrs ...any) {
	args := append([]any{"op", op, "duration", time.Since(start)}, attrs...)
	if processID != "" {
		args = append(args, "process_id", processID)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "State store operation failed", append(args, "err", err)...)
		return
	}
	m.logger.DebugContext(ctx, "State store operation", args...)
}
