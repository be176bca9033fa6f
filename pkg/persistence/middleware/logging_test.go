package middleware_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	store := middleware.Chain(memory.NewStore(),
		middleware.NewLoggingMiddleware(logging.NewJSON(&buf, slog.LevelDebug)),
	)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "p", newState("p", nil)))
	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProcessNotFound)

	out := buf.String()
	assert.Contains(t, out, `"op":"save"`)
	assert.Contains(t, out, `"process_id":"p"`)
	assert.Contains(t, out, `"msg":"State not found"`)
}

func TestChain_Order(t *testing.T) {
	var buf bytes.Buffer
	underlying := memory.NewStore()
	store := middleware.Chain(underlying,
		middleware.NewLoggingMiddleware(logging.NewJSON(&buf, slog.LevelDebug)),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)}),
	)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "p", newState("p", map[string]any{"k": "v"})))

	stored, err := underlying.Load(ctx, "p")
	require.NoError(t, err)
	assert.Contains(t, stored.Variables, middleware.EnvelopeKey)

	loaded, err := store.Load(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "v", loaded.Variables["k"])
}
