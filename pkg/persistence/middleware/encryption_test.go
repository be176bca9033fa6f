package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func newState(id string, vars map[string]any) *domain.ProcessState {
	return domain.NewProcessState(id, "main", vars, time.Now())
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunStateStoreContract(t, mw(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secure := mw(underlying)
	ctx := context.Background()

	original := newState("p-1", map[string]any{"secret": "my-secret-sauce"})
	original.Status = domain.StatusSuspended
	require.NoError(t, secure.Save(ctx, "p-1", original))

	stored, err := underlying.Load(ctx, "p-1")
	require.NoError(t, err)
	assert.NotContains(t, stored.Variables, "secret")
	assert.Contains(t, stored.Variables, middleware.EnvelopeKey)
	assert.Equal(t, domain.StatusSuspended, stored.Status, "status stays visible")

	loaded, err := secure.Load(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "my-secret-sauce", loaded.Variables["secret"])

	require.NoError(t, underlying.Save(ctx, "plain", newState("plain", nil)))
	_, err = secure.Load(ctx, "plain")
	assert.ErrorContains(t, err, "envelope")
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	oldStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlying)
	require.NoError(t, oldStore.Save(ctx, "p", newState("p", map[string]any{"data": "old"})))

	newStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlying)

	loaded, err := newStore.Load(ctx, "p")
	require.NoError(t, err, "fallback key decrypts old data")
	assert.Equal(t, "old", loaded.Variables["data"])

	loaded.Variables["data"] = "new"
	require.NoError(t, newStore.Save(ctx, "p", loaded))

	_, err = oldStore.Load(ctx, "p")
	assert.Error(t, err, "old key alone cannot read data written with the new key")
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}
