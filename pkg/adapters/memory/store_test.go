package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunStateStoreContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	state := domain.NewProcessState("p1", "main", map[string]any{"n": "one"}, time.Now())

	require.NoError(t, store.Save(ctx, "p1", state))
	state.Variables["n"] = "two"

	loaded, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "one", loaded.Variables["n"])
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	cps := memory.NewCheckpoints()
	state := domain.NewProcessState("p1", "main", map[string]any{"step": "a"}, time.Now())

	require.NoError(t, cps.Upload(ctx, state, "first"))
	state.Variables["step"] = "b"
	require.NoError(t, cps.Upload(ctx, state, "second"))

	snap, err := cps.Download(ctx, "p1", "first")
	require.NoError(t, err)
	assert.Equal(t, "a", snap.Variables["step"])

	_, err = cps.Download(ctx, "p1", "third")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	_, err = cps.Download(ctx, "p2", "first")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}
