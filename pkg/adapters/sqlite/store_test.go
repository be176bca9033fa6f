package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/sqlite"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "tendril.db") + "?_busy_timeout=5000"
	store, err := sqlite.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dsn
}

func TestSQLiteStore_Contract(t *testing.T) {
	store, _ := openStore(t)
	ports.RunStateStoreContract(t, store)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	store, dsn := openStore(t)
	ctx := context.Background()

	state := domain.NewProcessState("p-1", "main", map[string]any{"n": "one"}, time.Now())
	require.NoError(t, store.Save(ctx, "p-1", state))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(dsn)
	require.NoError(t, err, "migrations must be idempotent")
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "one", loaded.Variables["n"])
}

func TestSQLiteStore_ListByStatus(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	running := domain.NewProcessState("a", "main", nil, time.Now())
	done := domain.NewProcessState("b", "main", nil, time.Now())
	done.Status = domain.StatusFinished
	require.NoError(t, store.Save(ctx, "a", running))
	require.NoError(t, store.Save(ctx, "b", done))

	ids, err := store.ListByStatus(ctx, domain.StatusFinished)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	done.Status = domain.StatusFailed
	require.NoError(t, store.Save(ctx, "b", done))
	ids, err = store.ListByStatus(ctx, domain.StatusFinished)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
