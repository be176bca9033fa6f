package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	processID := "contract-test-process-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := newContractState(processID)
		state.Variables["foo"] = "bar"
		state.Variables["count"] = 42

		err := store.Save(ctx, processID, state)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, processID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, state.ID, loaded.ID)
		assert.Equal(t, state.Status, loaded.Status)
		assert.Equal(t, "bar", loaded.Variables["foo"])
		// JSON persistence turns ints into float64; only presence is part of the contract.
		assert.NotNil(t, loaded.Variables["count"])

		require.Len(t, loaded.Lanes, 1)
		top := loaded.MainLane().Top()
		require.NotNil(t, top)
		assert.Equal(t, []string{"main/0", "main/1"}, top.Pending)
		require.NotNil(t, loaded.Suspension())
		assert.Equal(t, "form:contract", loaded.Suspension().Event)
	})

	t.Run("Save overwrites", func(t *testing.T) {
		state := newContractState(processID)
		state.Status = domain.StatusFinished
		require.NoError(t, store.Save(ctx, processID, state))

		loaded, err := store.Load(ctx, processID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFinished, loaded.Status)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+processID)
		assert.ErrorIs(t, err, domain.ErrProcessNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, processID, newContractState(processID))
		require.NoError(t, err)

		err = store.Delete(ctx, processID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, processID)
		assert.ErrorIs(t, err, domain.ErrProcessNotFound, "Load after Delete should return ErrProcessNotFound")

		assert.NoError(t, store.Delete(ctx, processID), "Delete of a missing process is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := processID + "-1"
		id2 := processID + "-2"
		_ = store.Save(ctx, id1, newContractState(id1))
		_ = store.Save(ctx, id2, newContractState(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}

func newContractState(id string) *domain.ProcessState {
	now := time.Now().UTC().Truncate(time.Second)
	state := domain.NewProcessState(id, domain.DefaultFlow, nil, now)
	lane := &domain.Lane{ID: state.NewLaneID(), Status: domain.LaneSuspended}
	lane.Push(&domain.Frame{
		Kind:    domain.FrameFlow,
		Root:    true,
		Pending: []string{"main/0", "main/1"},
	})
	state.Lanes = []*domain.Lane{lane}
	state.Status = domain.StatusSuspended
	state.Suspensions = []domain.Suspension{{
		LaneID:    lane.ID,
		Reason:    domain.ReasonForm,
		Event:     "form:contract",
		CreatedAt: now,
	}}
	return state
}
