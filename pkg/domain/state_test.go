package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLane_PushPop(t *testing.T) {
	lane := &domain.Lane{ID: "lane-0"}

	lane.Push(&domain.Frame{Kind: domain.FrameFlow, Root: true})
	lane.Push(&domain.Frame{Kind: domain.FrameGroup})

	assert.Equal(t, "lane-0/2", lane.Top().ID)
	assert.NotNil(t, lane.Top().Vars, "Push should allocate Vars")

	f := lane.Pop()
	assert.Equal(t, domain.FrameGroup, f.Kind)
	lane.Pop()
	assert.Nil(t, lane.Pop(), "popping an empty lane returns nil")
	assert.Equal(t, 2, lane.Pushes)
	assert.Equal(t, 2, lane.Pops, "empty pops are not counted")
}

func TestFrame_SpliceKeepsOrder(t *testing.T) {
	f := &domain.Frame{Pending: []string{"c"}}
	f.Splice("a", "b")

	var got []string
	for {
		id, ok := f.Next()
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFrame_Declares(t *testing.T) {
	f := &domain.Frame{Vars: map[string]any{"x": nil}, Locals: []string{"item"}}
	assert.True(t, f.Declares("x"))
	assert.True(t, f.Declares("item"))
	assert.False(t, f.Declares("y"))
}

func TestProcessState_JSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	state := domain.NewProcessState("p1", "main", map[string]any{"x": "y"}, now)
	lane := &domain.Lane{ID: state.NewLaneID(), Status: domain.LaneSuspended}
	lane.Push(&domain.Frame{Kind: domain.FrameFlow, Root: true, Pending: []string{"main/1"}})
	state.Lanes = append(state.Lanes, lane)
	state.Suspensions = []domain.Suspension{{
		LaneID: lane.ID, Reason: domain.ReasonForm, Event: "form:abc", Bind: "answers", CreatedAt: now,
	}}

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var loaded domain.ProcessState
	require.NoError(t, json.Unmarshal(data, &loaded))

	assert.Equal(t, state.Suspensions, loaded.Suspensions)
	assert.Equal(t, []string{"main/1"}, loaded.MainLane().Top().Pending)
	assert.Equal(t, 1, loaded.NextLane)

	_, s := loaded.FindSuspension("form:abc")
	require.NotNil(t, s)
	assert.Equal(t, "answers", s.Bind)
}

func TestProcessState_Compact(t *testing.T) {
	state := domain.NewProcessState("p1", "main", map[string]any{"in": 1}, time.Now())
	state.Lanes = []*domain.Lane{{ID: "lane-0", Final: map[string]any{"out": "done"}}}
	state.Status = domain.StatusFinished

	c := state.Compact()
	assert.Nil(t, c.Lanes)
	assert.Equal(t, "done", c.Variables["out"])
	assert.Equal(t, 1, c.Variables["in"])
	assert.True(t, c.Status.Terminal())
}

func TestProcessState_CompactKeepsBranches(t *testing.T) {
	fail := domain.Failuref(domain.TaskFailure, "", "boom")
	state := domain.NewProcessState("p1", "main", nil, time.Now())
	state.Lanes = []*domain.Lane{
		{ID: "lane-0", Status: domain.LaneFailed, Error: fail, Frames: []*domain.Frame{{ID: "f1", Root: true}}},
		{ID: "lane-1", Parent: "lane-0", Status: domain.LaneCompleted, Final: map[string]any{"a": 1}},
		{ID: "lane-2", Parent: "lane-0", Status: domain.LaneFailed, Error: fail},
	}
	state.Status = domain.StatusFailed
	state.Error = fail

	c := state.Compact()
	require.Len(t, c.Lanes, 2)
	assert.Equal(t, "lane-1", c.Lanes[0].ID)
	assert.Equal(t, 1, c.Lanes[0].Final["a"])
	assert.Equal(t, fail, c.Lanes[1].Error)
	assert.NotContains(t, c.Variables, "a")
	for _, l := range c.Lanes {
		assert.Empty(t, l.Frames)
	}
	assert.Nil(t, c.MainLane())
}

func TestAsFailure(t *testing.T) {
	f := domain.AsFailure(errors.New("boom"), domain.TaskFailure, "send")
	assert.Equal(t, domain.TaskFailure, f.Kind)
	assert.Equal(t, "boom", f.Message)
	assert.Equal(t, "task failure in send: boom", f.Error())

	again := domain.AsFailure(f, domain.EvaluationFailure, "other")
	assert.Same(t, f, again, "an existing failure keeps its kind")
	assert.Equal(t, map[string]any{"kind": "task", "message": "boom", "step": "send"}, f.Value())
}
