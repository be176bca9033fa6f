package tui_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	wake := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	state := &domain.ProcessState{
		ID:        "order-7",
		Flow:      "main",
		Status:    domain.StatusSuspended,
		Variables: map[string]any{"amount": 12, "note": "a|b"},
		Suspensions: []domain.Suspension{
			{Event: "e1", Reason: domain.ReasonForm, Form: "approval"},
			{Event: "e2", Reason: domain.ReasonTask, WakeAt: &wake},
		},
		Lanes: []*domain.Lane{{ID: "l0", Status: domain.LaneSuspended}},
	}

	md := tui.Report(state)
	assert.Contains(t, md, "# Process `order-7`")
	assert.Contains(t, md, "| `e1` | form | form approval |")
	assert.Contains(t, md, "wakes 2026-05-01T12:00:00Z")
	assert.Contains(t, md, "| amount | `12` |")
	assert.Contains(t, md, `a\|b`)
	assert.Contains(t, md, "- `l0` suspended, 0 frames")
	assert.NotContains(t, md, "## Error")

	state.Error = &domain.Failure{Kind: domain.TaskFailure, Message: "card declined", Step: "main/0"}
	assert.Contains(t, tui.Report(state), "**task**: card declined (at `main/0`)")

	out, err := tui.Render(md, 80)
	require.NoError(t, err)
	assert.Contains(t, out, "order-7")
}

func TestBanner(t *testing.T) {
	var buf bytes.Buffer
	tui.PrintBanner(&buf, "1.2.3")
	assert.Contains(t, buf.String(), "v1.2.3")
	assert.Contains(t, tui.Status(&buf, domain.StatusFinished), "finished")
}
