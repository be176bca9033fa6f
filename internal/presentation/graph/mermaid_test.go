package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flows = `
flows:
  main:
    - task: charge
      retry: {attempts: 2}
      error:
        - task: refund
    - if: ${ok}
      then:
        - call: ship
      else:
        - form: review
    - parallel:
        - - task: email
        - - task: sms
  ship:
    - checkpoint: shipped
`

func TestGenerateMermaid(t *testing.T) {
	parsed, err := loader.Parse([]byte(flows))
	require.NoError(t, err)

	out := graph.GenerateMermaid(parsed, nil)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))

	for _, want := range []string{
		`subgraph main_flow["main"]`,
		`main(("main"))`,
		`main_0[["task charge <br/> retry x2"]]`,
		`main --> main_0`,
		`main_0 -- "on error" --> main_0_error_0`,
		`main_1{"${ok}"}`,
		`main_1 -- "then" --> main_1_then_0`,
		`main_1_else_0[/"form review"/]`,
		`main_2[\"parallel"/]`,
		`main_2 -- "branch 1" --> main_2_branch_1_0`,
		`main_1_then_0 -.-> ship`,
		`ship_0["checkpoint shipped"]`,
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "classDef")
}

func TestOverlay(t *testing.T) {
	state := &domain.ProcessState{Lanes: []*domain.Lane{
		{ID: "l1", Status: domain.LaneSuspended, Frames: []*domain.Frame{
			{Owner: ""},
			{Owner: "main/1"},
			{Owner: "main/1/then/0+retry"},
		}},
		{ID: "l2", Status: domain.LaneCompleted, Frames: []*domain.Frame{{Owner: "main/2"}}},
	}}

	overlay := graph.OverlayFor(state)
	assert.Equal(t, []string{"main/1", "main/1/then/0"}, overlay.Active)

	parsed, err := loader.Parse([]byte(flows))
	require.NoError(t, err)
	out := graph.GenerateMermaid(parsed, overlay)
	assert.Contains(t, out, "classDef active")
	assert.Contains(t, out, "class main_1 active;")
	assert.Contains(t, out, "class main_1_then_0 active;")
}
