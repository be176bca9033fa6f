package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flowDoc = `
flows:
  main:
    - form: approval
      out: answer
      fields:
        - name: ok
          type: bool
    - expr: ${answer.ok}
      out: approved
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	flows := filepath.Join(dir, "flows.yaml")
	require.NoError(t, os.WriteFile(flows, []byte(flowDoc), 0o644))
	common := []string{"--flows", flows, "--dir", filepath.Join(dir, "processes"), "--log-format", "text", "--log-level", "error"}
	with := func(args ...string) []string { return append(args, common...) }

	out, err := execute(t, with("validate")...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 flows are valid")

	out, err = execute(t, with("run", "--id", "p-1", "--interactive=false", "--json")...)
	require.NoError(t, err)
	var state domain.ProcessState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	require.Equal(t, domain.StatusSuspended, state.Status)
	event := state.Suspension().Event

	out, err = execute(t, with("ls")...)
	require.NoError(t, err)
	assert.Contains(t, out, "p-1")

	out, err = execute(t, with("resume", "p-1", event, "--payload", `{"ok": true}`, "--json")...)
	require.NoError(t, err)
	state = domain.ProcessState{}
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, domain.StatusFinished, state.Status)
	assert.Equal(t, true, state.Variables["approved"])

	out, err = execute(t, with("graph")...)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")

	out, err = execute(t, with("rm", "p-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed process 'p-1'")

	_, err = execute(t, with("inspect", "p-1", "--json")...)
	assert.ErrorIs(t, err, domain.ErrProcessNotFound)

	_, err = execute(t, with("run", "--args", "[1]", "--interactive=false")...)
	assert.ErrorContains(t, err, "expected a JSON object")
}

func TestParseValue(t *testing.T) {
	assert.Nil(t, parseValue(""))
	assert.Equal(t, "plain text", parseValue("plain text"))
	assert.Equal(t, map[string]any{"a": float64(1)}, parseValue(`{"a": 1}`))
}
