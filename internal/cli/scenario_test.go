package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

const failingScenario = `name: wrong_column
description: "Asserts the wrong final column"
project: P1
clients:
  - { id: alice }
tickets:
  - { id: t1, title: "One", status: BACKLOG }
steps:
  - { client: alice, action: join }
assertions:
  - { type: column, client: alice, status: TODO, tickets: [t1] }
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func copyScenario(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenariosDir, name))
	require.NoError(t, err)
	return writeScenario(t, dir, name, string(data))
}

func TestScenarioCommandMissingArgs(t *testing.T) {
	cmd := NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestScenarioCommandNonExistentPath(t *testing.T) {
	cmd := NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario path not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioCommandEmptyDir(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestScenarioCommandRunsDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	require.NoError(t, cmd.Execute(), buf.String())
	out := buf.String()
	assert.Contains(t, out, "✓ move_propagates")
	assert.Contains(t, out, "✓ pending_wins")
	assert.Contains(t, out, "6 passed, 0 failed, 6 total")
}

func TestScenarioCommandFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir, "--filter", "p*"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Passed)

	var names []string
	for _, s := range resp.Data.Scenarios {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"pending_wins", "presence"}, names)
}

func TestScenarioCommandFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "wrong.yaml", failingScenario)

	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ wrong_column")
	assert.Contains(t, buf.String(), "column TODO")
}

func TestScenarioCommandFailureJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", failingScenario)

	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestScenarioCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "broken.yaml", "name: broken\nbogus: true\n")

	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestScenarioCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	path := copyScenario(t, dir, "move_propagates.yaml")
	golden := filepath.Join(dir, "golden", "move_propagates.golden")

	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--update"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ move_propagates (golden updated)")
	require.FileExists(t, golden)

	buf.Reset()
	cmd = NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ move_propagates\n")

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0o644))
	buf.Reset()
	cmd = NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "trace does not match golden file")
}

func TestScenarioCommandTrace(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(scenariosDir, "move_propagates.yaml"), "--trace"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"scenario_name": "move_propagates"`)
	assert.Contains(t, buf.String(), `"type": "deliver"`)
}
