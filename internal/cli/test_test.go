package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoot(format string) *RootOptions {
	return &RootOptions{Format: format}
}

// writeScenarioDir writes one scenario into a fresh scenarios directory and
// returns it.
func writeScenarioDir(t *testing.T, name, body string) string {
	t.Helper()
	settings, err := filepath.Abs("../harness/testdata/settings")
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "name: " + name + "\nsettings: " + settings + "\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644))
	return dir
}

const wrongIterations = `description: "expects more iterations than the run takes"
mode: SET
request:
  wordlines: [WL_1]
  bitlines: [BL_1]
initial:
  default: 30000
expect:
  state: DONE
  iterations: 4
`

func TestTestCommand_HarnessScenarios(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRoot("text")), scenarioDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ set_converges (golden)")
	assert.Contains(t, out, "✓ reset_sourceline (golden)")
	assert.Contains(t, out, "✓ unknown_cell\n")
	assert.Contains(t, out, "Test Summary: 12 passed, 0 failed, 12 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_JSON(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRoot("json")), scenarioDir, "--golden", goldenDir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 12, resp.Data.Total)
	assert.Equal(t, 12, resp.Data.Passed)

	golden := 0
	for _, s := range resp.Data.Scenarios {
		if s.Golden {
			golden++
		}
	}
	assert.Equal(t, 2, golden)
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRoot("json")), scenarioDir, "--filter", "set_*")
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, "set_converges", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "set_exhausted", resp.Data.Scenarios[1].Name)
}

func TestTestCommand_FilterNoMatch(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRoot("text")), scenarioDir, "--filter", "nothing_*")
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommand_InvalidFilter(t *testing.T) {
	_, err := execute(t, NewTestCommand(testRoot("text")), scenarioDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, NewTestCommand(testRoot("text")), filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	golden := filepath.Join(t.TempDir(), "golden")

	out, err := execute(t, NewTestCommand(testRoot("text")), scenarioDir,
		"--filter", "reset_*", "--update", "--golden", golden)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ reset_sourceline (golden updated)")

	written, err := os.ReadFile(filepath.Join(golden, "reset_sourceline.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(goldenDir, "reset_sourceline.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "set_converges.golden"), []byte("[]\n"), 0o644))

	out, err := execute(t, NewTestCommand(testRoot("text")), scenarioDir,
		"--filter", "set_converges", "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ set_converges")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := writeScenarioDir(t, "wrong_iterations", wrongIterations)

	out, err := execute(t, NewTestCommand(testRoot("text")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_iterations")
	assert.Contains(t, out, "iterations")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommand_FailingScenarioJSON(t *testing.T) {
	dir := writeScenarioDir(t, "wrong_iterations", wrongIterations)

	out, err := execute(t, NewTestCommand(testRoot("json")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommand_UpdateStillReportsFailure(t *testing.T) {
	dir := writeScenarioDir(t, "wrong_iterations", wrongIterations)
	golden := filepath.Join(t.TempDir(), "golden")

	_, err := execute(t, NewTestCommand(testRoot("text")), dir, "--update", "--golden", golden)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(golden, "wrong_iterations.golden"))
}

func TestTestCommand_BrokenScenarioFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))

	out, err := execute(t, NewTestCommand(testRoot("text")), dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "c.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.yml", filepath.Base(files[0]))

	files, err = findScenarioFiles(dir, "c")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "c.yaml", filepath.Base(files[0]))
}
