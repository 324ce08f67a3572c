package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/store"
)

type operationResponse struct {
	Status string          `json:"status"`
	Data   OperationOutput `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeOperation(t *testing.T, out string) operationResponse {
	t.Helper()
	var resp operationResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestSet_ConvergesFirstGridPoint(t *testing.T) {
	dir := writeSettings(t, 3.0, 3.2)

	out, err := execute(t, NewProgramCommand(&RootOptions{Format: "json"}, recipe.ModeSet),
		dir, "--operation-id", fixedOpID)
	require.NoError(t, err)

	resp := decodeOperation(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, fixedOpID, resp.Data.ID)
	assert.Equal(t, recipe.ModeSet, resp.Data.Mode)
	assert.Equal(t, engine.StateDone, resp.Data.State)
	assert.Equal(t, 1, resp.Data.Iterations)
	assert.Equal(t, 2, resp.Data.GridSize)
	assert.Equal(t, 50e3, resp.Data.Target)
	assert.Empty(t, resp.Data.Run, "no data log, no run label")

	require.Len(t, resp.Data.Cells, 2)
	for _, c := range resp.Data.Cells {
		assert.True(t, c.Success, c.Cell)
		assert.Less(t, c.Res, 50e3, c.Cell)
		require.NotNil(t, c.Recipe, c.Cell)
		assert.Equal(t, 50, c.Recipe.PulseWidth)
		assert.InDelta(t, 3.0, c.Recipe.Aggressor, 1e-9)
		assert.Empty(t, c.ReadState)
	}
	assert.Equal(t, "WL_0/BL_0", resp.Data.Cells[0].Cell)
	assert.Equal(t, "SL_0", resp.Data.Cells[0].SL)
}

func TestSet_TextOutput(t *testing.T) {
	dir := writeSettings(t, 3.0, 3.2)

	out, err := execute(t, NewProgramCommand(&RootOptions{Format: "text"}, recipe.ModeSet), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "SET DONE after 1 of 2 grid points (target 50000 ohm)")
	assert.Contains(t, out, "✓ WL_0/BL_0")
	assert.Contains(t, out, "pw=50 vbl=3V vwl=2V")
}

func TestSet_PartialExitsFailure(t *testing.T) {
	dir := writeSettings(t, 0.3, 0.5)

	out, err := execute(t, NewProgramCommand(&RootOptions{Format: "json"}, recipe.ModeSet), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "SET finished PARTIAL")

	resp := decodeOperation(t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "PARTIAL", resp.Error.Code)
	assert.Equal(t, "2 of 2 cells did not reach target", resp.Error.Message)
	assert.Equal(t, engine.StatePartial, resp.Data.State)
	assert.Equal(t, 2, resp.Data.Iterations)
	for _, c := range resp.Data.Cells {
		assert.False(t, c.Success)
		assert.Nil(t, c.Recipe)
	}
}

func TestSet_PartialText(t *testing.T) {
	dir := writeSettings(t, 0.3, 0.5)

	out, err := execute(t, NewProgramCommand(&RootOptions{Format: "text"}, recipe.ModeSet), dir, "--cell", "WL_0/BL_1")
	require.Error(t, err)
	assert.Contains(t, out, "SET PARTIAL")
	assert.Contains(t, out, "✗ WL_0/BL_1")
	assert.NotContains(t, out, "BL_0")
	assert.Contains(t, out, "Error [PARTIAL]: 1 of 1 cells did not reach target")
}

func TestSet_RecordsRun(t *testing.T) {
	dir := writeSettings(t, 3.0, 3.2)
	db := filepath.Join(t.TempDir(), "lab.db")

	out, err := execute(t, NewProgramCommand(&RootOptions{Format: "json"}, recipe.ModeSet),
		dir, "--db", db, "--operation-id", fixedOpID)
	require.NoError(t, err)
	resp := decodeOperation(t, out)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}_SET_0000$`, resp.Data.Run)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.ReadRun(t.Context(), fixedOpID)
	require.NoError(t, err)
	assert.Equal(t, "DONE", run.State)
	assert.Equal(t, "T01", run.Chip)
	assert.Equal(t, "D07", run.Device)
	assert.Equal(t, recipe.ModeSet, run.Mode)

	recs, err := st.ReadRecords(t.Context(), store.Filter{RunID: fixedOpID})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "BL_0", recs[0].BL)
	assert.True(t, recs[0].Success)
	require.NotNil(t, recs[0].Recipe)
	assert.Equal(t, 50, recs[0].Recipe.PulseWidth)
}

func TestSet_NamedRunsIndexPerName(t *testing.T) {
	dir := writeSettings(t, 3.0, 3.2)
	db := filepath.Join(t.TempDir(), "lab.db")

	_, err := execute(t, NewProgramCommand(&RootOptions{Format: "json"}, recipe.ModeSet),
		dir, "--db", db, "--name", "retention", "--operation-id", fixedOpID)
	require.NoError(t, err)
	out, err := execute(t, NewProgramCommand(&RootOptions{Format: "json"}, recipe.ModeSet),
		dir, "--db", db, "--name", "retention", "--operation-id", secondOpID)
	require.NoError(t, err)

	resp := decodeOperation(t, out)
	assert.Regexp(t, `_retention_0001$`, resp.Data.Run)
}

func TestSet_UnknownWordline(t *testing.T) {
	out, err := execute(t, NewProgramCommand(&RootOptions{Format: "json"}, recipe.ModeSet),
		labSettings, "--wl", "WL_9")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, ErrCodeSelection, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "WL_9")
}

func TestSet_MalformedCell(t *testing.T) {
	_, err := execute(t, NewProgramCommand(&RootOptions{Format: "text"}, recipe.ModeSet),
		labSettings, "--cell", "WL_0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSet_MissingSettings(t *testing.T) {
	_, err := execute(t, NewProgramCommand(&RootOptions{Format: "text"}, recipe.ModeSet),
		filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load settings")
}

func TestReset_LabSettings(t *testing.T) {
	out, err := execute(t, NewProgramCommand(&RootOptions{Format: "json"}, recipe.ModeReset),
		labSettings, "--cell", "WL_0/BL_0")
	require.NoError(t, err)

	resp := decodeOperation(t, out)
	assert.Equal(t, recipe.ModeReset, resp.Data.Mode)
	assert.Equal(t, engine.StateDone, resp.Data.State)
	assert.Equal(t, 4, resp.Data.GridSize)
	require.Len(t, resp.Data.Cells, 1)
	assert.Greater(t, resp.Data.Cells[0].Res, 200e3)
}

func TestRead_ClassifiesCells(t *testing.T) {
	out, err := execute(t, NewReadCommand(&RootOptions{Format: "json"}), labSettings, "--operation-id", fixedOpID)
	require.NoError(t, err)

	resp := decodeOperation(t, out)
	assert.Equal(t, recipe.ModeRead, resp.Data.Mode)
	assert.Equal(t, engine.StateDone, resp.Data.State)
	assert.Zero(t, resp.Data.Iterations)
	// default_wordlines WL_0, WL_1 across every bitline
	require.Len(t, resp.Data.Cells, 8)
	for _, c := range resp.Data.Cells {
		assert.Equal(t, store.StateUnknown, c.ReadState, c.Cell)
		assert.InDelta(t, 100e3, c.Res, 5.1e3, c.Cell)
		assert.Nil(t, c.Recipe)
	}
}

func TestRead_Text(t *testing.T) {
	out, err := execute(t, NewReadCommand(&RootOptions{Format: "text"}), labSettings, "--wl", "WL_2", "--averaged")
	require.NoError(t, err)
	assert.Contains(t, out, "READ DONE")
	assert.Contains(t, out, "WL_2/BL_3")
	assert.Contains(t, out, "unknown")
}

func TestRead_RecordsRun(t *testing.T) {
	dir := writeSettings(t, 3.0, 3.2)
	db := filepath.Join(t.TempDir(), "lab.db")

	_, err := execute(t, NewProgramCommand(&RootOptions{Format: "json"}, recipe.ModeSet), dir, "--db", db)
	require.NoError(t, err)

	out, err := execute(t, NewReadCommand(&RootOptions{Format: "json"}), dir,
		"--record", "--db", db, "--operation-id", secondOpID)
	require.NoError(t, err)
	resp := decodeOperation(t, out)
	assert.Regexp(t, `_READ_0000$`, resp.Data.Run)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.ReadRecords(t.Context(), store.Filter{RunID: secondOpID})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, store.StateUnknown, r.State)
		assert.Nil(t, r.Recipe)
	}
}

func TestRead_RecordNeedsDB(t *testing.T) {
	out, err := execute(t, NewReadCommand(&RootOptions{Format: "text"}), labSettings, "--record")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, errRecordWithoutDB)
	assert.Contains(t, out, "--record needs --db")
}

func TestRead_DBWithoutRecordDoesNotLog(t *testing.T) {
	db := filepath.Join(t.TempDir(), "lab.db")
	out, err := execute(t, NewReadCommand(&RootOptions{Format: "json"}), labSettings, "--db", db)
	require.NoError(t, err)
	assert.Empty(t, decodeOperation(t, out).Data.Run)
}
