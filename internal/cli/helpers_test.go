package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const (
	labSettings  = "../config/testdata/lab"
	scenarioDir  = "../harness/testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"
	fixedOpID    = "0192f3a4-0000-7000-8000-000000000001"
	secondOpID   = "0192f3a4-0000-7000-8000-000000000002"
	settingsTmpl = `package bench

device: {chip: "T01", device: "D07"}

topology: {
	sessions: [{
		name: "PXI6571Slot9"
		groups: [
			{name: "BLs", word: 0, channels: bitlines},
			{name: "SLs", word: 0, channels: sourcelines},
		]
	}, {
		name: "PXI6571Slot8"
		groups: [{name: "WLs", word: 0, channels: wordlines}]
	}]
	wordlines: ["WL_0"]
	bitlines: ["BL_0", "BL_1"]
	sourcelines: ["SL_0", "SL_1"]
}

op: SET: NMOS: {
	vwl: 2.0
	vbl: 1.0
	vsl: 0
	sweep: {
		pw: {start: 50}
		vbl: {start: %g, stop: %g, step: 0.1}
	}
}

read: NMOS: {vwl: 1.5, vbl: 0.2, vsl: 0}

target_res: {SET: 50e3, RESET: 200e3}

pulse: {max_len: 256}

sim: {variation: 0}
`
)

// execute runs cmd with args and returns stdout and the command error.
// Logs go to a separate buffer.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeSettings writes a one-row settings directory whose SET sweep drives
// the bitline from start to stop.
func writeSettings(t *testing.T, start, stop float64) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(settingsTmpl, start, stop)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bench.cue"), []byte(body), 0o644))
	return dir
}
