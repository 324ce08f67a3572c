package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/store"
	"github.com/roach88/rram/internal/topology"
)

// SelectionOptions holds the cell selection flags shared by operations.
type SelectionOptions struct {
	Wordlines       []string
	Bitlines        []string
	Cells           []string // WL/BL pairs
	ExcludeBitlines []string
	Averaged        bool
}

func (s *SelectionOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&s.Wordlines, "wl", nil, "wordlines to select (default: settings default_wordlines)")
	cmd.Flags().StringSliceVar(&s.Bitlines, "bl", nil, "bitlines to select (default: settings default_bitlines)")
	cmd.Flags().StringSliceVar(&s.Cells, "cell", nil, "explicit cells as WL/BL")
	cmd.Flags().StringSliceVar(&s.ExcludeBitlines, "exclude-bl", nil, "bitlines to leave out")
	cmd.Flags().BoolVar(&s.Averaged, "averaged", false, "average read.averaged_reads reads per measurement")
}

func (s *SelectionOptions) request() (engine.Request, error) {
	req := engine.Request{
		Selection: cells.Selection{
			Wordlines:        topology.IDs(s.Wordlines...),
			Bitlines:         topology.IDs(s.Bitlines...),
			ExcludedBitlines: topology.IDs(s.ExcludeBitlines...),
		},
		Averaged: s.Averaged,
	}
	for _, c := range s.Cells {
		id, err := cells.ParseCellID(c)
		if err != nil {
			return engine.Request{}, err
		}
		req.Cells = append(req.Cells, id)
	}
	return req, nil
}

// ProgramOptions holds flags for the set, reset and form commands.
type ProgramOptions struct {
	*RootOptions
	SelectionOptions
	Database string
	Name     string // data-log name, default the mode

	// OperationID fixes the operation ID (for testing).
	// If empty, a UUIDv7 is generated.
	OperationID string
}

// CellOutput is one cell of an operation result.
type CellOutput struct {
	Cell      string         `json:"cell"`
	SL        string         `json:"sl"`
	Res       float64        `json:"res"`
	Current   float64        `json:"meas_i"`
	Voltage   float64        `json:"meas_v"`
	Success   bool           `json:"success"`
	Recipe    *recipe.Recipe `json:"recipe,omitempty"`
	ReadState string         `json:"state,omitempty"`
}

// OperationOutput is the output of one operation.
type OperationOutput struct {
	ID         string       `json:"id"`
	Mode       recipe.Mode  `json:"mode"`
	State      engine.State `json:"state"`
	Iterations int          `json:"iterations"`
	GridSize   int          `json:"grid_size,omitempty"`
	Target     float64      `json:"target,omitempty"`
	Run        string       `json:"run,omitempty"` // data-log label
	Cells      []CellOutput `json:"cells"`
}

// NewProgramCommand creates the set, reset or form command.
func NewProgramCommand(rootOpts *RootOptions, mode recipe.Mode) *cobra.Command {
	opts := &ProgramOptions{RootOptions: rootOpts}
	name := strings.ToLower(mode.String())

	cmd := &cobra.Command{
		Use:   name + " <settings-dir>",
		Short: fmt.Sprintf("Program-verify cells with %s pulses", mode),
		Long: fmt.Sprintf(`Run %[1]s program-verify over the selected cells.

Every selected cell is read, then pulsed through the %[1]s grid (pulse width,
then %[2]s, then gate voltage, each ascending) until it reaches the target
resistance or the grid is exhausted. Converged cells are removed from the
pulse immediately.

Exit codes:
  0 - Every cell reached its target (DONE)
  1 - The grid was exhausted (PARTIAL) or the hardware faulted
  2 - Settings, selection or data-log error

Examples:
  rram %[3]s ./settings --wl WL_0,WL_1
  rram %[3]s ./settings --cell WL_0/BL_3 --averaged
  rram %[3]s ./settings --db ./lab.db --format json`, mode, mode.AggressorKey(), name),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, opts.RootOptions, mode, args[0], &opts.SelectionOptions, opts.Database, opts.Name, opts.OperationID)
		},
	}

	opts.SelectionOptions.bind(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the operation in this SQLite data log")
	cmd.Flags().StringVar(&opts.Name, "name", "", "data-log name (default: the mode)")
	cmd.Flags().StringVar(&opts.OperationID, "operation-id", "", "fix the operation ID")
	_ = cmd.Flags().MarkHidden("operation-id")

	return cmd
}

// runOperation runs mode (READ or a programming mode) against the simulated
// array of settingsDir and, when db is set, records it in the data log.
func runOperation(cmd *cobra.Command, opts *RootOptions, mode recipe.Mode, settingsDir string,
	sel *SelectionOptions, db, name, opID string) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	req, err := sel.request()
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid selection", err)
	}
	if opID == "" {
		opID = engine.UUIDv7Generator{}.Generate()
	}

	b, err := openBench(settingsDir, opID, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load settings", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st  *store.Store
		run store.Run
	)
	if db != "" {
		if st, err = store.Open(db); err != nil {
			return formatter.Fail(ExitCommandError, "failed to open data log", err)
		}
		atexit.Register(func() { _ = st.Close() })
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("close data log", "error", err)
			}
		}()
		run, err = st.BeginRun(ctx, store.RunInfo{
			ID:       opID,
			Name:     name,
			Chip:     b.settings.Device.Chip,
			Device:   b.settings.Device.Device,
			Mode:     mode,
			Settings: b.settings.Dir,
		})
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to begin run", err)
		}
		logger.Debug("run started", "run", run.Label())
	}

	var res *engine.Result
	if mode == recipe.ModeRead {
		res, err = b.ctl.Read(ctx, req)
	} else {
		res, err = b.ctl.Program(ctx, mode, req)
	}

	if st != nil {
		if logErr := record(context.WithoutCancel(ctx), st, b, run.ID, mode, res, err); logErr != nil {
			return formatter.Fail(ExitCommandError, "failed to record run", logErr)
		}
	}

	var hf *engine.HardwareFault
	switch {
	case errors.As(err, &hf):
		out := newOperationOutput(opID, mode, &engine.Result{ID: opID, Mode: mode, Cells: hf.Snapshot}, b, run)
		if perr := formatter.Partial(out, string(hf.Code), hf.Error(), out.text); perr != nil {
			return perr
		}
		return WrapExitError(ExitFailure, "hardware fault", err)
	case res == nil:
		return formatter.Fail(ExitCommandError, fmt.Sprintf("%s failed", mode), err)
	}

	out := newOperationOutput(opID, mode, res, b, run)
	if res.State == engine.StatePartial {
		msg := fmt.Sprintf("%d of %d cells did not reach target", len(res.Failed()), len(res.Cells))
		if err != nil {
			msg = fmt.Sprintf("interrupted after %d iterations: %v", res.Iterations, err)
		}
		if perr := formatter.Partial(out, string(engine.StatePartial), msg, out.text); perr != nil {
			return perr
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s finished PARTIAL", mode))
	}
	return formatter.Success(out, out.text)
}

// record writes the cells of res (or of a hardware fault's snapshot) and
// the terminal state of the run.
func record(ctx context.Context, st *store.Store, b *bench, runID string, mode recipe.Mode, res *engine.Result, opErr error) error {
	state := "ERROR"
	var hf *engine.HardwareFault
	switch {
	case res != nil:
		state = string(res.State)
	case errors.As(opErr, &hf):
		state = "FAULT"
		res = &engine.Result{ID: runID, Mode: mode, Cells: hf.Snapshot}
	}
	if res != nil {
		recs := store.RecordsFromResult(b.settings.Device.Chip, b.settings.Device.Device, res, b.engine.Targets)
		if err := st.WriteRecords(ctx, runID, recs); err != nil {
			return err
		}
	}
	return st.FinishRun(ctx, runID, state)
}

func newOperationOutput(id string, mode recipe.Mode, res *engine.Result, b *bench, run store.Run) OperationOutput {
	out := OperationOutput{
		ID:         id,
		Mode:       mode,
		State:      res.State,
		Iterations: res.Iterations,
		GridSize:   res.GridSize,
		Target:     res.Target,
		Cells:      make([]CellOutput, 0, len(res.Cells)),
	}
	if run.ID != "" {
		out.Run = run.Label()
	}
	for _, c := range res.Cells {
		co := CellOutput{
			Cell:    c.Cell.String(),
			SL:      string(c.SL),
			Res:     c.Resistance,
			Current: c.Current,
			Voltage: c.Voltage,
			Success: c.Success,
			Recipe:  c.Recipe,
		}
		if mode == recipe.ModeRead {
			co.ReadState = store.Classify(c.Resistance, b.engine.Targets)
		}
		out.Cells = append(out.Cells, co)
	}
	return out
}

func (o OperationOutput) text(w io.Writer) {
	header := fmt.Sprintf("%s %s", o.Mode, o.State)
	if o.State == "" {
		header = fmt.Sprintf("%s FAULT", o.Mode)
	}
	if o.Mode.Programs() && o.State != "" {
		header += fmt.Sprintf(" after %d of %d grid points (target %g ohm)", o.Iterations, o.GridSize, o.Target)
	}
	if o.Run != "" {
		header += " run " + o.Run
	}
	fmt.Fprintln(w, header)
	for _, c := range o.Cells {
		mark := "✓"
		if !c.Success {
			mark = "✗"
		}
		line := fmt.Sprintf("  %s %-12s %12.1f ohm", mark, c.Cell, c.Res)
		if c.ReadState != "" {
			line += "  " + c.ReadState
		}
		if r := c.Recipe; r != nil {
			line += fmt.Sprintf("  pw=%d %s=%gV vwl=%gV", r.PulseWidth, r.Mode.AggressorKey(), r.Aggressor, r.Gate)
		}
		fmt.Fprintln(w, line)
	}
}

// commandContext returns the command's context, or Background when the
// command is executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
