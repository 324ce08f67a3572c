package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	Mode     string // optional - filter runs by mode
	Run      string // optional - show the records of one run
	Limit    int
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	Mode    string    `json:"mode"`
	Chip    string    `json:"chip"`
	Device  string    `json:"device"`
	State   string    `json:"state"`
	Started time.Time `json:"started"`
}

// RecordOutput is one logged cell.
type RecordOutput struct {
	Seq     int64          `json:"seq"`
	Cell    string         `json:"cell"`
	SL      string         `json:"sl"`
	Res     float64        `json:"res"`
	Success bool           `json:"success"`
	State   string         `json:"state,omitempty"`
	Recipe  *recipe.Recipe `json:"recipe,omitempty"`
}

// LogResult holds the log command output.
type LogResult struct {
	Runs    []RunSummary   `json:"runs"`
	Records []RecordOutput `json:"records,omitempty"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the data log",
		Long: `List the operations recorded in a data log, oldest first, or the
per-cell records of one run.

Runs are labelled <day>_<name>_<index>, where index counts the runs of
that name on that day from 0000.

Examples:
  rram log --db ./lab.db
  rram log --db ./lab.db --mode SET
  rram log --db ./lab.db --run 0192... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite data log (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "only runs of this mode (READ, SET, RESET, FORM)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show the records of this run")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records (0 = all)")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := opts.formatter(cmd)

	var (
		mode    recipe.Mode
		modeSet bool
	)
	if opts.Mode != "" {
		m, err := recipe.ParseMode(opts.Mode)
		if err != nil {
			return formatter.Fail(ExitCommandError, "invalid mode", err)
		}
		mode, modeSet = m, true
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open data log", err)
	}
	defer st.Close()

	result := LogResult{Runs: []RunSummary{}}
	if opts.Run != "" {
		return showRun(ctx, st, opts, formatter, mode, modeSet)
	}

	runs, err := st.ReadRuns(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read runs", err)
	}
	for _, r := range runs {
		if modeSet && r.Mode != mode {
			continue
		}
		result.Runs = append(result.Runs, summarize(r))
	}

	return formatter.Success(result, func(w io.Writer) {
		if len(result.Runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return
		}
		for _, r := range result.Runs {
			fmt.Fprintf(w, "%-28s %-5s %-8s %s %s  %s\n", r.Label, r.Mode, stateOrRunning(r.State), r.Chip, r.Device, r.ID)
		}
	})
}

func showRun(ctx context.Context, st *store.Store, opts *LogOptions, formatter *OutputFormatter, mode recipe.Mode, modeSet bool) error {
	run, err := st.ReadRun(ctx, opts.Run)
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.Fail(ExitCommandError, "run not found", fmt.Errorf("%s: %w", opts.Run, err))
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read run", err)
	}

	recs, err := st.ReadRecords(ctx, store.Filter{RunID: run.ID, Mode: mode, ModeSet: modeSet, Limit: opts.Limit})
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read records", err)
	}
	result := LogResult{Runs: []RunSummary{summarize(run)}, Records: make([]RecordOutput, 0, len(recs))}
	for _, r := range recs {
		result.Records = append(result.Records, RecordOutput{
			Seq:     r.Seq,
			Cell:    r.WL + "/" + r.BL,
			SL:      r.SL,
			Res:     r.Resistance,
			Success: r.Success,
			State:   r.State,
			Recipe:  r.Recipe,
		})
	}

	return formatter.Success(result, func(w io.Writer) {
		s := result.Runs[0]
		fmt.Fprintf(w, "%s %s %s (%d cells)\n", s.Label, s.Mode, stateOrRunning(s.State), len(result.Records))
		for _, r := range result.Records {
			mark := "✓"
			if !r.Success {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %-12s %12.1f ohm %s\n", mark, r.Cell, r.Res, r.State)
		}
	})
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		ID:      r.ID,
		Label:   r.Label(),
		Mode:    r.Mode.String(),
		Chip:    r.Chip,
		Device:  r.Device,
		State:   r.State,
		Started: r.Started,
	}
}

func stateOrRunning(state string) string {
	if state == "" {
		return "RUNNING"
	}
	return state
}
