package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/rram/internal/recipe"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	SelectionOptions
	Record   bool
	Database string

	// OperationID fixes the operation ID (for testing).
	OperationID string
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read <settings-dir>",
		Short: "Read the resistance of selected cells",
		Long: `Read every selected cell once, or averaged over read.averaged_reads
reads, without pulsing. Each cell is classified set, reset or unknown
against the SET and RESET targets.

Examples:
  rram read ./settings
  rram read ./settings --wl WL_0 --averaged
  rram read ./settings --record --db ./lab.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Record && opts.Database == "" {
				return opts.formatter(cmd).Fail(ExitCommandError, "--record needs --db", errRecordWithoutDB)
			}
			db := ""
			if opts.Record {
				db = opts.Database
			}
			return runOperation(cmd, opts.RootOptions, recipe.ModeRead, args[0], &opts.SelectionOptions, db, "", opts.OperationID)
		},
	}

	opts.SelectionOptions.bind(cmd)
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record the read in the data log")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite data log")
	cmd.Flags().StringVar(&opts.OperationID, "operation-id", "", "fix the operation ID")
	_ = cmd.Flags().MarkHidden("operation-id")

	return cmd
}
