package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rram/internal/config"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/recipe"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Dir       string            `json:"dir"`
	Files     int               `json:"files"`
	Device    config.Device     `json:"device"`
	Wordlines int               `json:"wordlines"`
	Bitlines  int               `json:"bitlines"`
	Plans     []engine.Plan     `json:"plans"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one mode whose recipe cannot run.
type ValidationIssue struct {
	Mode    string `json:"mode"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <settings-dir>",
		Short: "Validate lab settings without touching the array",
		Long: `Load a settings directory, check it against the settings schema and
check every configured recipe of the device polarity: grid shape, target
resistance, voltage envelope and pulse length.

Exit codes:
  0 - Settings valid
  1 - One or more recipes cannot run
  2 - Settings could not be loaded`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	settings, err := config.Load(dir)
	if err != nil {
		var le *config.LoadError
		if errors.As(err, &le) && le.Pos.IsValid() {
			return formatter.Fail(ExitCommandError, fmt.Sprintf("invalid settings (line %d)", le.Pos.Line()), err)
		}
		return formatter.Fail(ExitCommandError, "invalid settings", err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", settings.Files, dir)

	es, err := settings.Engine()
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid settings", err)
	}
	ctl, err := engine.New(es, nil, nil, engine.WithLogger(opts.logger(io.Discard)))
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid settings", err)
	}

	result := ValidationResult{
		Valid:     true,
		Dir:       dir,
		Files:     settings.Files,
		Device:    settings.Device,
		Wordlines: len(es.Topology.Wordlines),
		Bitlines:  len(es.Topology.Bitlines),
		Plans:     []engine.Plan{},
	}
	for _, mode := range recipe.Modes {
		if _, ok := es.Ops[mode]; !ok {
			formatter.VerboseLog("No %s recipe for polarity %s", mode, settings.Device.Polarity)
			continue
		}
		plan, err := ctl.Plan(mode)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationIssue{Mode: mode.String(), Code: ErrorCode(err), Message: err.Error()})
			continue
		}
		formatter.VerboseLog("%s: %d grid points, target %g ohm", mode, plan.GridSize, plan.Target)
		result.Plans = append(result.Plans, plan)
	}

	if !result.Valid {
		first := result.Errors[0]
		text := func(w io.Writer) {
			fmt.Fprintln(w, "✗ Validation failed")
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s %s: %s\n", e.Mode, e.Code, e.Message)
			}
		}
		if err := formatter.Partial(result, first.Code, first.Message, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Settings valid: %s %s (%s), %dx%d array\n",
			result.Device.Chip, result.Device.Device, result.Device.Polarity, result.Wordlines, result.Bitlines)
		for _, p := range result.Plans {
			fmt.Fprintf(w, "  %-5s %4d grid points, target %g ohm\n", p.Mode, p.GridSize, p.Target)
		}
	})
}
