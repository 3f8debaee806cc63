package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/elara/internal/config"
)

// ValidationResult summarizes a valid configuration.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Name   string `json:"name"`
	Inputs int    `json:"inputs"`
	Output string `json:"output,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate an instance configuration",
		Long: `Check a YAML instance configuration against the schema without opening
the database or connecting to any transport.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := config.Load(path)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	result := ValidationResult{Valid: true, Name: cfg.Name, Inputs: len(cfg.Inputs)}
	if cfg.Output != nil {
		result.Output = cfg.Output.Kind + ":" + cfg.Output.Name
	}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: valid (%d inputs", cfg.Name, result.Inputs)
		if result.Output != "" {
			fmt.Fprintf(w, ", output %s", result.Output)
		}
		fmt.Fprintln(w, ")")
	})
}
