package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/config"
)

// ValidationResult holds the outcome of validating a configuration file.
type ValidationResult struct {
	Path   string           `json:"path"`
	Valid  bool             `json:"valid"`
	Error  *ValidationError `json:"error,omitempty"`
	Config *config.Config   `json:"config,omitempty"`
}

// ValidationError locates a configuration problem.
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Position string `json:"position,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config.cue]",
		Short: "Validate a configuration file",
		Long: `Validate a CUE configuration file against the embedded schema.

The file is unified with the schema, so unknown fields, wrong types and
out-of-range values are reported with their position. With --verbose the
effective configuration, defaults included, is printed.

With no argument, the file given by --config is validated.

Exit codes:
  0 - The configuration is valid
  1 - The configuration is invalid
  2 - Command error (no file given, unreadable file)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	if path == "" {
		return NewExitError(ExitCommandError, "no configuration file given")
	}

	result := ValidationResult{Path: path}
	var cause error
	cfg, err := config.Load(path)
	if err != nil {
		var ce *config.Error
		if !errors.As(err, &ce) {
			return WrapExitError(ExitCommandError, "failed to read configuration", err)
		}
		result.Error = &ValidationError{Field: ce.Field, Message: ce.Message}
		if ce.Pos.IsValid() {
			result.Error.Position = fmt.Sprintf("%s:%d:%d", ce.Pos.Filename(), ce.Pos.Line(), ce.Pos.Column())
		}
		cause = ce
	} else {
		result.Valid = true
		if opts.Verbose {
			result.Config = cfg
		}
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		code, message := "", ""
		if !result.Valid {
			code, message = ErrCodeConfig, cause.Error()
		}
		if err := writeJSON(w, result, code, message); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Fprintf(w, "✓ %s is valid\n", path)
		if cfg != nil && opts.Verbose {
			fmt.Fprintf(w, "  room_version: %s\n  database: %s\n  workers: %d\n  signing keys: %d server(s)\n",
				cfg.RoomVersion, cfg.Database, cfg.Workers, len(cfg.Keys))
		}
	} else {
		fmt.Fprintf(w, "✗ %v\n", cause)
	}

	if !result.Valid {
		return WrapExitError(ExitFailure, "invalid configuration", cause)
	}
	return nil
}
