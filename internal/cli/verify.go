package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// VerifyResult holds the outcome of a dry-run import.
type VerifyResult struct {
	Rooms    []RoomImport `json:"rooms"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <bundle.json>...",
		Short: "Check signatures and authorization without storing anything",
		Long: `Check the events of room bundles without touching the database.

Each bundle is imported into a private in-memory store: events are verified
against the configured signing keys and authorized against their own auth
events. Nothing is written to --db.

Exit codes:
  0 - Every event was authorized
  1 - At least one event was rejected, soft-failed or left pending
  2 - Command error (unreadable bundle, invalid configuration, etc.)

Examples:
  concord verify room.json
  concord verify room.json --config keys.cue --verbose`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runVerify(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	ctx := context.Background()
	result := VerifyResult{Rooms: make([]RoomImport, 0, len(paths))}

	for _, path := range paths {
		ri, err := verifyBundle(ctx, opts, cmd, path)
		if err != nil {
			return err
		}
		for _, out := range ri.Outcomes {
			if out.Accepted() {
				result.Accepted++
			} else {
				result.Rejected++
			}
		}
		result.Rooms = append(result.Rooms, ri)
	}

	var failure *ExitError
	if result.Rejected > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d event(s) not authorized", result.Rejected))
	}

	if opts.Format == "json" {
		code, message := "", ""
		if failure != nil {
			code, message = ErrCodeRejected, failure.Message
		}
		if err := writeJSON(cmd.OutOrStdout(), result, code, message); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, ri := range result.Rooms {
			writeRoomText(w, ri, opts.Verbose)
		}
		fmt.Fprintf(w, "%s %d accepted, %d not authorized\n", mark(failure == nil), result.Accepted, result.Rejected)
	}

	if failure != nil {
		return failure
	}
	return nil
}

// verifyBundle imports one bundle into a fresh in-memory store.
func verifyBundle(ctx context.Context, opts *RootOptions, cmd *cobra.Command, path string) (RoomImport, error) {
	s, err := opts.open(ctx, cmd, ":memory:")
	if err != nil {
		return RoomImport{}, err
	}
	defer s.Close()

	r, err := loadBundle(path, s.cfg.RoomVersion)
	if err != nil {
		return RoomImport{}, WrapExitError(ExitCommandError, "invalid bundle", err)
	}
	ri, err := importRoom(ctx, s, r)
	if err != nil {
		return RoomImport{}, WrapExitError(ExitCommandError, fmt.Sprintf("failed to verify %s", path), err)
	}
	ri.Bundle = path
	return ri, nil
}
