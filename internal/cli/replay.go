package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/engine"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	RoomID string // optional - runs of one room only
}

// ReplaySummary holds the overall replay result.
type ReplaySummary struct {
	Runs          []engine.ReplayResult `json:"runs"`
	TotalRuns     int                   `json:"total_runs"`
	AllReproduced bool                  `json:"all_reproduced"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [run-id...]",
		Short: "Re-run recorded resolutions and verify determinism",
		Long: `Re-run recorded resolutions and compare their state hashes.

A resolution depends only on its request and the stored events, so a
replay must reproduce the recorded state hash exactly. Diverging slots are
listed. Replay records nothing.

With no arguments, every recorded run is replayed, in recording order.

Exit codes:
  0 - Every run reproduced
  1 - At least one run diverged
  2 - Command error (unknown run, database failure, etc.)

Examples:
  concord replay
  concord replay 0192f3c4-...
  concord replay --room '!room:a.example' --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RoomID, "room", "", "replay runs of this room only")

	return cmd
}

func runReplay(opts *ReplayOptions, runIDs []string, cmd *cobra.Command) error {
	ctx := context.Background()

	s, err := opts.open(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	if len(runIDs) == 0 {
		runs, err := s.store.Runs(ctx, opts.RoomID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		for _, run := range runs {
			runIDs = append(runIDs, run.ID)
		}
	}

	summary := ReplaySummary{
		Runs:          make([]engine.ReplayResult, 0, len(runIDs)),
		TotalRuns:     len(runIDs),
		AllReproduced: true,
	}
	for _, id := range runIDs {
		res, err := s.engine.Replay(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", id), err)
		}
		summary.Runs = append(summary.Runs, res)
		if !res.Match {
			summary.AllReproduced = false
		}
	}

	if opts.Format == "json" {
		code, message := "", ""
		if !summary.AllReproduced {
			code, message = ErrCodeDeterminism, "determinism verification failed"
		}
		if err := writeJSON(cmd.OutOrStdout(), summary, code, message); err != nil {
			return err
		}
	} else {
		writeReplayText(cmd.OutOrStdout(), summary, opts.Verbose)
	}

	if !summary.AllReproduced {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

func writeReplayText(w io.Writer, summary ReplaySummary, verbose bool) {
	if summary.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d run(s)\n\n", summary.TotalRuns)
	for _, r := range summary.Runs {
		fmt.Fprintf(w, "%s Run: %s (%s)\n", mark(r.Match), r.RunID, r.RoomID)
		if verbose || !r.Match {
			fmt.Fprintf(w, "  recorded: %s\n", r.Expected)
			fmt.Fprintf(w, "  replayed: %s\n", r.Actual)
		}
		for _, d := range r.Diff {
			fmt.Fprintf(w, "  %s: %s -> %s\n", d.Key, orAbsent(d.Expected), orAbsent(d.Actual))
		}
	}
	fmt.Fprintln(w)

	if summary.AllReproduced {
		fmt.Fprintln(w, "✓ All runs reproduced")
		return
	}
	fmt.Fprintln(w, "✗ Determinism verification failed")
}

func orAbsent(id string) string {
	if id == "" {
		return "(absent)"
	}
	return id
}
