package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/stateres"
	"github.com/roach88/concord/internal/store"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	NoTimeline bool
}

// RoomResolution is the recorded outcome of resolving one room.
type RoomResolution struct {
	RunID      string               `json:"run_id"`
	RoomID     string               `json:"room_id"`
	StateHash  string               `json:"state_hash"`
	State      stateres.StateMap    `json:"state"`
	SoftFailed []stateres.Rejection `json:"soft_failed,omitempty"`
	Superseded []string             `json:"superseded,omitempty"`
	Timeline   []string             `json:"timeline,omitempty"`
	Stats      stateres.Stats       `json:"stats"`
}

// ResolveResult holds the overall resolve result.
type ResolveResult struct {
	Rooms   []RoomResolution `json:"rooms"`
	Skipped []string         `json:"skipped,omitempty"` // rooms without snapshots
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve [room-id...]",
		Short: "Resolve the state of stored rooms",
		Long: `Resolve the state of stored rooms from their snapshots.

Each room's stored snapshots are its tips; its authorized timeline events
are ordered along the resolved power-levels mainline. Rooms resolve in
parallel, up to the configured number of workers. Every resolution is
recorded as a run that replay can check later.

With no arguments, every stored room is resolved.

Exit codes:
  0 - Every room resolved
  1 - A resolution failed (missing events, cycle, budget exceeded)
  2 - Command error (database failure, etc.)

Examples:
  concord resolve
  concord resolve '!room:a.example' --format json
  concord resolve --no-timeline --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoTimeline, "no-timeline", false, "skip timeline ordering")

	return cmd
}

func runResolve(opts *ResolveOptions, roomIDs []string, cmd *cobra.Command) error {
	ctx := context.Background()

	s, err := opts.open(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	if len(roomIDs) == 0 {
		if roomIDs, err = s.store.Rooms(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to list rooms", err)
		}
	}

	var (
		result ResolveResult
		reqs   []stateres.Request
	)
	for _, roomID := range roomIDs {
		version, err := roomVersion(ctx, s.store, roomID, s.cfg.RoomVersion)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read room", err)
		}
		req, err := s.engine.StoredRequest(ctx, roomID, version)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load snapshots", err)
		}
		if len(req.Tips) == 0 {
			result.Skipped = append(result.Skipped, roomID)
			continue
		}
		if opts.NoTimeline {
			req.Timeline = nil
		}
		reqs = append(reqs, req)
	}

	runs, err := s.engine.ResolveAll(ctx, reqs)
	for _, run := range runs {
		if run != nil {
			result.Rooms = append(result.Rooms, roomResolution(run))
		}
	}

	var failure *ExitError
	if err != nil {
		var re *stateres.ResolutionError
		if !errors.As(err, &re) {
			return WrapExitError(ExitCommandError, "resolution failed", err)
		}
		failure = WrapExitError(ExitFailure, "resolution failed", err)
	}

	if opts.Format == "json" {
		code, message := "", ""
		if failure != nil {
			code, message = ErrCodeResolution, failure.Error()
		}
		if err := writeJSON(cmd.OutOrStdout(), result, code, message); err != nil {
			return err
		}
	} else {
		writeResolveText(cmd.OutOrStdout(), result, failure, opts.Verbose)
	}

	if failure != nil {
		return failure
	}
	return nil
}

func roomResolution(run *store.Run) RoomResolution {
	res := run.Result
	return RoomResolution{
		RunID:      run.ID,
		RoomID:     run.RoomID,
		StateHash:  run.StateHash,
		State:      res.State,
		SoftFailed: res.SoftFailed,
		Superseded: res.Superseded,
		Timeline:   res.Timeline,
		Stats:      res.Stats,
	}
}

// roomVersion reads the version from the room's create event, or returns
// fallback when the create event is not stored or names none.
func roomVersion(ctx context.Context, st *store.Store, roomID, fallback string) (string, error) {
	records, err := st.RoomEvents(ctx, roomID)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		if rec.Event.Is(event.TypeCreate, "") {
			if v := event.ParseCreate(rec.Event).RoomVersion; v != "" {
				return v, nil
			}
			break
		}
	}
	return fallback, nil
}

func writeResolveText(w io.Writer, result ResolveResult, failure *ExitError, verbose bool) {
	if len(result.Rooms) == 0 && len(result.Skipped) == 0 && failure == nil {
		fmt.Fprintln(w, "No rooms stored.")
		return
	}
	for _, r := range result.Rooms {
		fmt.Fprintf(w, "✓ %s\n", r.RoomID)
		fmt.Fprintf(w, "  run:        %s\n", r.RunID)
		fmt.Fprintf(w, "  state hash: %s\n", r.StateHash)
		fmt.Fprintf(w, "  slots: %d, soft-failed: %d, superseded: %d, timeline: %d\n",
			len(r.State), len(r.SoftFailed), len(r.Superseded), len(r.Timeline))
		if verbose {
			for _, k := range r.State.Keys() {
				fmt.Fprintf(w, "    %s = %s\n", k, r.State[k])
			}
			for _, rej := range r.SoftFailed {
				fmt.Fprintf(w, "    soft-failed %s (%s)\n", rej.EventID, rej.Reason)
			}
		}
		fmt.Fprintln(w)
	}
	for _, roomID := range result.Skipped {
		fmt.Fprintf(w, "- %s: no snapshots, skipped\n", roomID)
	}
	if failure != nil {
		fmt.Fprintf(w, "✗ %v\n", failure.Err)
	}
}
