package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/engine"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
}

// RoomImport summarizes the import of one bundle.
type RoomImport struct {
	Bundle      string         `json:"bundle"`
	RoomID      string         `json:"room_id"`
	RoomVersion string         `json:"room_version"`
	Events      int            `json:"events"`
	Statuses    map[string]int `json:"statuses"`
	Snapshots   []string       `json:"snapshots,omitempty"`

	// Outcomes lists every processed event in bundle order.
	Outcomes []engine.Outcome `json:"outcomes"`
}

// ImportResult holds the overall import result.
type ImportResult struct {
	Rooms []RoomImport `json:"rooms"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <bundle.json>...",
		Short: "Import room bundles into the store",
		Long: `Import room bundles into the store.

Every event is stored, verified against the configured signing keys and
authorized against its own auth events. Tips and snapshots named in the
bundle become the room's stored snapshots, which resolve uses.

Events whose signing key or auth events are unavailable stay pending and
are retried when the bundle is imported again.

Exit codes:
  0 - All bundles imported
  2 - Command error (unreadable bundle, database failure, etc.)

Examples:
  concord import room.json
  concord import --db ./concord.db a.json b.json
  concord import room.json --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args, cmd)
		},
	}

	return cmd
}

func runImport(opts *ImportOptions, paths []string, cmd *cobra.Command) error {
	ctx := context.Background()

	s, err := opts.open(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	result := ImportResult{Rooms: make([]RoomImport, 0, len(paths))}
	for _, path := range paths {
		r, err := loadBundle(path, s.cfg.RoomVersion)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid bundle", err)
		}
		ri, err := importRoom(ctx, s, r)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to import %s", path), err)
		}
		ri.Bundle = path
		result.Rooms = append(result.Rooms, ri)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result, "", "")
	}
	for _, ri := range result.Rooms {
		writeRoomText(cmd.OutOrStdout(), ri, opts.Verbose)
	}
	return nil
}

// importRoom processes the events of r in bundle order, then stores its
// snapshots.
func importRoom(ctx context.Context, s *session, r *room) (RoomImport, error) {
	ri := RoomImport{
		RoomID:      r.id,
		RoomVersion: r.version,
		Events:      len(r.events),
		Statuses:    make(map[string]int),
	}

	for _, ev := range r.events {
		out, err := s.engine.Process(ctx, r.version, ev)
		if err != nil && !engine.IsRetryable(err) {
			return ri, err
		}
		ri.Statuses[string(out.Status)]++
		ri.Outcomes = append(ri.Outcomes, out)
	}

	for _, name := range r.names() {
		state, ok := r.states[name]
		if !ok {
			var err error
			if state, err = s.engine.SnapshotFromTip(ctx, r.tips[name]); err != nil {
				return ri, err
			}
		}
		if err := s.store.PutSnapshot(ctx, r.id, name, state); err != nil {
			return ri, err
		}
		ri.Snapshots = append(ri.Snapshots, name)
	}

	s.logger.Info("room imported",
		"room", r.id,
		"events", len(r.events),
		"snapshots", len(ri.Snapshots))
	return ri, nil
}

func writeRoomText(w io.Writer, ri RoomImport, verbose bool) {
	fmt.Fprintf(w, "Room %s (version %s): %d event(s)\n", ri.RoomID, ri.RoomVersion, ri.Events)
	for _, status := range slices.Sorted(maps.Keys(ri.Statuses)) {
		fmt.Fprintf(w, "  %-20s %d\n", status, ri.Statuses[status])
	}
	if len(ri.Snapshots) > 0 {
		fmt.Fprintf(w, "  snapshots: %v\n", ri.Snapshots)
	}
	for _, out := range ri.Outcomes {
		if out.Accepted() && !verbose {
			continue
		}
		fmt.Fprintf(w, "  %s %s %s", mark(out.Accepted()), out.EventID, out.Status)
		if out.Reason != "" {
			fmt.Fprintf(w, " (%s)", out.Reason)
		}
		fmt.Fprintln(w)
		if verbose && out.Detail != "" {
			fmt.Fprintf(w, "      %s\n", out.Detail)
		}
	}
	fmt.Fprintln(w)
}
