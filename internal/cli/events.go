package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Status string // optional - filter to one lifecycle status
}

// EventRow is one stored event with its lifecycle bookkeeping.
type EventRow struct {
	Seq      int64  `json:"seq"`
	EventID  string `json:"event_id"`
	Type     string `json:"type"`
	StateKey string `json:"state_key,omitempty"`
	Sender   string `json:"sender"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// RoomEvents lists the stored events of one room.
type RoomEvents struct {
	RoomID    string         `json:"room_id"`
	Events    []EventRow     `json:"events"`
	Snapshots []string       `json:"snapshots,omitempty"`
	Statuses  map[string]int `json:"statuses"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events [room-id...]",
		Short: "List stored events and their lifecycle status",
		Long: `List the stored events of rooms in processing order.

Each event shows its sequence number, type, sender, lifecycle status and
the reason recorded with it. With no arguments, every stored room is
listed.

Examples:
  concord events
  concord events '!room:a.example' --status soft_failed
  concord events --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "show only events with this status")

	return cmd
}

func runEvents(opts *EventsOptions, roomIDs []string, cmd *cobra.Command) error {
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

	rooms := make([]RoomEvents, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		records, err := s.store.RoomEvents(ctx, roomID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read events", err)
		}
		names, err := s.store.SnapshotNames(ctx, roomID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read snapshots", err)
		}

		re := RoomEvents{RoomID: roomID, Events: []EventRow{}, Snapshots: names, Statuses: make(map[string]int)}
		for _, rec := range records {
			re.Statuses[rec.Status]++
			if opts.Status != "" && rec.Status != opts.Status {
				continue
			}
			sk, _ := rec.Event.StateKey()
			re.Events = append(re.Events, EventRow{
				Seq:      rec.Seq,
				EventID:  rec.Event.ID(),
				Type:     rec.Event.Type(),
				StateKey: sk,
				Sender:   rec.Event.Sender(),
				Status:   rec.Status,
				Reason:   rec.Reason,
			})
		}
		rooms = append(rooms, re)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), rooms, "", "")
	}
	writeEventsText(cmd.OutOrStdout(), rooms)
	return nil
}

func writeEventsText(w io.Writer, rooms []RoomEvents) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms stored.")
		return
	}
	for _, r := range rooms {
		fmt.Fprintf(w, "Room %s: %d event(s) shown\n", r.RoomID, len(r.Events))
		for _, e := range r.Events {
			fmt.Fprintf(w, "  [%d] %s %s", e.Seq, e.EventID, e.Type)
			if e.StateKey != "" {
				fmt.Fprintf(w, " (%s)", e.StateKey)
			}
			fmt.Fprintf(w, " from %s: %s", e.Sender, e.Status)
			if e.Reason != "" {
				fmt.Fprintf(w, " [%s]", e.Reason)
			}
			fmt.Fprintln(w)
		}
		if len(r.Snapshots) > 0 {
			fmt.Fprintf(w, "  snapshots: %v\n", r.Snapshots)
		}
		fmt.Fprintln(w)
	}
}
