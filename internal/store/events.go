package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/stateres"
)

// StatusReceived is the status of a freshly written event.
const StatusReceived = "received"

// EventRecord is an event with its lifecycle bookkeeping.
type EventRecord struct {
	Event  *event.Event
	Status string
	Reason string
	Seq    int64
}

// PutEvent stores ev at sequence number seq with status "received".
// Uses ON CONFLICT(event_id) DO NOTHING, so the first copy written wins.
// The event ID does not cover signatures or unsigned data: a later copy
// with the same ID may differ in those, and only ReplaceEvent swaps it in.
// Reports whether a row was inserted.
func (s *Store) PutEvent(ctx context.Context, ev *event.Event, seq int64) (bool, error) {
	var stateKey sql.NullString
	if sk, ok := ev.StateKey(); ok {
		stateKey = sql.NullString{String: sk, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(event_id, room_id, type, state_key, sender, origin_server_ts, json, status, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`,
		ev.ID(),
		ev.RoomID(),
		ev.Type(),
		stateKey,
		ev.Sender(),
		ev.OriginServerTS(),
		ev.JSON(),
		StatusReceived,
		seq,
	)
	if err != nil {
		return false, fmt.Errorf("put event %s: %w", ev.ID(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put event %s: %w", ev.ID(), err)
	}
	return n > 0, nil
}

// ReplaceEvent overwrites the stored wire form of an event with another
// copy carrying the same ID. Status, reason and seq are left alone.
func (s *Store) ReplaceEvent(ctx context.Context, ev *event.Event) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET json = ? WHERE event_id = ?
	`, ev.JSON(), ev.ID())
	if err != nil {
		return fmt.Errorf("replace event %s: %w", ev.ID(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace event %s: %w", ev.ID(), err)
	}
	if n == 0 {
		return fmt.Errorf("replace event %s: %w", ev.ID(), ErrNotFound)
	}
	return nil
}

// SetStatus records a lifecycle status for a stored event.
func (s *Store) SetStatus(ctx context.Context, eventID, status, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, reason = ? WHERE event_id = ?
	`, status, reason, eventID)
	if err != nil {
		return fmt.Errorf("set status of %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status of %s: %w", eventID, err)
	}
	if n == 0 {
		return fmt.Errorf("set status of %s: %w", eventID, ErrNotFound)
	}
	return nil
}

// Event implements stateres.EventSource.
func (s *Store) Event(ctx context.Context, id string) (*event.Event, error) {
	rec, err := s.EventRecord(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, stateres.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.Event, nil
}

// EventRecord returns the stored event with its status.
func (s *Store) EventRecord(ctx context.Context, id string) (EventRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT json, status, reason, seq FROM events WHERE event_id = ?
	`, id)
	rec, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// RoomEvents returns every stored event of roomID.
// Ordered by seq ASC, event_id ASC.
func (s *Store) RoomEvents(ctx context.Context, roomID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json, status, reason, seq FROM events
		WHERE room_id = ?
		ORDER BY seq ASC, event_id COLLATE BINARY ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query room events: %w", err)
	}
	defer rows.Close()

	records := []EventRecord{}
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room events: %w", err)
	}
	return records, nil
}

// Rooms returns the distinct room IDs with stored events, sorted.
func (s *Store) Rooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT room_id FROM events ORDER BY room_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	rooms := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, id)
	}
	return rooms, rows.Err()
}

// LastSeq returns the highest sequence number used by events or runs, or 0.
// The engine resumes its clock from here.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM events), 0),
			COALESCE((SELECT MAX(seq) FROM runs), 0)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (EventRecord, error) {
	var (
		raw []byte
		rec EventRecord
	)
	if err := row.Scan(&raw, &rec.Status, &rec.Reason, &rec.Seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EventRecord{}, err
		}
		return EventRecord{}, fmt.Errorf("scan event: %w", err)
	}
	ev, err := event.Parse(raw)
	if err != nil {
		return EventRecord{}, fmt.Errorf("decode stored event: %w", err)
	}
	rec.Event = ev
	return rec, nil
}
