package store

import (
	"context"
	"fmt"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/stateres"
)

// PutSnapshot replaces the named snapshot of roomID with state.
func (s *Store) PutSnapshot(ctx context.Context, roomID, name string, state stateres.StateMap) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE room_id = ? AND name = ?
	`, roomID, name); err != nil {
		return fmt.Errorf("put snapshot: clear: %w", err)
	}

	for _, k := range state.Keys() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (room_id, name, type, state_key, event_id)
			VALUES (?, ?, ?, ?, ?)
		`, roomID, name, k.Type, k.StateKey, state[k]); err != nil {
			return fmt.Errorf("put snapshot: insert %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put snapshot: commit: %w", err)
	}
	return nil
}

// Snapshot returns the named snapshot of roomID.
func (s *Store) Snapshot(ctx context.Context, roomID, name string) (stateres.StateMap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, state_key, event_id FROM snapshots
		WHERE room_id = ? AND name = ?
		ORDER BY type COLLATE BINARY ASC, state_key COLLATE BINARY ASC
	`, roomID, name)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	state := stateres.StateMap{}
	for rows.Next() {
		var k event.Key
		var id string
		if err := rows.Scan(&k.Type, &k.StateKey, &id); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		state[k] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	if len(state) == 0 {
		return nil, fmt.Errorf("snapshot %s of %s: %w", name, roomID, ErrNotFound)
	}
	return state, nil
}

// SnapshotNames returns the snapshot names stored for roomID, sorted.
func (s *Store) SnapshotNames(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT name FROM snapshots WHERE room_id = ?
		ORDER BY name COLLATE BINARY ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query snapshot names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan snapshot name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Tips returns every snapshot of roomID, in name order.
func (s *Store) Tips(ctx context.Context, roomID string) ([]stateres.StateMap, error) {
	names, err := s.SnapshotNames(ctx, roomID)
	if err != nil {
		return nil, err
	}
	tips := make([]stateres.StateMap, 0, len(names))
	for _, name := range names {
		state, err := s.Snapshot(ctx, roomID, name)
		if err != nil {
			return nil, err
		}
		tips = append(tips, state)
	}
	return tips, nil
}
