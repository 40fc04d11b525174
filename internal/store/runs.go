package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/concord/internal/stateres"
)

// Run is one recorded resolution.
type Run struct {
	ID          string
	RoomID      string
	RoomVersion string
	Request     stateres.Request
	InputHash   string
	StateHash   string
	Result      *stateres.Result
	Seq         int64
}

// PutRun records a resolution run. Uses ON CONFLICT(run_id) DO NOTHING so a
// retried write of the same run is harmless.
func (s *Store) PutRun(ctx context.Context, run Run) error {
	if run.Result == nil {
		return fmt.Errorf("put run %s: nil result", run.ID)
	}
	request, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("put run %s: marshal request: %w", run.ID, err)
	}
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("put run %s: marshal result: %w", run.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, room_id, room_version, request, input_hash, state_hash, result, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		run.ID,
		run.RoomID,
		run.RoomVersion,
		request,
		run.InputHash,
		run.StateHash,
		result,
		run.Seq,
	)
	if err != nil {
		return fmt.Errorf("put run %s: %w", run.ID, err)
	}
	return nil
}

// Run returns the recorded run with the given ID.
func (s *Store) Run(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, room_id, room_version, request, input_hash, state_hash, result, seq
		FROM runs WHERE run_id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// Runs returns every recorded run of roomID, or of all rooms when roomID is
// empty. Ordered by seq ASC, run_id ASC.
func (s *Store) Runs(ctx context.Context, roomID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, room_id, room_version, request, input_hash, state_hash, result, seq
		FROM runs
		WHERE ? = '' OR room_id = ?
		ORDER BY seq ASC, run_id COLLATE BINARY ASC
	`, roomID, roomID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row scanner) (Run, error) {
	var (
		run             Run
		request, result []byte
	)
	err := row.Scan(&run.ID, &run.RoomID, &run.RoomVersion, &request, &run.InputHash, &run.StateHash, &result, &run.Seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal(request, &run.Request); err != nil {
		return Run{}, fmt.Errorf("decode request of run %s: %w", run.ID, err)
	}
	run.Result = &stateres.Result{}
	if err := json.Unmarshal(result, run.Result); err != nil {
		return Run{}, fmt.Errorf("decode result of run %s: %w", run.ID, err)
	}
	return run, nil
}
