package engine

import (
	"context"
	"fmt"

	"github.com/roach88/concord/internal/stateres"
)

// ReplayResult compares a recorded run with a fresh resolution of the same
// request.
type ReplayResult struct {
	RunID    string `json:"run_id"`
	RoomID   string `json:"room_id"`
	Match    bool   `json:"match"`
	Expected string `json:"expected_state_hash"`
	Actual   string `json:"actual_state_hash"`

	// Diff lists the slots whose event differs, in key order. Empty on a
	// match.
	Diff []SlotDiff `json:"diff,omitempty"`
}

// SlotDiff is one state slot that resolved differently on replay. An empty
// side means the slot was absent.
type SlotDiff struct {
	Key      string `json:"key"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Replay re-resolves the request of a recorded run and compares the state
// hash. Resolution is a pure function of the request and the stored
// events, so a mismatch means the events or the resolver changed.
//
// Replay records nothing.
func (e *Engine) Replay(ctx context.Context, runID string) (ReplayResult, error) {
	run, err := e.store.Run(ctx, runID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}

	t := e.lanes.enter(run.RoomID)
	if err := t.wait(ctx); err != nil {
		return ReplayResult{}, err
	}
	defer t.release()

	res, err := e.resolver.Resolve(ctx, run.Request)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}

	out := ReplayResult{
		RunID:    run.ID,
		RoomID:   run.RoomID,
		Expected: run.StateHash,
		Actual:   stateres.HashState(res.State),
	}
	out.Match = out.Expected == out.Actual
	if !out.Match {
		out.Diff = diffState(run.Result.State, res.State)
		e.logger.Warn("replay diverged",
			"room", run.RoomID,
			"run", run.ID,
			"slots", len(out.Diff))
	}
	return out, nil
}

func diffState(expected, actual stateres.StateMap) []SlotDiff {
	union := expected.Clone()
	for k, id := range actual {
		union[k] = id
	}

	var diffs []SlotDiff
	for _, k := range union.Keys() {
		if expected[k] != actual[k] {
			diffs = append(diffs, SlotDiff{Key: k.String(), Expected: expected[k], Actual: actual[k]})
		}
	}
	return diffs
}
