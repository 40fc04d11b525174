package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/concord/internal/stateres"
	"github.com/roach88/concord/internal/store"
)

// Resolve resolves req and records the run in the store.
//
// Resolutions of one room run one at a time in submission order. A failed
// resolution records nothing.
func (e *Engine) Resolve(ctx context.Context, req stateres.Request) (*store.Run, error) {
	t := e.lanes.enter(req.RoomID)
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	defer t.release()
	return e.resolve(ctx, req)
}

func (e *Engine) resolve(ctx context.Context, req stateres.Request) (*store.Run, error) {
	res, err := e.resolver.Resolve(ctx, req)
	if err != nil {
		e.logger.Warn("resolution failed",
			"room", req.RoomID,
			"retryable", IsRetryable(err),
			"error", err)
		return nil, err
	}

	run := &store.Run{
		ID:          e.runIDs.Generate(),
		RoomID:      req.RoomID,
		RoomVersion: res.RoomVersion,
		Request:     req,
		InputHash:   stateres.HashRequest(req),
		StateHash:   stateres.HashState(res.State),
		Result:      res,
		Seq:         e.clock.Next(),
	}
	if err := e.store.PutRun(ctx, *run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	e.logger.Info("room state resolved",
		"room", req.RoomID,
		"run", run.ID,
		"state_hash", run.StateHash,
		"soft_failed", len(res.SoftFailed),
		"superseded", len(res.Superseded))
	return run, nil
}

// ResolveAll resolves every request, up to the configured number of rooms
// at once. Requests for the same room run in slice order. runs[i] belongs
// to reqs[i]; on error the first failure is returned and outstanding
// resolutions are cancelled.
func (e *Engine) ResolveAll(ctx context.Context, reqs []stateres.Request) ([]*store.Run, error) {
	runs := make([]*store.Run, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, req := range reqs {
		// Tickets are issued here, before g.Go may block, so each room's
		// lane follows slice order.
		t := e.lanes.enter(req.RoomID)
		g.Go(func() error {
			if err := t.wait(gctx); err != nil {
				return err
			}
			defer t.release()

			run, err := e.resolve(gctx, req)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", req.RoomID, err)
			}
			runs[i] = run
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return runs, err
	}
	return runs, nil
}

// StoredRequest builds a resolution request for roomID from the store: the
// tips are the room's named snapshots and the timeline is every authorized
// non-state event.
func (e *Engine) StoredRequest(ctx context.Context, roomID, roomVersion string) (stateres.Request, error) {
	tips, err := e.store.Tips(ctx, roomID)
	if err != nil {
		return stateres.Request{}, fmt.Errorf("stored request for %s: %w", roomID, err)
	}
	records, err := e.store.RoomEvents(ctx, roomID)
	if err != nil {
		return stateres.Request{}, fmt.Errorf("stored request for %s: %w", roomID, err)
	}

	var timeline []string
	for _, rec := range records {
		if Status(rec.Status) == StatusAuthorized && !rec.Event.IsState() {
			timeline = append(timeline, rec.Event.ID())
		}
	}
	return stateres.Request{
		RoomID:      roomID,
		RoomVersion: roomVersion,
		Tips:        tips,
		Timeline:    timeline,
	}, nil
}

// SnapshotFromTip derives the state at a forward extremity by replaying
// the authorized state events reachable from it through prev_events, in
// sequence order. Ancestors that were never imported are skipped; the tip
// itself must be stored. It is how imported rooms get their tips when no
// snapshot was supplied.
func (e *Engine) SnapshotFromTip(ctx context.Context, tip string) (stateres.StateMap, error) {
	seen := map[string]bool{tip: true}
	stack := []string{tip}
	var reached []store.EventRecord

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rec, err := e.store.EventRecord(ctx, id)
		if errors.Is(err, store.ErrNotFound) && id != tip {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot from %s: %w", tip, err)
		}
		reached = append(reached, rec)
		for _, p := range rec.Event.PrevEvents() {
			if !seen[p] {
				seen[p] = true
				stack = append(stack, p)
			}
		}
	}

	sortRecords(reached)
	state := stateres.StateMap{}
	for _, rec := range reached {
		if Status(rec.Status) == StatusAuthorized && rec.Event.IsState() {
			state[rec.Event.Key()] = rec.Event.ID()
		}
	}
	return state, nil
}

func sortRecords(recs []store.EventRecord) {
	slices.SortFunc(recs, func(a, b store.EventRecord) int {
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		return strings.Compare(a.Event.ID(), b.Event.ID())
	})
}
