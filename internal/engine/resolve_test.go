package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/stateres"
	"github.com/roach88/concord/internal/store"
	"github.com/roach88/concord/internal/testutil"
)

func storeTips(t *testing.T, s *store.Store, roomID string, tips map[string]*testutil.Room) {
	t.Helper()
	for name, branch := range tips {
		require.NoError(t, s.PutSnapshot(context.Background(), roomID, name, branch.Snapshot()))
	}
}

func TestResolve_RecordsRun(t *testing.T) {
	s := setupTestStore(t)
	r, a, b := forkedRoom(t, alice)
	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...),
		WithRunIDs(NewFixedGenerator("run-1")))
	processAll(t, e, r)
	storeTips(t, s, r.ID(), map[string]*testutil.Room{"a": a, "b": b})
	ctx := context.Background()

	req, err := e.StoredRequest(ctx, r.ID(), "10")
	require.NoError(t, err)
	require.Len(t, req.Tips, 2)

	run, err := e.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, a.Lookup("m.room.topic", "").ID(), run.Result.State[event.Key{Type: "m.room.topic"}])
	assert.Equal(t, b.Lookup("m.room.name", "").ID(), run.Result.State[event.Key{Type: "m.room.name"}])
	assert.Equal(t, stateres.HashState(run.Result.State), run.StateHash)
	assert.Equal(t, stateres.HashRequest(req), run.InputHash)

	stored, err := s.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StateHash, stored.StateHash)
	assert.Equal(t, e.Seq(), stored.Seq, "runs are stamped from the same clock")
}

func TestResolve_FailureRecordsNothing(t *testing.T) {
	s := setupTestStore(t)
	r, a, b := forkedRoom(t, alice)
	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))

	// Nothing processed: every referenced event is missing.
	_, err := e.Resolve(context.Background(), stateres.Request{
		RoomID:      r.ID(),
		RoomVersion: "10",
		Tips:        []stateres.StateMap{a.Snapshot(), b.Snapshot()},
	})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	runs, err := s.Runs(context.Background(), r.ID())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestResolveAll_AcrossRooms(t *testing.T) {
	s := setupTestStore(t)
	r1, a1, b1 := forkedRoom(t, alice)
	r2, a2, b2 := forkedRoom(t, carol)
	require.NotEqual(t, r1.ID(), r2.ID())

	servers := append(r1.Servers(), r2.Servers()...)
	e := newTestEngine(t, s, testutil.KeyRing(servers...),
		WithWorkers(2),
		WithRunIDs(testutil.NewSequenceRunIDs("")))
	processAll(t, e, r1)
	processAll(t, e, r2)

	reqs := []stateres.Request{
		{RoomID: r1.ID(), RoomVersion: "10", Tips: []stateres.StateMap{a1.Snapshot(), b1.Snapshot()}},
		{RoomID: r2.ID(), RoomVersion: "10", Tips: []stateres.StateMap{a2.Snapshot(), b2.Snapshot()}},
		{RoomID: r1.ID(), RoomVersion: "10", Tips: []stateres.StateMap{b1.Snapshot(), a1.Snapshot()}},
	}
	runs, err := e.ResolveAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	for i, run := range runs {
		require.NotNil(t, run)
		assert.Equal(t, reqs[i].RoomID, run.RoomID)
	}
	assert.Equal(t, runs[0].StateHash, runs[2].StateHash, "tip order does not matter")
	assert.Less(t, runs[0].Seq, runs[2].Seq, "same-room resolutions run in order")

	stats := e.Cache().Stats()
	assert.Positive(t, stats.AuthChains.Hits+stats.AuthChains.Misses)

	stored, err := s.Runs(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestResolveAll_ReportsFailure(t *testing.T) {
	s := setupTestStore(t)
	r, a, b := forkedRoom(t, alice)
	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))

	_, err := e.ResolveAll(context.Background(), []stateres.Request{
		{RoomID: r.ID(), RoomVersion: "10", Tips: []stateres.StateMap{a.Snapshot(), b.Snapshot()}},
	})
	require.Error(t, err)
	assert.True(t, stateres.IsMissingDependency(err))
}

func TestSnapshotFromTip(t *testing.T) {
	s := setupTestStore(t)
	r, a, _ := forkedRoom(t, alice)
	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	processAll(t, e, r)

	state, err := e.SnapshotFromTip(context.Background(), a.Tip()[0])
	require.NoError(t, err)
	assert.Equal(t, stateres.StateMap(a.Snapshot()), state)
}

func TestSnapshotFromTip_PartialHistory(t *testing.T) {
	s := setupTestStore(t)
	r, a, _ := forkedRoom(t, alice)
	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	ctx := context.Background()

	// Only the tip is imported; its ancestors and auth events are not.
	tip := r.Event(a.Tip()[0])
	out, err := e.Process(ctx, r.Version(), tip)
	require.Error(t, err)
	require.Equal(t, StatusMissingDependency, out.Status)

	state, err := e.SnapshotFromTip(ctx, tip.ID())
	require.NoError(t, err)
	assert.Empty(t, state)

	_, err = e.SnapshotFromTip(ctx, "$unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReplay(t *testing.T) {
	s := setupTestStore(t)
	r, a, b := forkedRoom(t, alice)
	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...),
		WithRunIDs(NewFixedGenerator("run-1")))
	processAll(t, e, r)
	ctx := context.Background()

	req := stateres.Request{
		RoomID:      r.ID(),
		RoomVersion: "10",
		Tips:        []stateres.StateMap{a.Snapshot(), b.Snapshot()},
	}
	run, err := e.Resolve(ctx, req)
	require.NoError(t, err)

	t.Run("match", func(t *testing.T) {
		got, err := e.Replay(ctx, run.ID)
		require.NoError(t, err)
		assert.True(t, got.Match)
		assert.Equal(t, run.StateHash, got.Actual)
		assert.Empty(t, got.Diff)
	})

	t.Run("divergence", func(t *testing.T) {
		forged := *run
		forged.ID = "forged"
		forged.StateHash = "0000"
		forged.Result = &stateres.Result{State: stateres.StateMap{}}
		require.NoError(t, s.PutRun(ctx, forged))

		got, err := e.Replay(ctx, "forged")
		require.NoError(t, err)
		assert.False(t, got.Match)
		assert.Len(t, got.Diff, len(run.Result.State))
		for _, d := range got.Diff {
			assert.Empty(t, d.Expected)
			assert.NotEmpty(t, d.Actual)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := e.Replay(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
