package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/auth"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/signing"
	"github.com/roach88/concord/internal/stateres"
	"github.com/roach88/concord/internal/store"
	"github.com/roach88/concord/internal/testutil"
)

const (
	alice = "@alice:a.example"
	bob   = "@bob:b.example"
	carol = "@carol:c.example"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, keys signing.KeyRing, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(discard())}, opts...)
	e, err := New(context.Background(), s, keys, opts...)
	require.NoError(t, err)
	return e
}

func processAll(t *testing.T, e *Engine, r *testutil.Room) {
	t.Helper()
	for _, ev := range r.Events() {
		out, err := e.Process(context.Background(), r.Version(), ev)
		require.NoError(t, err, "process %s", ev)
		require.Equal(t, StatusAuthorized, out.Status, "process %s: %s %s", ev, out.Reason, out.Detail)
	}
}

// forkedRoom is a room where alice holds power 100 and two branches each
// set one slot.
func forkedRoom(t *testing.T, creator string) (r, a, b *testutil.Room) {
	r = testutil.NewRoom(t, "10", creator)
	r.PowerLevels(creator, map[string]int64{creator: 100}, nil)
	a, b = r.Fork(), r.Fork()
	a.State(creator, "m.room.topic", "", map[string]any{"topic": "a"})
	b.State(creator, "m.room.name", "", map[string]any{"name": "b"})
	return r, a, b
}

func TestProcess_AuthorizesInOrder(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	r.PowerLevels(alice, map[string]int64{alice: 100}, nil)
	r.JoinRules(alice, event.JoinRulePublic)
	r.Join(bob)
	r.Message(bob, "hi")

	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	processAll(t, e, r)
	assert.Equal(t, int64(len(r.Events())), e.Seq())

	records, err := s.RoomEvents(context.Background(), r.ID())
	require.NoError(t, err)
	for i, rec := range records {
		assert.Equal(t, string(StatusAuthorized), rec.Status)
		assert.Equal(t, string(auth.ReasonOK), rec.Reason)
		assert.Equal(t, int64(i+1), rec.Seq)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	processAll(t, e, r)

	ev := r.Events()[1]
	again, err := e.Process(context.Background(), "10", ev)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, again.Status)
	assert.Equal(t, int64(2), again.Seq)
	assert.Equal(t, int64(2), e.Seq(), "no new sequence number for a known event")
}

func TestProcess_SignatureInvalid(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)

	keys := signing.NewStaticKeyRing()
	keys.Add("a.example", testutil.KeyID, testutil.PublicKey("evil.example"))
	e := newTestEngine(t, s, keys)

	create := r.Events()[0]
	out, err := e.Process(context.Background(), "10", create)
	require.NoError(t, err, "a bad signature is a final outcome")
	assert.Equal(t, StatusSignatureInvalid, out.Status)
	assert.Equal(t, ReasonSignatureInvalid, out.Reason)
	assert.NotEmpty(t, out.Detail)
	assert.False(t, out.Accepted())

	again, err := e.Process(context.Background(), "10", create)
	require.NoError(t, err)
	assert.Equal(t, StatusSignatureInvalid, again.Status)
}

func TestProcess_UnknownSigningKeyIsRetryable(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	keys := signing.NewStaticKeyRing()
	e := newTestEngine(t, s, keys)

	create := r.Events()[0]
	out, err := e.Process(context.Background(), "10", create)
	require.Error(t, err)
	assert.True(t, signing.IsUnknownSigningKey(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, StatusReceived, out.Status)
	assert.Equal(t, ReasonUnknownSigningKey, out.Reason)

	keys.Add("a.example", testutil.KeyID, testutil.PublicKey("a.example"))
	out, err = e.Process(context.Background(), "10", create)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, out.Status)
	assert.Equal(t, int64(1), out.Seq)
}

func TestProcess_OtherCopyAfterBadSignature(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	create := r.Events()[0]

	// relay.example is known under a different key, so its extra signature
	// fails while the sender's still verifies.
	keys := testutil.KeyRing("a.example")
	keys.Add("relay.example", testutil.KeyID, testutil.PublicKey("mallory.example"))
	e := newTestEngine(t, s, keys)

	tampered, err := signing.Sign(create, "relay.example", testutil.KeyID, testutil.Key("relay.example"))
	require.NoError(t, err)
	require.Equal(t, create.ID(), tampered.ID())

	out, err := e.Process(context.Background(), "10", tampered)
	require.NoError(t, err)
	require.Equal(t, StatusSignatureInvalid, out.Status)

	out, err = e.Process(context.Background(), "10", tampered)
	require.NoError(t, err)
	assert.Equal(t, StatusSignatureInvalid, out.Status, "the same copy keeps its outcome")

	out, err = e.Process(context.Background(), "10", create)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, out.Status)
	assert.Equal(t, int64(1), out.Seq)

	rec, err := s.EventRecord(context.Background(), create.ID())
	require.NoError(t, err)
	assert.Equal(t, string(StatusAuthorized), rec.Status)
	assert.Equal(t, create.JSON(), rec.Event.JSON(), "the verified copy is stored")

	out, err = e.Process(context.Background(), "10", tampered)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, out.Status, "a bad copy cannot undo an accepted event")
	rec, err = s.EventRecord(context.Background(), create.ID())
	require.NoError(t, err)
	assert.Equal(t, create.JSON(), rec.Event.JSON())
}

func TestProcess_OtherCopyAfterUnknownKey(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	create := r.Events()[0]
	e := newTestEngine(t, s, testutil.KeyRing("a.example"))

	tampered, err := signing.Sign(create, "relay.example", testutil.KeyID, testutil.Key("relay.example"))
	require.NoError(t, err)

	out, err := e.Process(context.Background(), "10", tampered)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, StatusReceived, out.Status)

	out, err = e.Process(context.Background(), "10", create)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, out.Status)

	rec, err := s.EventRecord(context.Background(), create.ID())
	require.NoError(t, err)
	assert.Equal(t, create.JSON(), rec.Event.JSON())
}

func TestProcess_OtherCopyStillInvalid(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	create := r.Events()[0]

	keys := testutil.KeyRing("a.example")
	keys.Add("relay.example", testutil.KeyID, testutil.PublicKey("mallory.example"))
	keys.Add("other.example", testutil.KeyID, testutil.PublicKey("mallory.example"))
	e := newTestEngine(t, s, keys)

	first, err := signing.Sign(create, "relay.example", testutil.KeyID, testutil.Key("relay.example"))
	require.NoError(t, err)
	second, err := signing.Sign(create, "other.example", testutil.KeyID, testutil.Key("other.example"))
	require.NoError(t, err)

	out, err := e.Process(context.Background(), "10", first)
	require.NoError(t, err)
	require.Equal(t, StatusSignatureInvalid, out.Status)

	out, err = e.Process(context.Background(), "10", second)
	require.NoError(t, err)
	assert.Equal(t, StatusSignatureInvalid, out.Status)

	rec, err := s.EventRecord(context.Background(), create.ID())
	require.NoError(t, err)
	assert.Equal(t, first.JSON(), rec.Event.JSON(), "a failing copy does not replace the stored one")
}

func TestProcess_MissingDependency(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	pl := r.PowerLevels(alice, map[string]int64{alice: 100}, nil)
	create, join := r.Events()[0], r.Events()[1]

	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	ctx := context.Background()

	_, err := e.Process(ctx, "10", create)
	require.NoError(t, err)

	out, err := e.Process(ctx, "10", pl)
	require.Error(t, err)
	assert.True(t, stateres.IsMissingDependency(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, []string{join.ID()}, stateres.MissingIDs(err))
	assert.Equal(t, StatusMissingDependency, out.Status)

	_, err = e.Process(ctx, "10", join)
	require.NoError(t, err)

	out, err = e.Process(ctx, "10", pl)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, out.Status)
}

func TestProcess_SoftFail(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	topic := r.Send(testutil.Spec{
		Sender:   bob,
		Type:     "m.room.topic",
		StateKey: event.StateKeyPtr(""),
		Content:  map[string]any{"topic": "uninvited"},
		Detached: true,
	})
	follow := r.Send(testutil.Spec{
		Sender:   bob,
		Type:     "m.room.name",
		StateKey: event.StateKeyPtr(""),
		Content:  map[string]any{"name": "built on a rejected event"},
		Auth:     []string{r.Events()[0].ID(), topic.ID()},
		Detached: true,
	})

	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	ctx := context.Background()
	for _, ev := range r.Events()[:2] {
		_, err := e.Process(ctx, "10", ev)
		require.NoError(t, err)
	}

	out, err := e.Process(ctx, "10", topic)
	require.NoError(t, err)
	assert.Equal(t, StatusSoftFailed, out.Status)
	assert.Equal(t, string(auth.ReasonNotJoined), out.Reason)

	out, err = e.Process(ctx, "10", follow)
	require.NoError(t, err)
	assert.Equal(t, StatusSoftFailed, out.Status)
	assert.Equal(t, string(auth.ReasonAuthEventsInvalid), out.Reason)
}

func TestProcess_UnknownRoomVersion(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))

	_, err := e.Process(context.Background(), "999", r.Events()[0])
	require.Error(t, err)

	_, err = s.EventRecord(context.Background(), r.Events()[0].ID())
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing stored for a rejected request")
}

func TestNew_ResumesClockFromStore(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	r.PowerLevels(alice, map[string]int64{alice: 100}, nil)

	first := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	processAll(t, first, r)

	second := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	assert.Equal(t, int64(3), second.Seq())
}

func TestRun_DrainsQueueAfterStop(t *testing.T) {
	s := setupTestStore(t)
	r := testutil.NewRoom(t, "10", alice)
	r.PowerLevels(alice, map[string]int64{alice: 100}, nil)
	r.Message(alice, "queued")

	e := newTestEngine(t, s, testutil.KeyRing(r.Servers()...))
	for _, ev := range r.Events() {
		require.True(t, e.Enqueue("10", ev))
	}
	assert.Equal(t, 4, e.QueueLen())

	e.Stop()
	assert.False(t, e.Enqueue("10", r.Events()[0]), "stopped engine refuses work")
	require.NoError(t, e.Run(context.Background()))

	records, err := s.RoomEvents(context.Background(), r.ID())
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, rec := range records {
		assert.Equal(t, string(StatusAuthorized), rec.Status)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s, signing.NewStaticKeyRing())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
}
