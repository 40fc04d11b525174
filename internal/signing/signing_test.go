package signing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/canonicaljson"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

func seededKey(b byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
}

func buildMessage(t *testing.T, sender, body string) *event.Event {
	t.Helper()
	ev, err := event.Proto{
		RoomID:         "!room:a.example",
		Sender:         sender,
		Type:           event.TypeMessage,
		Content:        canonicaljson.Object{"body": canonicaljson.String(body)},
		PrevEvents:     []string{"$prev"},
		AuthEvents:     []string{"$create"},
		OriginServerTS: 10,
	}.Build()
	require.NoError(t, err)
	return ev
}

func setup(t *testing.T) (*StaticKeyRing, ed25519.PrivateKey, ed25519.PrivateKey) {
	t.Helper()
	a, b := seededKey(1), seededKey(2)
	ring := NewStaticKeyRing()
	ring.Add("a.example", "ed25519:1", a.Public().(ed25519.PublicKey))
	ring.Add("b.example", "ed25519:1", b.Public().(ed25519.PublicKey))
	return ring, a, b
}

func TestVerifyValid(t *testing.T) {
	ring, a, _ := setup(t)
	rules := roomversion.MustLookup("10")

	ev, err := Sign(buildMessage(t, "@alice:a.example", "hi"), "a.example", "ed25519:1", a)
	require.NoError(t, err)

	require.NoError(t, NewVerifier(ring).Verify(context.Background(), rules, ev))
}

func TestSignKeepsID(t *testing.T) {
	_, a, _ := setup(t)
	ev := buildMessage(t, "@alice:a.example", "hi")

	signed, err := Sign(ev, "a.example", "ed25519:1", a)
	require.NoError(t, err)
	assert.Equal(t, ev.ID(), signed.ID())
}

func TestVerifyMissingSenderSignature(t *testing.T) {
	ring, _, b := setup(t)
	rules := roomversion.MustLookup("10")

	// Signed only by a server other than the sender's.
	ev, err := Sign(buildMessage(t, "@alice:a.example", "hi"), "b.example", "ed25519:1", b)
	require.NoError(t, err)

	err = NewVerifier(ring).Verify(context.Background(), rules, ev)
	require.Error(t, err)
	assert.True(t, IsSignatureInvalid(err))
}

func TestVerifyTamperDetection(t *testing.T) {
	ring, a, _ := setup(t)
	rules := roomversion.MustLookup("10")

	signed, err := Sign(buildMessage(t, "@alice:a.example", "hello"), "a.example", "ed25519:1", a)
	require.NoError(t, err)

	// Alter one byte of content but carry the original signature over.
	obj := signed.Object()
	content := obj["content"].(canonicaljson.Object).With("body", canonicaljson.String("hellp"))
	tampered, err := event.FromObject(obj.With("content", content))
	require.NoError(t, err)
	require.NotEqual(t, signed.ID(), tampered.ID())

	err = NewVerifier(ring).Verify(context.Background(), rules, tampered)
	require.Error(t, err)
	assert.True(t, IsSignatureInvalid(err))
	assert.False(t, IsUnknownSigningKey(err))
}

func TestVerifyUnknownKey(t *testing.T) {
	ring, _, _ := setup(t)
	rules := roomversion.MustLookup("10")
	other := seededKey(9)

	ev, err := Sign(buildMessage(t, "@alice:a.example", "hi"), "a.example", "ed25519:rotated", other)
	require.NoError(t, err)

	err = NewVerifier(ring).Verify(context.Background(), rules, ev)
	require.Error(t, err)
	assert.True(t, IsUnknownSigningKey(err))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestVerifyWrongKey(t *testing.T) {
	ring, _, b := setup(t)
	rules := roomversion.MustLookup("10")

	// a.example's key ID, b.example's private key.
	ev, err := Sign(buildMessage(t, "@alice:a.example", "hi"), "a.example", "ed25519:1", b)
	require.NoError(t, err)

	err = NewVerifier(ring).Verify(context.Background(), rules, ev)
	assert.True(t, IsSignatureInvalid(err))
}

func TestVerifyExtraSignatureChecked(t *testing.T) {
	ring, a, _ := setup(t)
	rules := roomversion.MustLookup("10")

	ev, err := Sign(buildMessage(t, "@alice:a.example", "hi"), "a.example", "ed25519:1", a)
	require.NoError(t, err)
	// b.example's slot signed with a's key: present, so it must verify.
	ev, err = Sign(ev, "b.example", "ed25519:1", a)
	require.NoError(t, err)

	err = NewVerifier(ring).Verify(context.Background(), rules, ev)
	assert.True(t, IsSignatureInvalid(err))
}

func TestVerifyUndecodableSignature(t *testing.T) {
	ring, _, _ := setup(t)
	rules := roomversion.MustLookup("10")

	ev, err := event.WithSignature(buildMessage(t, "@alice:a.example", "hi"), "a.example", "ed25519:1", "!!!")
	require.NoError(t, err)

	err = NewVerifier(ring).Verify(context.Background(), rules, ev)
	require.Error(t, err)
	assert.True(t, event.IsMalformed(err))
}

func TestRequiredServersRestrictedJoin(t *testing.T) {
	join, err := event.Proto{
		RoomID:   "!room:a.example",
		Sender:   "@carol:c.example",
		Type:     event.TypeMember,
		StateKey: event.StateKeyPtr("@carol:c.example"),
		Content: canonicaljson.MustObject(map[string]any{
			"membership":                       "join",
			"join_authorised_via_users_server": "@alice:a.example",
		}),
		OriginServerTS: 1,
	}.Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"a.example", "c.example"}, RequiredServers(roomversion.MustLookup("8"), join))
	assert.Equal(t, []string{"c.example"}, RequiredServers(roomversion.MustLookup("7"), join))
}

func TestSignAndVerifyObject(t *testing.T) {
	key := seededKey(3)
	signed, err := SignObject(canonicaljson.MustObject(map[string]any{
		"mxid":  "@bob:b.example",
		"token": "abc",
	}), "id.example", "ed25519:0", key)
	require.NoError(t, err)

	assert.True(t, VerifyObject(signed, key.Public().(ed25519.PublicKey)))
	assert.False(t, VerifyObject(signed, seededKey(4).Public().(ed25519.PublicKey)))
	assert.False(t, VerifyObject(signed.With("token", canonicaljson.String("abd")), key.Public().(ed25519.PublicKey)))
	assert.False(t, VerifyObject(signed.Without("signatures"), key.Public().(ed25519.PublicKey)))
}

func TestBase64RoundTrip(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0x01}
	enc := EncodeBase64(raw)
	assert.Equal(t, "+/8B", enc)

	dec, err := DecodeBase64(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, dec)

	dec, err = DecodeBase64("-_8B")
	require.NoError(t, err)
	assert.Equal(t, raw, dec)

	dec, err = DecodeBase64("AQ==")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, dec)
}

func TestStaticKeyRing(t *testing.T) {
	ring, _, _ := setup(t)
	assert.Equal(t, 2, ring.Len())

	_, err := ring.VerificationKey(context.Background(), "c.example", "ed25519:1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
