package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/canonicaljson"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
	"github.com/roach88/concord/internal/signing"
	"github.com/roach88/concord/internal/testutil"
)

const (
	alice = "@alice:a.example"
	bob   = "@bob:b.example"
	carol = "@carol:c.example"
	dave  = "@dave:d.example"
)

// fixture: alice (100) created the room, bob (50) and carol (0) joined a
// public room.
func fixture(t *testing.T, version string) *testutil.Room {
	t.Helper()
	r := testutil.NewRoom(t, version, alice)
	r.PowerLevels(alice, map[string]int64{alice: 100, bob: 50}, nil)
	r.JoinRules(alice, event.JoinRulePublic)
	r.Join(bob)
	r.Join(carol)
	return r
}

func stateOf(r *testutil.Room) State {
	s := make(State)
	for k, id := range r.Snapshot() {
		s[k] = r.Event(id)
	}
	return s
}

// attempt builds ev without applying it and authorizes it against the
// branch state.
func attempt(t *testing.T, r *testutil.Room, spec testutil.Spec) Verdict {
	t.Helper()
	spec.Detached = true
	ev := r.Send(spec)
	return Authorize(roomversion.MustLookup(r.Version()), ev, stateOf(r))
}

func member(sender, target, membership string, extra map[string]any) testutil.Spec {
	content := map[string]any{"membership": membership}
	for k, v := range extra {
		content[k] = v
	}
	return testutil.Spec{Sender: sender, Type: event.TypeMember, StateKey: event.StateKeyPtr(target), Content: content}
}

func stateSpec(sender, typ, sk string, content map[string]any) testutil.Spec {
	return testutil.Spec{Sender: sender, Type: typ, StateKey: event.StateKeyPtr(sk), Content: content}
}

func assertVerdict(t *testing.T, want Reason, got Verdict) {
	t.Helper()
	assert.Equal(t, want, got.Reason, got.String())
	assert.Equal(t, want == ReasonOK, got.Allowed)
}

func buildCreate(t *testing.T, p event.Proto) *event.Event {
	t.Helper()
	p.Type = event.TypeCreate
	if p.StateKey == nil {
		p.StateKey = event.StateKeyPtr("")
	}
	if p.RoomID == "" {
		p.RoomID = "!r:a.example"
	}
	if p.Sender == "" {
		p.Sender = alice
	}
	ev, err := p.Build()
	require.NoError(t, err)
	return ev
}

func TestCreate(t *testing.T) {
	v10 := roomversion.MustLookup("10")
	empty := State{}

	tests := []struct {
		name  string
		proto event.Proto
		want  Reason
	}{
		{"valid", event.Proto{Content: canonicaljson.MustObject(map[string]any{"creator": alice, "room_version": "10"})}, ReasonOK},
		{"legacy without version", event.Proto{Content: canonicaljson.MustObject(map[string]any{"creator": alice})}, ReasonOK},
		{"implicit creator", event.Proto{Content: canonicaljson.MustObject(map[string]any{"room_version": "11"})}, ReasonOK},
		{"creator required", event.Proto{Content: canonicaljson.MustObject(map[string]any{"room_version": "10"})}, ReasonCreateInvalid},
		{"unknown version", event.Proto{Content: canonicaljson.MustObject(map[string]any{"creator": alice, "room_version": "42"})}, ReasonCreateInvalid},
		{"non-string version", event.Proto{Content: canonicaljson.MustObject(map[string]any{"creator": alice, "room_version": 10})}, ReasonCreateInvalid},
		{"has predecessors", event.Proto{PrevEvents: []string{"$x"}, Content: canonicaljson.MustObject(map[string]any{"creator": alice})}, ReasonCreateInvalid},
		{"has auth events", event.Proto{AuthEvents: []string{"$x"}, Content: canonicaljson.MustObject(map[string]any{"creator": alice})}, ReasonCreateInvalid},
		{"foreign room server", event.Proto{RoomID: "!r:b.example", Content: canonicaljson.MustObject(map[string]any{"creator": alice})}, ReasonCreateInvalid},
		{"non-empty state key", event.Proto{StateKey: event.StateKeyPtr("x"), Content: canonicaljson.MustObject(map[string]any{"creator": alice})}, ReasonCreateInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertVerdict(t, tt.want, Authorize(v10, buildCreate(t, tt.proto), empty))
		})
	}
}

func TestMissingCreate(t *testing.T) {
	r := fixture(t, "10")
	ev := r.Send(testutil.Spec{Sender: bob, Type: event.TypeMessage, Detached: true})

	assertVerdict(t, ReasonMissingCreate, Authorize(roomversion.MustLookup("10"), ev, State{}))
}

func TestFederationDenied(t *testing.T) {
	create := buildCreate(t, event.Proto{
		Content: canonicaljson.MustObject(map[string]any{"creator": alice, "room_version": "10", "m.federate": false}),
	})
	msg, err := event.Proto{
		RoomID: create.RoomID(), Sender: bob, Type: event.TypeMessage,
		AuthEvents: []string{create.ID()}, OriginServerTS: 2,
	}.Build()
	require.NoError(t, err)

	assertVerdict(t, ReasonFederationDenied, Authorize(roomversion.MustLookup("10"), msg, NewState(create)))
}

func TestCreatorFirstJoin(t *testing.T) {
	r := testutil.NewRoom(t, "10", alice)
	join := r.Lookup(event.TypeMember, alice)
	state := NewState(r.Lookup(event.TypeCreate, ""))

	assertVerdict(t, ReasonOK, Authorize(roomversion.MustLookup("10"), join, state))
}

func TestGeneralRules(t *testing.T) {
	r := fixture(t, "10")

	tests := []struct {
		name string
		spec testutil.Spec
		want Reason
	}{
		{"member sends message", testutil.Spec{Sender: carol, Type: event.TypeMessage}, ReasonOK},
		{"outsider sends message", testutil.Spec{Sender: dave, Type: event.TypeMessage}, ReasonNotJoined},
		{"low power state", stateSpec(carol, "m.room.name", "", map[string]any{"name": "x"}), ReasonInsufficientPower},
		{"enough power state", stateSpec(bob, "m.room.name", "", map[string]any{"name": "x"}), ReasonOK},
		{"user-owned key of another", stateSpec(alice, "m.custom", bob, nil), ReasonStateKeyMismatch},
		{"user-owned key of self", stateSpec(alice, "m.custom", alice, nil), ReasonOK},
		{"invite token at default invite power", stateSpec(carol, event.TypeThirdPartyInvite, "tok", nil), ReasonOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertVerdict(t, tt.want, attempt(t, r, tt.spec))
		})
	}
}

func TestMembershipTransitions(t *testing.T) {
	r := fixture(t, "10")
	banned := r.Fork()
	banned.Member(alice, dave, event.MembershipBan, nil)

	inviteOnly := r.Fork()
	inviteOnly.JoinRules(alice, event.JoinRuleInvite)
	invited := inviteOnly.Fork()
	invited.Member(bob, dave, event.MembershipInvite, nil)

	tests := []struct {
		name string
		room *testutil.Room
		spec testutil.Spec
		want Reason
	}{
		{"join public", r, member(dave, dave, event.MembershipJoin, nil), ReasonOK},
		{"join on behalf", r, member(dave, carol, event.MembershipJoin, nil), ReasonMembershipInvalid},
		{"join while banned", banned, member(dave, dave, event.MembershipJoin, nil), ReasonBanned},
		{"join invite-only uninvited", inviteOnly, member(dave, dave, event.MembershipJoin, nil), ReasonJoinRuleDenied},
		{"join invite-only invited", invited, member(dave, dave, event.MembershipJoin, nil), ReasonOK},

		{"invite by member", r, member(carol, dave, event.MembershipInvite, nil), ReasonOK},
		{"invite by outsider", r, member(dave, "@erin:e.example", event.MembershipInvite, nil), ReasonNotJoined},
		{"invite banned user", banned, member(bob, dave, event.MembershipInvite, nil), ReasonBanned},
		{"invite joined user", r, member(bob, carol, event.MembershipInvite, nil), ReasonMembershipInvalid},

		{"leave self", r, member(carol, carol, event.MembershipLeave, nil), ReasonOK},
		{"leave when not in room", r, member(dave, dave, event.MembershipLeave, nil), ReasonMembershipInvalid},
		{"invitee rejects", invited, member(dave, dave, event.MembershipLeave, nil), ReasonOK},
		{"kick lower", r, member(bob, carol, event.MembershipLeave, nil), ReasonOK},
		{"kick higher", r, member(carol, bob, event.MembershipLeave, nil), ReasonInsufficientPower},
		{"admin leaves", r, member(alice, alice, event.MembershipLeave, nil), ReasonOK},
		{"unban without ban power", banned, member(carol, dave, event.MembershipLeave, nil), ReasonInsufficientPower},
		{"unban with ban power", banned, member(bob, dave, event.MembershipLeave, nil), ReasonOK},
		{"kick by outsider", r, member(dave, carol, event.MembershipLeave, nil), ReasonNotJoined},

		{"ban lower", r, member(alice, bob, event.MembershipBan, nil), ReasonOK},
		{"ban higher", r, member(bob, alice, event.MembershipBan, nil), ReasonInsufficientPower},
		{"ban without power", r, member(carol, dave, event.MembershipBan, nil), ReasonInsufficientPower},

		{"unknown membership", r, member(carol, carol, "wander", nil), ReasonMembershipInvalid},
		{"membership missing", r, testutil.Spec{Sender: carol, Type: event.TypeMember, StateKey: event.StateKeyPtr(carol), Content: map[string]any{}}, ReasonMalformedContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertVerdict(t, tt.want, attempt(t, tt.room, tt.spec))
		})
	}
}

func TestKnock(t *testing.T) {
	for _, tc := range []struct {
		version string
		rule    string
		want    Reason
	}{
		{"10", event.JoinRuleKnock, ReasonOK},
		{"10", event.JoinRuleKnockRestricted, ReasonOK},
		{"7", event.JoinRuleKnock, ReasonOK},
		{"7", event.JoinRuleKnockRestricted, ReasonJoinRuleDenied},
		{"10", event.JoinRulePublic, ReasonJoinRuleDenied},
		{"6", event.JoinRuleKnock, ReasonMembershipInvalid},
	} {
		t.Run("v"+tc.version+"/"+tc.rule, func(t *testing.T) {
			r := fixture(t, tc.version)
			r.JoinRules(alice, tc.rule)
			assertVerdict(t, tc.want, attempt(t, r, member(dave, dave, event.MembershipKnock, nil)))
		})
	}

	t.Run("member cannot knock", func(t *testing.T) {
		r := fixture(t, "10")
		r.JoinRules(alice, event.JoinRuleKnock)
		assertVerdict(t, ReasonMembershipInvalid, attempt(t, r, member(carol, carol, event.MembershipKnock, nil)))
	})

	t.Run("knocker may retract", func(t *testing.T) {
		r := fixture(t, "10")
		r.JoinRules(alice, event.JoinRuleKnock)
		r.Member(dave, dave, event.MembershipKnock, nil)
		assertVerdict(t, ReasonOK, attempt(t, r, member(dave, dave, event.MembershipLeave, nil)))
	})
}

func TestRestrictedJoin(t *testing.T) {
	via := func(u string) map[string]any {
		return map[string]any{"join_authorised_via_users_server": u}
	}

	tests := []struct {
		name    string
		version string
		extra   map[string]any
		want    Reason
	}{
		{"authorised by joined admin", "8", via(alice), ReasonOK},
		{"authorised by outsider", "8", via("@erin:e.example"), ReasonJoinRuleDenied},
		{"no authoriser", "8", nil, ReasonJoinRuleDenied},
		{"unsupported version", "7", via(alice), ReasonJoinRuleDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fixture(t, tt.version)
			r.JoinRules(alice, event.JoinRuleRestricted)
			assertVerdict(t, tt.want, attempt(t, r, member(dave, dave, event.MembershipJoin, tt.extra)))
		})
	}

	t.Run("authoriser without invite power", func(t *testing.T) {
		r := fixture(t, "8")
		r.PowerLevels(alice, map[string]int64{alice: 100, bob: 50}, map[string]any{"invite": 50})
		r.JoinRules(alice, event.JoinRuleRestricted)
		assertVerdict(t, ReasonJoinRuleDenied, attempt(t, r, member(dave, dave, event.MembershipJoin, via(carol))))
		assertVerdict(t, ReasonOK, attempt(t, r, member(dave, dave, event.MembershipJoin, via(bob))))
	})
}

func TestThirdPartyInvite(t *testing.T) {
	idKey := testutil.Key("id.example")

	setup := func(t *testing.T) *testutil.Room {
		r := fixture(t, "10")
		r.State(alice, event.TypeThirdPartyInvite, "tok", map[string]any{
			"display_name": "d",
			"public_key":   signing.EncodeBase64(testutil.PublicKey("id.example")),
		})
		return r
	}
	signedBlock := func(t *testing.T, mxid, token string, key []byte) canonicaljson.Object {
		obj, err := signing.SignObject(canonicaljson.MustObject(map[string]any{
			"mxid": mxid, "token": token,
		}), "id.example", "ed25519:0", key)
		require.NoError(t, err)
		return obj
	}
	invite := func(sender string, signed canonicaljson.Object) testutil.Spec {
		return member(sender, dave, event.MembershipInvite, map[string]any{
			"third_party_invite": map[string]any{"display_name": "d", "signed": signed},
		})
	}

	t.Run("valid", func(t *testing.T) {
		r := setup(t)
		assertVerdict(t, ReasonOK, attempt(t, r, invite(alice, signedBlock(t, dave, "tok", idKey))))
	})
	t.Run("wrong key", func(t *testing.T) {
		r := setup(t)
		assertVerdict(t, ReasonThirdPartyInvalid, attempt(t, r, invite(alice, signedBlock(t, dave, "tok", testutil.Key("evil.example")))))
	})
	t.Run("mxid mismatch", func(t *testing.T) {
		r := setup(t)
		assertVerdict(t, ReasonThirdPartyInvalid, attempt(t, r, invite(alice, signedBlock(t, carol, "tok", idKey))))
	})
	t.Run("unknown token", func(t *testing.T) {
		r := setup(t)
		assertVerdict(t, ReasonThirdPartyInvalid, attempt(t, r, invite(alice, signedBlock(t, dave, "other", idKey))))
	})
	t.Run("different sender", func(t *testing.T) {
		r := setup(t)
		assertVerdict(t, ReasonThirdPartyInvalid, attempt(t, r, invite(bob, signedBlock(t, dave, "tok", idKey))))
	})
	t.Run("no signed block", func(t *testing.T) {
		r := setup(t)
		spec := member(alice, dave, event.MembershipInvite, map[string]any{
			"third_party_invite": map[string]any{"display_name": "d"},
		})
		assertVerdict(t, ReasonThirdPartyInvalid, attempt(t, r, spec))
	})
}

func TestPowerLevelChanges(t *testing.T) {
	users := func(kv ...any) map[string]any {
		m := map[string]any{}
		for i := 0; i < len(kv); i += 2 {
			m[kv[i].(string)] = kv[i+1]
		}
		return m
	}
	pl := func(sender string, content map[string]any) testutil.Spec {
		return stateSpec(sender, event.TypePowerLevels, "", content)
	}

	tests := []struct {
		name    string
		version string
		spec    testutil.Spec
		want    Reason
	}{
		{"admin promotes", "10", pl(alice, map[string]any{"users": users(alice, 100, bob, 75)}), ReasonOK},
		{"self promotion", "10", pl(bob, map[string]any{"users": users(alice, 100, bob, 100)}), ReasonInsufficientPower},
		{"demote higher", "10", pl(bob, map[string]any{"users": users(alice, 0, bob, 50)}), ReasonInsufficientPower},
		{"grant up to own", "10", pl(bob, map[string]any{"users": users(alice, 100, bob, 50, carol, 50)}), ReasonOK},
		{"remove admin entry", "10", pl(bob, map[string]any{"users": users(bob, 50)}), ReasonInsufficientPower},
		{"raise ban above own", "10", pl(bob, map[string]any{"users": users(alice, 100, bob, 50), "ban": 100}), ReasonInsufficientPower},
		{"lower kick", "10", pl(bob, map[string]any{"users": users(alice, 100, bob, 50), "kick": 25}), ReasonOK},
		{"events above own", "10", pl(bob, map[string]any{"users": users(alice, 100, bob, 50), "events": map[string]any{"m.room.name": 75}}), ReasonInsufficientPower},
		{"notifications above own", "10", pl(bob, map[string]any{"users": users(alice, 100, bob, 50), "notifications": map[string]any{"room": 75}}), ReasonInsufficientPower},
		{"notifications unchecked in v5", "5", pl(bob, map[string]any{"users": users(alice, 100, bob, 50), "notifications": map[string]any{"room": 75}}), ReasonOK},
		{"no power to send", "10", pl(carol, map[string]any{"users": users(alice, 100, bob, 50)}), ReasonInsufficientPower},
		{"string level strict", "10", pl(alice, map[string]any{"users": users(alice, "100", bob, 50)}), ReasonPowerLevelsInvalid},
		{"string level lenient", "9", pl(alice, map[string]any{"users": users(alice, "100", bob, 50)}), ReasonOK},
		{"bad user key", "10", pl(alice, map[string]any{"users": users(alice, 100, "bob", 50)}), ReasonPowerLevelsInvalid},
		{"non-integer level", "9", pl(alice, map[string]any{"users": users(alice, 100), "ban": "high"}), ReasonPowerLevelsInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertVerdict(t, tt.want, attempt(t, fixture(t, tt.version), tt.spec))
		})
	}
}

func TestFirstPowerLevels(t *testing.T) {
	r := testutil.NewRoom(t, "10", alice)
	v := attempt(t, r, stateSpec(alice, event.TypePowerLevels, "", map[string]any{
		"users": map[string]any{alice: 100},
	}))
	assertVerdict(t, ReasonOK, v)
}

func TestRedaction(t *testing.T) {
	rules := roomversion.MustLookup("10")
	r := fixture(t, "10")
	bobMsg := r.Message(bob, "from bob")
	carolMsg := r.Message(carol, "from carol")

	redact := func(sender, target string) *event.Event {
		return r.Send(testutil.Spec{Sender: sender, Type: event.TypeRedaction, Redacts: target, Detached: true})
	}

	state := stateOf(r)
	assertVerdict(t, ReasonOK, AuthorizeWithTarget(rules, redact(bob, carolMsg.ID()), state, carolMsg))
	assertVerdict(t, ReasonRedactionDenied, AuthorizeWithTarget(rules, redact(carol, bobMsg.ID()), state, bobMsg))
	assertVerdict(t, ReasonOK, AuthorizeWithTarget(rules, redact(carol, carolMsg.ID()), state, carolMsg))
	assertVerdict(t, ReasonRedactionDenied, Authorize(rules, redact(carol, carolMsg.ID()), state))

	noTarget := r.Send(testutil.Spec{Sender: bob, Type: event.TypeRedaction, Detached: true})
	assertVerdict(t, ReasonMalformedContent, Authorize(rules, noTarget, state))
}

func TestLegacyRedactionDomain(t *testing.T) {
	r := fixture(t, "1")
	ev := r.Send(testutil.Spec{Sender: carol, Type: event.TypeRedaction, Redacts: "$old:c.example", Detached: true})
	assertVerdict(t, ReasonOK, Authorize(roomversion.MustLookup("1"), ev, stateOf(r)))

	other := r.Send(testutil.Spec{Sender: carol, Type: event.TypeRedaction, Redacts: "$old:b.example", Detached: true})
	assertVerdict(t, ReasonRedactionDenied, Authorize(roomversion.MustLookup("1"), other, stateOf(r)))
}

func TestAliases(t *testing.T) {
	legacy := fixture(t, "5")
	assertVerdict(t, ReasonOK, attempt(t, legacy, stateSpec(carol, event.TypeAliases, "c.example", nil)))
	assertVerdict(t, ReasonStateKeyMismatch, attempt(t, legacy, stateSpec(carol, event.TypeAliases, "a.example", nil)))

	modern := fixture(t, "6")
	assertVerdict(t, ReasonInsufficientPower, attempt(t, modern, stateSpec(carol, event.TypeAliases, "c.example", nil)))
}

func TestAuthorizeWithAuthEvents(t *testing.T) {
	rules := roomversion.MustLookup("10")
	r := fixture(t, "10")
	msg := r.Send(testutil.Spec{Sender: bob, Type: event.TypeMessage, Detached: true})

	var authEvents []*event.Event
	for _, id := range msg.AuthEvents() {
		authEvents = append(authEvents, r.Event(id))
	}
	assertVerdict(t, ReasonOK, AuthorizeWithAuthEvents(rules, msg, authEvents, nil))

	withExtra := append(authEvents[:len(authEvents):len(authEvents)], r.Lookup(event.TypeJoinRules, ""))
	assertVerdict(t, ReasonAuthEventsInvalid, AuthorizeWithAuthEvents(rules, msg, withExtra, nil))

	withDup := append(authEvents[:len(authEvents):len(authEvents)], r.Lookup(event.TypeMember, bob))
	assertVerdict(t, ReasonAuthEventsInvalid, AuthorizeWithAuthEvents(rules, msg, withDup, nil))

	withoutCreate := []*event.Event{r.Lookup(event.TypeMember, bob)}
	assertVerdict(t, ReasonMissingCreate, AuthorizeWithAuthEvents(rules, msg, withoutCreate, nil))
}

func TestStateKeysNeeded(t *testing.T) {
	r := fixture(t, "10")
	join := r.Send(testutil.Spec{
		Sender: dave, Type: event.TypeMember, StateKey: event.StateKeyPtr(dave),
		Content:  map[string]any{"membership": "join", "join_authorised_via_users_server": alice},
		Detached: true,
	})

	assert.Equal(t, []event.Key{
		CreateKey,
		JoinRulesKey,
		MemberKey(alice),
		MemberKey(dave),
		PowerLevelsKey,
	}, StateKeysNeeded(join))

	msg := r.Send(testutil.Spec{Sender: bob, Type: event.TypeMessage, Detached: true})
	assert.Equal(t, []event.Key{CreateKey, MemberKey(bob), PowerLevelsKey}, StateKeysNeeded(msg))

	assert.Nil(t, StateKeysNeeded(r.Lookup(event.TypeCreate, "")))

	subset := stateOf(r).Subset(msg)
	assert.Len(t, subset, 3)
}
