package testutil

import (
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/canonicaljson"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/signing"
)

// arena is the event table shared by a room and all of its forks.
type arena struct {
	events map[string]*event.Event
	order  []string
	ts     int64
}

// Room builds signed events for one room, tracking the linear state of the
// branch it represents so that auth_events and prev_events fill themselves
// in. Fork starts a concurrent branch sharing the same event table.
//
// Not safe for concurrent use.
type Room struct {
	tb      testing.TB
	id      string
	version string
	arena   *arena
	state   map[event.Key]string
	last    []string
}

// Spec describes one event to build. Zero fields are filled in: TS from a
// counter shared by all branches, Prev from the branch tip, Auth from the
// branch state.
type Spec struct {
	Sender   string
	Type     string
	StateKey *string
	Content  map[string]any
	TS       int64
	Prev     []string
	Auth     []string
	Redacts  string

	// Detached events are added to the table without advancing the branch,
	// for events a test expects to be rejected.
	Detached bool
}

// NewRoom creates a room of the given version with its create event and the
// creator's join.
func NewRoom(tb testing.TB, version, creator string) *Room {
	tb.Helper()
	r := &Room{
		tb:      tb,
		id:      "!room:" + event.ServerName(creator),
		version: version,
		arena:   &arena{events: make(map[string]*event.Event), ts: 1000},
		state:   make(map[event.Key]string),
	}
	r.Send(Spec{
		Sender:   creator,
		Type:     event.TypeCreate,
		StateKey: event.StateKeyPtr(""),
		Content:  map[string]any{"creator": creator, "room_version": version},
	})
	r.Member(creator, creator, event.MembershipJoin, nil)
	return r
}

// ID returns the room ID.
func (r *Room) ID() string { return r.id }

// Version returns the room version.
func (r *Room) Version() string { return r.version }

// Fork returns a new branch starting at the current tip.
func (r *Room) Fork() *Room {
	return &Room{
		tb:      r.tb,
		id:      r.id,
		version: r.version,
		arena:   r.arena,
		state:   maps.Clone(r.state),
		last:    slices.Clone(r.last),
	}
}

// Send builds, signs and records an event.
func (r *Room) Send(s Spec) *event.Event {
	r.tb.Helper()

	ts := s.TS
	if ts == 0 {
		r.arena.ts++
		ts = r.arena.ts
	}
	prev := s.Prev
	if prev == nil {
		prev = slices.Clone(r.last)
	}
	content := canonicaljson.Object{}
	if s.Content != nil {
		content = canonicaljson.MustObject(s.Content)
	}
	auth := s.Auth
	if auth == nil && s.Type != event.TypeCreate {
		auth = r.selectAuth(s, content)
	}

	ev, err := event.Proto{
		RoomID:         r.id,
		Sender:         s.Sender,
		Type:           s.Type,
		StateKey:       s.StateKey,
		Content:        content,
		PrevEvents:     prev,
		AuthEvents:     auth,
		OriginServerTS: ts,
		Depth:          int64(len(r.arena.order) + 1),
		Redacts:        s.Redacts,
	}.Build()
	require.NoError(r.tb, err)

	server := event.ServerName(s.Sender)
	ev, err = signing.Sign(ev, server, KeyID, Key(server))
	require.NoError(r.tb, err)

	if _, exists := r.arena.events[ev.ID()]; !exists {
		r.arena.order = append(r.arena.order, ev.ID())
	}
	r.arena.events[ev.ID()] = ev

	if !s.Detached {
		r.last = []string{ev.ID()}
		if ev.IsState() {
			r.state[ev.Key()] = ev.ID()
		}
	}
	return ev
}

func (r *Room) selectAuth(s Spec, content canonicaljson.Object) []string {
	keys := []event.Key{
		{Type: event.TypeCreate},
		{Type: event.TypePowerLevels},
		{Type: event.TypeMember, StateKey: s.Sender},
	}
	if s.Type == event.TypeMember && s.StateKey != nil {
		keys = append(keys, event.Key{Type: event.TypeMember, StateKey: *s.StateKey})
		membership, _ := content.String("membership")
		switch membership {
		case event.MembershipJoin, event.MembershipInvite, event.MembershipKnock:
			keys = append(keys, event.Key{Type: event.TypeJoinRules})
		}
		if via, ok := content.String("join_authorised_via_users_server"); ok {
			keys = append(keys, event.Key{Type: event.TypeMember, StateKey: via})
		}
		if tpi, ok := content.Object("third_party_invite"); ok {
			if signed, ok := tpi.Object("signed"); ok {
				if token, ok := signed.String("token"); ok {
					keys = append(keys, event.Key{Type: event.TypeThirdPartyInvite, StateKey: token})
				}
			}
		}
	}

	var ids []string
	for _, k := range keys {
		if id, ok := r.state[k]; ok && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Member sends a membership event from sender about target. extra is merged
// into the content.
func (r *Room) Member(sender, target, membership string, extra map[string]any) *event.Event {
	r.tb.Helper()
	content := map[string]any{"membership": membership}
	maps.Copy(content, extra)
	return r.Send(Spec{
		Sender:   sender,
		Type:     event.TypeMember,
		StateKey: event.StateKeyPtr(target),
		Content:  content,
	})
}

// Join sends user's own join.
func (r *Room) Join(user string) *event.Event {
	r.tb.Helper()
	return r.Member(user, user, event.MembershipJoin, nil)
}

// PowerLevels sends a power-levels event. extra is merged into the content.
func (r *Room) PowerLevels(sender string, users map[string]int64, extra map[string]any) *event.Event {
	r.tb.Helper()
	u := make(map[string]any, len(users))
	for k, v := range users {
		u[k] = v
	}
	content := map[string]any{"users": u}
	maps.Copy(content, extra)
	return r.State(sender, event.TypePowerLevels, "", content)
}

// JoinRules sends a join-rules event.
func (r *Room) JoinRules(sender, rule string) *event.Event {
	r.tb.Helper()
	return r.State(sender, event.TypeJoinRules, "", map[string]any{"join_rule": rule})
}

// State sends an arbitrary state event.
func (r *Room) State(sender, typ, stateKey string, content map[string]any) *event.Event {
	r.tb.Helper()
	return r.Send(Spec{Sender: sender, Type: typ, StateKey: event.StateKeyPtr(stateKey), Content: content})
}

// Message sends a timeline message.
func (r *Room) Message(sender, body string) *event.Event {
	r.tb.Helper()
	return r.Send(Spec{Sender: sender, Type: event.TypeMessage, Content: map[string]any{"body": body}})
}

// Snapshot returns a copy of the branch state.
func (r *Room) Snapshot() map[event.Key]string {
	return maps.Clone(r.state)
}

// Lookup returns the event in slot (typ, stateKey) of the branch state.
func (r *Room) Lookup(typ, stateKey string) *event.Event {
	return r.arena.events[r.state[event.Key{Type: typ, StateKey: stateKey}]]
}

// Tip returns the branch's forward extremities.
func (r *Room) Tip() []string { return slices.Clone(r.last) }

// Event returns the event with id from the shared table, or nil.
func (r *Room) Event(id string) *event.Event { return r.arena.events[id] }

// Events returns every event built for the room, in creation order.
func (r *Room) Events() []*event.Event {
	out := make([]*event.Event, len(r.arena.order))
	for i, id := range r.arena.order {
		out[i] = r.arena.events[id]
	}
	return out
}

// Servers returns the distinct servers of every sender in the room, sorted.
func (r *Room) Servers() []string {
	var out []string
	for _, ev := range r.arena.events {
		s := event.ServerName(ev.Sender())
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
