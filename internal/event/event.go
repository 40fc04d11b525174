package event

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/concord/internal/canonicaljson"
)

// Well-known event types.
const (
	TypeCreate           = "m.room.create"
	TypeMember           = "m.room.member"
	TypePowerLevels      = "m.room.power_levels"
	TypeJoinRules        = "m.room.join_rules"
	TypeThirdPartyInvite = "m.room.third_party_invite"
	TypeRedaction        = "m.room.redaction"
	TypeAliases          = "m.room.aliases"
	TypeMessage          = "m.room.message"
)

// Key addresses one slot of room state.
type Key struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
}

// String renders the key as "type|state_key" for logs, golden files and
// JSON object keys. A '|' or '\' inside the type is escaped with '\', so
// the first unescaped '|' always ends the type and distinct keys never
// render alike.
func (k Key) String() string {
	if !strings.ContainsAny(k.Type, `|\`) {
		return k.Type + "|" + k.StateKey
	}
	var b strings.Builder
	for _, r := range k.Type {
		if r == '|' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('|')
	b.WriteString(k.StateKey)
	return b.String()
}

// MarshalText implements encoding.TextMarshaler so keys can index JSON
// objects.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for the String form.
func (k *Key) UnmarshalText(text []byte) error {
	s := string(text)
	var typ strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 == len(s) {
				return fmt.Errorf("state key %q: dangling escape", text)
			}
			i++
			typ.WriteByte(s[i])
		case '|':
			k.Type, k.StateKey = typ.String(), s[i+1:]
			return nil
		default:
			typ.WriteByte(s[i])
		}
	}
	return fmt.Errorf("state key %q: missing '|' separator", text)
}

// Compare orders keys by type then state key.
func (k Key) Compare(other Key) int {
	if k.Type != other.Type {
		if k.Type < other.Type {
			return -1
		}
		return 1
	}
	switch {
	case k.StateKey < other.StateKey:
		return -1
	case k.StateKey > other.StateKey:
		return 1
	}
	return 0
}

// Event is an immutable, content-addressed room event. All structural
// references (prev_events, auth_events) are identifiers, never pointers, so
// events can be shared freely across goroutines and branches.
//
// The zero value is not usable; construct events with Parse or FromObject.
type Event struct {
	id         string
	roomID     string
	sender     string
	typ        string
	stateKey   *string
	content    canonicaljson.Object
	prevEvents []string
	authEvents []string
	originTS   int64
	depth      int64
	redacts    string
	signatures map[string]map[string]string

	// raw is the full decoded object, including fields this package does
	// not interpret. It is what the identifier is computed over.
	raw canonicaljson.Object
}

// ID returns the content-addressed identifier.
func (e *Event) ID() string { return e.id }

// RoomID returns the room the event belongs to.
func (e *Event) RoomID() string { return e.roomID }

// Sender returns the user ID of the author.
func (e *Event) Sender() string { return e.sender }

// Type returns the event type.
func (e *Event) Type() string { return e.typ }

// StateKey returns the state key and whether the event is a state event.
func (e *Event) StateKey() (string, bool) {
	if e.stateKey == nil {
		return "", false
	}
	return *e.stateKey, true
}

// IsState reports whether the event carries a state key.
func (e *Event) IsState() bool { return e.stateKey != nil }

// Key returns the state slot the event occupies. Only meaningful for state
// events.
func (e *Event) Key() Key {
	sk, _ := e.StateKey()
	return Key{Type: e.typ, StateKey: sk}
}

// Is reports whether the event is a state event of type typ with state key sk.
func (e *Event) Is(typ, sk string) bool {
	return e.stateKey != nil && e.typ == typ && *e.stateKey == sk
}

// Content returns the event content. Callers must not modify it.
func (e *Event) Content() canonicaljson.Object { return e.content }

// PrevEvents returns the predecessor identifiers.
func (e *Event) PrevEvents() []string { return slices.Clone(e.prevEvents) }

// AuthEvents returns the authorizing event identifiers.
func (e *Event) AuthEvents() []string { return slices.Clone(e.authEvents) }

// OriginServerTS returns the author's timestamp in milliseconds.
func (e *Event) OriginServerTS() int64 { return e.originTS }

// Depth returns the author-supplied depth. It is informational only and
// never used for ordering.
func (e *Event) Depth() int64 { return e.depth }

// Redacts returns the identifier a redaction event targets, looking at the
// top-level field first and falling back to content.redacts.
func (e *Event) Redacts() string {
	if e.redacts != "" {
		return e.redacts
	}
	r, _ := e.content.String("redacts")
	return r
}

// Signatures returns a copy of the server -> key ID -> signature map.
func (e *Event) Signatures() map[string]map[string]string {
	out := make(map[string]map[string]string, len(e.signatures))
	for server, sigs := range e.signatures {
		out[server] = maps.Clone(sigs)
	}
	return out
}

// Object returns a copy of the full wire object, including signatures and
// unsigned data.
func (e *Event) Object() canonicaljson.Object {
	return e.raw.Without()
}

// JSON returns the canonical encoding of the full event with its identifier
// attached under "event_id".
func (e *Event) JSON() []byte {
	return canonicaljson.MustMarshal(e.raw.With("event_id", canonicaljson.String(e.id)))
}

// SignableBytes returns the canonical encoding signatures are computed over.
func (e *Event) SignableBytes() []byte {
	b, err := SignableBytes(e.raw)
	if err != nil {
		// raw was validated at construction.
		panic(fmt.Sprintf("event %s: %v", e.id, err))
	}
	return b
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	if sk, ok := e.StateKey(); ok {
		return fmt.Sprintf("%s (%s|%s by %s)", e.id, e.typ, sk, e.sender)
	}
	return fmt.Sprintf("%s (%s by %s)", e.id, e.typ, e.sender)
}
