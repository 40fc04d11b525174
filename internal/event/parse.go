package event

import (
	"github.com/roach88/concord/internal/canonicaljson"
)

// Parse decodes a wire event strictly and validates its structure.
// Any failure is reported as a *MalformedError.
func Parse(data []byte) (*Event, error) {
	obj, err := canonicaljson.DecodeObject(data)
	if err != nil {
		return nil, malformed("", "not canonicalizable", err)
	}
	return FromObject(obj)
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(data []byte) *Event {
	e, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return e
}

// FromObject validates a decoded event object and computes its identifier.
// If the object carries an "event_id" it must match the computed one.
func FromObject(obj canonicaljson.Object) (*Event, error) {
	e := &Event{raw: obj.Without("event_id")}

	var err error
	if e.roomID, err = requiredString(obj, "room_id"); err != nil {
		return nil, err
	}
	if !ValidRoomID(e.roomID) {
		return nil, malformed("room_id", "invalid room ID "+e.roomID, nil)
	}

	if e.sender, err = requiredString(obj, "sender"); err != nil {
		return nil, err
	}
	if !ValidUserID(e.sender) {
		return nil, malformed("sender", "invalid user ID "+e.sender, nil)
	}

	if e.typ, err = requiredString(obj, "type"); err != nil {
		return nil, err
	}
	if e.typ == "" {
		return nil, malformed("type", "empty event type", nil)
	}

	if obj.Has("state_key") {
		sk, ok := obj.String("state_key")
		if !ok {
			return nil, malformed("state_key", "must be a string", nil)
		}
		e.stateKey = &sk
	}

	content, ok := obj.Object("content")
	if !ok {
		return nil, malformed("content", "missing or not an object", nil)
	}
	e.content = content

	if e.prevEvents, err = idSet(obj, "prev_events"); err != nil {
		return nil, err
	}
	if e.authEvents, err = idSet(obj, "auth_events"); err != nil {
		return nil, err
	}

	ts, ok := obj.Int("origin_server_ts")
	if !ok {
		return nil, malformed("origin_server_ts", "missing or not an integer", nil)
	}
	e.originTS = ts

	if obj.Has("depth") {
		d, ok := obj.Int("depth")
		if !ok || d < 0 {
			return nil, malformed("depth", "must be a non-negative integer", nil)
		}
		e.depth = d
	}

	if obj.Has("redacts") {
		r, ok := obj.String("redacts")
		if !ok || !ValidEventID(r) {
			return nil, malformed("redacts", "must be an event ID", nil)
		}
		e.redacts = r
	}

	if e.signatures, err = parseSignatures(obj); err != nil {
		return nil, err
	}

	if obj.Has("unsigned") {
		if _, ok := obj.Object("unsigned"); !ok {
			return nil, malformed("unsigned", "must be an object", nil)
		}
	}

	if e.id, err = ComputeID(obj); err != nil {
		return nil, malformed("", "not canonicalizable", err)
	}

	if claimed, ok := obj.String("event_id"); ok && claimed != e.id {
		return nil, &MalformedError{
			EventID: e.id,
			Field:   "event_id",
			Reason:  "claimed identifier " + claimed + " does not match content hash",
		}
	}

	return e, nil
}

func requiredString(obj canonicaljson.Object, field string) (string, error) {
	s, ok := obj.String(field)
	if !ok {
		return "", malformed(field, "missing or not a string", nil)
	}
	return s, nil
}

// idSet reads an array of event identifiers with set semantics: duplicates
// are malformed, order is preserved as authored.
func idSet(obj canonicaljson.Object, field string) ([]string, error) {
	arr, ok := obj.Array(field)
	if !ok {
		return nil, malformed(field, "missing or not an array", nil)
	}
	ids, err := arr.Strings()
	if err != nil {
		return nil, malformed(field, "entries must be strings", err)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !ValidEventID(id) {
			return nil, malformed(field, "invalid event ID "+id, nil)
		}
		if seen[id] {
			return nil, malformed(field, "duplicate entry "+id, nil)
		}
		seen[id] = true
	}
	return ids, nil
}

func parseSignatures(obj canonicaljson.Object) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	if !obj.Has("signatures") {
		return out, nil
	}
	sigs, ok := obj.Object("signatures")
	if !ok {
		return nil, malformed("signatures", "must be an object", nil)
	}
	for server, v := range sigs {
		byKey, ok := v.(canonicaljson.Object)
		if !ok {
			return nil, malformed("signatures", "entry for "+server+" must be an object", nil)
		}
		out[server] = make(map[string]string, len(byKey))
		for keyID, sv := range byKey {
			s, ok := sv.(canonicaljson.String)
			if !ok {
				return nil, malformed("signatures", "signature "+server+"/"+keyID+" must be a string", nil)
			}
			out[server][keyID] = string(s)
		}
	}
	return out, nil
}
