package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
	"github.com/roach88/concord/internal/stateres"
)

// Bundle is the file format accepted by import and verify: the events of
// one room in the order they should be processed, and the room's forward
// extremities.
//
//	{
//	  "room_version": "10",
//	  "events": [{...}, {...}],
//	  "tips": {"a": "$tip_of_a", "b": "$tip_of_b"},
//	  "snapshots": {"c": {"m.room.create|": "$create"}}
//	}
//
// A tip names an event whose state is derived by import. A snapshot names
// a state map given in full. Both are stored as named snapshots of the
// room.
type Bundle struct {
	RoomVersion string                       `json:"room_version,omitempty"`
	Events      []json.RawMessage            `json:"events"`
	Tips        map[string]string            `json:"tips,omitempty"`
	Snapshots   map[string]stateres.StateMap `json:"snapshots,omitempty"`
}

// room is a parsed bundle.
type room struct {
	id      string
	version string
	events  []*event.Event
	tips    map[string]string
	states  map[string]stateres.StateMap
}

// loadBundle reads and parses a bundle file. fallback is the room version
// used when neither the bundle nor its create event names one.
func loadBundle(path, fallback string) (*room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bundle %s: %w", path, err)
	}
	if len(b.Events) == 0 {
		return nil, fmt.Errorf("bundle %s: no events", path)
	}

	r := &room{version: b.RoomVersion, tips: b.Tips, states: b.Snapshots}
	ids := make(map[string]bool, len(b.Events))
	for i, raw := range b.Events {
		ev, err := event.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: events[%d]: %w", path, i, err)
		}
		if r.id == "" {
			r.id = ev.RoomID()
		} else if ev.RoomID() != r.id {
			return nil, fmt.Errorf("bundle %s: events[%d] belongs to %s, not %s", path, i, ev.RoomID(), r.id)
		}
		if r.version == "" && ev.Is(event.TypeCreate, "") {
			r.version = event.ParseCreate(ev).RoomVersion
		}
		ids[ev.ID()] = true
		r.events = append(r.events, ev)
	}

	if r.version == "" {
		r.version = fallback
	}
	if !roomversion.Known(r.version) {
		return nil, fmt.Errorf("bundle %s: unsupported room version %q", path, r.version)
	}
	for name, tip := range r.tips {
		if !ids[tip] {
			return nil, fmt.Errorf("bundle %s: tip %q names %s, which is not in the bundle", path, name, tip)
		}
		if _, dup := r.states[name]; dup {
			return nil, fmt.Errorf("bundle %s: %q is both a tip and a snapshot", path, name)
		}
	}
	return r, nil
}

// names returns every tip and snapshot name, sorted.
func (r *room) names() []string {
	var out []string
	for n := range r.tips {
		out = append(out, n)
	}
	for n := range r.states {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
