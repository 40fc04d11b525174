package harness

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/concord/internal/auth"
	"github.com/roach88/concord/internal/canonicaljson"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/signing"
	"github.com/roach88/concord/internal/stateres"
	"github.com/roach88/concord/internal/testutil"
)

type branch struct {
	state stateres.StateMap
	last  []string
}

// room builds the signed events of a scenario. Timestamps start at 1000
// and increase by one per event unless a step sets its own.
type room struct {
	id       string
	version  string
	branches map[string]*branch
	byAlias  map[string]*event.Event
	aliases  map[string]string // event ID -> alias
	order    []string          // aliases in build order
	ts       int64
}

func buildRoom(s *Scenario) (*room, error) {
	r := &room{
		id:       "!room:" + event.ServerName(s.Creator),
		version:  s.RoomVersion,
		branches: map[string]*branch{MainBranch: {state: stateres.StateMap{}}},
		byAlias:  make(map[string]*event.Event),
		aliases:  make(map[string]string),
		ts:       1000,
	}

	if err := r.send(&SendStep{
		Alias:    "create",
		Branch:   MainBranch,
		Sender:   s.Creator,
		Type:     event.TypeCreate,
		StateKey: event.StateKeyPtr(""),
		Content:  map[string]any{"creator": s.Creator, "room_version": s.RoomVersion},
	}); err != nil {
		return nil, err
	}
	if err := r.send(&SendStep{
		Alias:    "creator_join",
		Branch:   MainBranch,
		Sender:   s.Creator,
		Type:     event.TypeMember,
		StateKey: event.StateKeyPtr(s.Creator),
		Content:  map[string]any{"membership": event.MembershipJoin},
	}); err != nil {
		return nil, err
	}

	for i, step := range s.Steps {
		if f := step.Fork; f != nil {
			from := r.branches[f.From]
			r.branches[f.Name] = &branch{state: from.state.Clone(), last: slices.Clone(from.last)}
			continue
		}
		if err := r.send(step.Send); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return r, nil
}

func (r *room) send(s *SendStep) error {
	b := r.branches[s.Branch]

	ts := s.TS
	if ts == 0 {
		r.ts++
		ts = r.ts
	}

	content := canonicaljson.Object{}
	if s.Content != nil {
		obj, err := canonicaljson.FromGo(s.Content)
		if err != nil {
			return fmt.Errorf("%s: content: %w", s.Alias, err)
		}
		content = obj.(canonicaljson.Object)
	}

	proto := event.Proto{
		RoomID:         r.id,
		Sender:         s.Sender,
		Type:           s.Type,
		StateKey:       s.StateKey,
		Content:        content,
		PrevEvents:     slices.Clone(b.last),
		OriginServerTS: ts,
		Depth:          int64(len(r.order) + 1),
	}
	if s.Prev != nil {
		proto.PrevEvents = r.ids(s.Prev)
	}
	if s.Redacts != "" {
		proto.Redacts = r.byAlias[s.Redacts].ID()
	}

	switch {
	case s.Auth != nil:
		proto.AuthEvents = r.ids(s.Auth)
	case s.Type != event.TypeCreate:
		// Build once without references to learn which slots authorize it.
		draft, err := proto.Build()
		if err != nil {
			return fmt.Errorf("%s: %w", s.Alias, err)
		}
		for _, k := range auth.StateKeysNeeded(draft) {
			if id, ok := b.state[k]; ok && !slices.Contains(proto.AuthEvents, id) {
				proto.AuthEvents = append(proto.AuthEvents, id)
			}
		}
	}

	ev, err := proto.Build()
	if err != nil {
		return fmt.Errorf("%s: %w", s.Alias, err)
	}
	server := event.ServerName(s.Sender)
	ev, err = signing.Sign(ev, server, testutil.KeyID, testutil.Key(server))
	if err != nil {
		return fmt.Errorf("%s: %w", s.Alias, err)
	}

	r.byAlias[s.Alias] = ev
	r.aliases[ev.ID()] = s.Alias
	r.order = append(r.order, s.Alias)

	if !s.Detached {
		b.last = []string{ev.ID()}
		if ev.IsState() {
			b.state[ev.Key()] = ev.ID()
		}
	}
	return nil
}

func (r *room) ids(aliases []string) []string {
	out := make([]string, len(aliases))
	for i, a := range aliases {
		out[i] = r.byAlias[a].ID()
	}
	return out
}

// alias maps an event ID back to its alias. IDs the scenario never built
// are returned unchanged.
func (r *room) alias(id string) string {
	if a, ok := r.aliases[id]; ok {
		return a
	}
	return id
}

func (r *room) servers() []string {
	var out []string
	for _, ev := range r.byAlias {
		out = append(out, event.ServerName(ev.Sender()))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (r *room) tips(names []string) []stateres.StateMap {
	out := make([]stateres.StateMap, len(names))
	for i, n := range names {
		out[i] = maps.Clone(r.branches[n].state)
	}
	return out
}
