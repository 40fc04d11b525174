package stateres

import (
	"cmp"
	"slices"

	"github.com/roach88/concord/internal/event"
)

// mainline is the chain of power-levels events from the resolved one back
// to the first, each found among the previous one's auth_events. Depth 1 is
// the oldest.
type mainline struct {
	l       *loader
	depth   map[string]int
	nearest map[string]int
}

func buildMainline(l *loader, resolvedPL string) (*mainline, error) {
	m := &mainline{l: l, depth: make(map[string]int), nearest: make(map[string]int)}
	if resolvedPL == "" {
		return m, nil
	}

	var chain []string
	seen := make(map[string]bool)
	for cur := resolvedPL; cur != ""; {
		if seen[cur] {
			return nil, cycleDetected(l.roomID, "auth_events", append(chain, cur))
		}
		seen[cur] = true
		ev, err := l.get(cur)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			break
		}
		chain = append(chain, cur)
		next, err := l.authEvent(ev, event.TypePowerLevels)
		if err != nil {
			return nil, err
		}
		cur = ""
		if next != nil {
			cur = next.ID()
		}
	}
	for i, id := range chain {
		m.depth[id] = len(chain) - i
	}
	return m, nil
}

// position returns the mainline depth of ev itself when it is on the
// mainline, else of the closest mainline power-levels event reachable from
// ev through power-levels auth_events, else 0.
func (m *mainline) position(ev *event.Event) (int, error) {
	if d, ok := m.depth[ev.ID()]; ok {
		return d, nil
	}
	var walked []string
	seen := make(map[string]bool)
	depth := 0

	cur := ev
	for cur != nil {
		pl, err := m.l.authEvent(cur, event.TypePowerLevels)
		if err != nil {
			return 0, err
		}
		if pl == nil {
			break
		}
		id := pl.ID()
		if d, ok := m.depth[id]; ok {
			depth = d
			break
		}
		if d, ok := m.nearest[id]; ok {
			depth = d
			break
		}
		if seen[id] {
			return 0, cycleDetected(m.l.roomID, "auth_events", append(walked, id))
		}
		seen[id] = true
		walked = append(walked, id)
		cur = pl
	}

	for _, id := range walked {
		m.nearest[id] = depth
	}
	return depth, nil
}

// orderTimeline sorts ids by (mainline position, origin_server_ts, ID).
// Duplicates are dropped.
func orderTimeline(l *loader, m *mainline, ids []string) ([]string, error) {
	type entry struct {
		id    string
		depth int
		ts    int64
	}

	seen := make(map[string]bool, len(ids))
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		ev, err := l.get(id)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			continue
		}
		d, err := m.position(ev)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{id: id, depth: d, ts: ev.OriginServerTS()})
	}
	if err := l.missingErr(); err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b entry) int {
		if c := cmp.Compare(a.depth, b.depth); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ts, b.ts); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out, nil
}
