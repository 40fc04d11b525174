package stateres

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/concord/internal/auth"
	"github.com/roach88/concord/internal/dag"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// senderPower returns the power ev's sender held when ev was authored: the
// level granted by the power-levels event among ev's own auth_events, or the
// rule table's defaults without one.
func senderPower(l *loader, rules roomversion.Rules, ev *event.Event) (int64, error) {
	if ev.Is(event.TypeCreate, "") {
		return rules.Power.Creator, nil
	}
	pl, err := l.authEvent(ev, event.TypePowerLevels)
	if err != nil {
		return 0, err
	}
	create, err := l.authEvent(ev, event.TypeCreate)
	if err != nil {
		return 0, err
	}
	return auth.EffectiveLevels(rules, pl, create).UserLevel(ev.Sender()), nil
}

// powerOrder sorts the full conflicted set for re-authorization. Among
// events whose auth ancestors in the set are already placed, the next is
// the one with the highest sender power, then the earliest timestamp, then
// the smallest identifier.
func powerOrder(l *loader, w *chainWalker, rules roomversion.Rules, set map[string]bool) ([]string, error) {
	power := make(map[string]int64, len(set))
	for _, id := range sortedKeys(set) {
		ev, err := l.get(id)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			continue
		}
		p, err := senderPower(l, rules, ev)
		if err != nil {
			return nil, err
		}
		power[id] = p
	}
	if err := l.missingErr(); err != nil {
		return nil, err
	}

	g, err := restrictedAuthGraph(w, set)
	if err != nil {
		return nil, err
	}

	compare := func(a, b string) int {
		if c := cmp.Compare(power[b], power[a]); c != 0 {
			return c
		}
		if c := cmp.Compare(l.events[a].OriginServerTS(), l.events[b].OriginServerTS()); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	}

	order, err := dag.TopologicalOrder(g, compare)
	if err != nil {
		var ce *dag.CycleError
		if errors.As(err, &ce) {
			return nil, cycleDetected(l.roomID, "auth_events", ce.Path)
		}
		return nil, fmt.Errorf("order conflicted events: %w", err)
	}
	return order, nil
}

// restrictedAuthGraph links each event of set to its auth ancestors inside
// set, including ancestors reached only through events outside it.
func restrictedAuthGraph(w *chainWalker, set map[string]bool) (dag.Graph, error) {
	g := make(dag.Graph, len(set))
	for id := range set {
		chain, err := w.chain(id)
		if err != nil {
			return nil, err
		}
		var parents []string
		if len(chain) < len(set) {
			for a := range chain {
				if set[a] {
					parents = append(parents, a)
				}
			}
		} else {
			for a := range set {
				if chain[a] {
					parents = append(parents, a)
				}
			}
		}
		slices.Sort(parents)
		g[id] = parents
	}
	return g, nil
}
