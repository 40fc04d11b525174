package stateres

import (
	"log/slog"

	"github.com/roach88/concord/internal/cache"
	"github.com/roach88/concord/internal/dag"
)

const (
	white = iota
	grey
	black
)

// chainWalker computes auth chains (the transitive closure over
// auth_events, excluding the event itself) with an explicit stack, so the
// depth of a room's history never touches the goroutine stack.
//
// Chains are memoized per resolution; complete chains also go to the
// shared cache. A chain is incomplete when some ancestor is missing, and
// incomplete chains are never cached.
type chainWalker struct {
	l      *loader
	cache  *cache.Cache
	logger *slog.Logger

	chains     map[string]map[string]bool
	incomplete map[string]bool
	colour     map[string]int
}

func newChainWalker(l *loader, c *cache.Cache, logger *slog.Logger) *chainWalker {
	return &chainWalker{
		l:          l,
		cache:      c,
		logger:     logger,
		chains:     make(map[string]map[string]bool),
		incomplete: make(map[string]bool),
		colour:     make(map[string]int),
	}
}

type frame struct {
	id      string
	parents []string
	next    int
}

// chain returns the auth chain of id, walking it first if needed.
func (w *chainWalker) chain(id string) (map[string]bool, error) {
	if err := w.walk(id); err != nil {
		return nil, err
	}
	return w.chains[id], nil
}

// walk computes the chain of root and of every ancestor it visits.
func (w *chainWalker) walk(root string) error {
	if w.colour[root] == black {
		return nil
	}

	var stack []*frame
	push := func(id string) (bool, error) {
		if cached, ok := w.fromCache(id); ok {
			w.chains[id] = cached
			w.colour[id] = black
			return false, nil
		}
		ev, err := w.l.get(id)
		if err != nil {
			return false, err
		}
		if ev == nil {
			w.chains[id] = map[string]bool{}
			w.incomplete[id] = true
			w.colour[id] = black
			return false, nil
		}
		w.colour[id] = grey
		stack = append(stack, &frame{id: id, parents: ev.AuthEvents()})
		return true, nil
	}

	if _, err := push(root); err != nil {
		return err
	}

	for len(stack) > 0 {
		if err := w.l.budget.checkTime(); err != nil {
			return err
		}
		top := stack[len(stack)-1]

		if top.next < len(top.parents) {
			p := top.parents[top.next]
			top.next++
			switch w.colour[p] {
			case grey:
				return w.cycle(stack, p)
			case white:
				if _, err := push(p); err != nil {
					return err
				}
			}
			continue
		}

		stack = stack[:len(stack)-1]
		set := make(map[string]bool)
		for _, p := range top.parents {
			if !w.l.missing[p] {
				set[p] = true
			}
			for a := range w.chains[p] {
				set[a] = true
			}
			if w.incomplete[p] {
				w.incomplete[top.id] = true
			}
		}
		w.chains[top.id] = set
		w.colour[top.id] = black
		if w.cache != nil && !w.incomplete[top.id] {
			w.cache.PutAuthChain(top.id, sortedKeys(set))
		}
	}
	return nil
}

func (w *chainWalker) fromCache(id string) (map[string]bool, bool) {
	if w.cache == nil {
		return nil, false
	}
	ids, ok := w.cache.AuthChain(id)
	if !ok {
		return nil, false
	}
	set := make(map[string]bool, len(ids))
	for _, a := range ids {
		set[a] = true
	}
	return set, true
}

// cycle reports the path from the first occurrence of back on the stack to
// the top, closed with back itself.
func (w *chainWalker) cycle(stack []*frame, back string) error {
	var path []string
	for i, f := range stack {
		if f.id == back {
			for _, g := range stack[i:] {
				path = append(path, g.id)
			}
			break
		}
	}
	path = append(path, back)
	w.logger.Error("cycle detected in auth_events",
		"room", w.l.roomID,
		"path", path)
	return cycleDetected(w.l.roomID, "auth_events", path)
}

// checkPrevCycles rejects a cycle among the prev_events of the loaded
// events. Edges to events that were never loaded are ignored.
func checkPrevCycles(l *loader, logger *slog.Logger) error {
	g := make(dag.Graph, len(l.events))
	for id, ev := range l.events {
		g[id] = ev.PrevEvents()
	}
	if path := dag.FindCycle(g); path != nil {
		logger.Error("cycle detected in prev_events",
			"room", l.roomID,
			"path", path)
		return cycleDetected(l.roomID, "prev_events", path)
	}
	return nil
}
