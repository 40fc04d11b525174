// Package dag holds graph utilities over event identifiers: cycle detection,
// priority-driven topological ordering and forward extremities.
//
// Graphs are plain adjacency maps from an identifier to its parents. Edges
// to identifiers that are not keys of the map are ignored, so a graph can be
// built over any loaded subset of a room.
package dag

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/concord/internal/event"
)

// Graph maps a node to its parents.
type Graph map[string][]string

// PrevGraph builds the happened-before graph of events.
func PrevGraph(events []*event.Event) Graph {
	g := make(Graph, len(events))
	for _, ev := range events {
		g[ev.ID()] = ev.PrevEvents()
	}
	return g
}

// AuthGraph builds the authorization graph of events.
func AuthGraph(events []*event.Event) Graph {
	g := make(Graph, len(events))
	for _, ev := range events {
		g[ev.ID()] = ev.AuthEvents()
	}
	return g
}

// nodes returns the graph's keys in sorted order.
func (g Graph) nodes() []string {
	out := make([]string, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// CycleError reports a cycle. Path starts and ends at the same node.
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

const (
	white = iota
	grey
	black
)

// FindCycle returns a cycle in g, or nil if g is acyclic. The walk is an
// iterative three-colour depth-first search, so deep graphs do not grow the
// goroutine stack. Nodes are visited in sorted order, so the reported cycle
// is deterministic.
func FindCycle(g Graph) []string {
	colour := make(map[string]int, len(g))

	type frame struct {
		id   string
		next int
	}

	for _, root := range g.nodes() {
		if colour[root] != white {
			continue
		}
		stack := []frame{{id: root}}
		colour[root] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			parents := g[top.id]
			if top.next == len(parents) {
				colour[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			p := parents[top.next]
			top.next++

			if _, known := g[p]; !known {
				continue
			}
			switch colour[p] {
			case grey:
				path := []string{}
				for i := range stack {
					if stack[i].id == p || len(path) > 0 {
						path = append(path, stack[i].id)
					}
				}
				return append(path, p)
			case white:
				colour[p] = grey
				stack = append(stack, frame{id: p})
			}
		}
	}
	return nil
}

// TopologicalOrder orders g so that every node comes after all of its
// parents. Among nodes whose parents are all placed, the one that compare
// ranks first is taken next (Kahn's algorithm with a priority queue).
// It returns a *CycleError when no such order exists.
func TopologicalOrder(g Graph, compare func(a, b string) int) ([]string, error) {
	pending := make(map[string]int, len(g))
	children := make(map[string][]string, len(g))
	for _, id := range g.nodes() {
		seen := make(map[string]bool)
		for _, p := range g[id] {
			if _, known := g[p]; !known || seen[p] {
				continue
			}
			seen[p] = true
			pending[id]++
			children[p] = append(children[p], id)
		}
	}

	ready := &priorityQueue{compare: compare}
	for _, id := range g.nodes() {
		if pending[id] == 0 {
			ready.items = append(ready.items, id)
		}
	}
	heap.Init(ready)

	order := make([]string, 0, len(g))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, c := range children[id] {
			pending[c]--
			if pending[c] == 0 {
				heap.Push(ready, c)
			}
		}
	}

	if len(order) != len(g) {
		path := FindCycle(g)
		return nil, &CycleError{Path: path}
	}
	return order, nil
}

// ForwardExtremities returns the nodes no other node names as a parent,
// sorted.
func ForwardExtremities(g Graph) []string {
	referenced := make(map[string]bool, len(g))
	for _, parents := range g {
		for _, p := range parents {
			referenced[p] = true
		}
	}
	var out []string
	for _, id := range g.nodes() {
		if !referenced[id] {
			out = append(out, id)
		}
	}
	return out
}

// Ancestors returns every node reachable from start through parent edges,
// excluding start itself unless it lies on a cycle.
func Ancestors(g Graph, start string) map[string]bool {
	seen := make(map[string]bool)
	work := slices.Clone(g[start])
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		work = append(work, g[id]...)
	}
	return seen
}

type priorityQueue struct {
	items   []string
	compare func(a, b string) int
}

func (q *priorityQueue) Len() int           { return len(q.items) }
func (q *priorityQueue) Less(i, j int) bool { return q.compare(q.items[i], q.items[j]) < 0 }
func (q *priorityQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *priorityQueue) Push(x any)         { q.items = append(q.items, x.(string)) }
func (q *priorityQueue) Pop() any {
	n := len(q.items)
	x := q.items[n-1]
	q.items = q.items[:n-1]
	return x
}
