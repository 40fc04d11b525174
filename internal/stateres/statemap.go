package stateres

import (
	"maps"
	"slices"

	"github.com/roach88/concord/internal/event"
)

// StateMap maps each state slot to the identifier of the event holding it.
// It marshals to a JSON object keyed by "type|state_key".
type StateMap map[event.Key]string

// Clone returns a copy of m.
func (m StateMap) Clone() StateMap {
	if m == nil {
		return StateMap{}
	}
	return maps.Clone(m)
}

// Keys returns the keys in (type, state key) order.
func (m StateMap) Keys() []event.Key {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, event.Key.Compare)
	return keys
}

// IDs returns the distinct event identifiers, sorted.
func (m StateMap) IDs() []string {
	set := make(map[string]bool, len(m))
	for _, id := range m {
		set[id] = true
	}
	return sortedKeys(set)
}

// Equal reports whether m and other hold the same entries.
func (m StateMap) Equal(other StateMap) bool {
	return maps.Equal(m, other)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// partition splits the tips into the slots everyone agrees on and the
// slots with competing candidates. A slot absent from some tip is in
// conflict even if every tip that has it agrees.
func partition(tips []StateMap) (unconflicted StateMap, conflicted map[event.Key][]string) {
	unconflicted = StateMap{}
	conflicted = make(map[event.Key][]string)
	if len(tips) == 0 {
		return unconflicted, conflicted
	}

	keys := make(map[event.Key]bool)
	for _, tip := range tips {
		for k := range tip {
			keys[k] = true
		}
	}

	for k := range keys {
		var candidates []string
		agreed := true
		for _, tip := range tips {
			id, ok := tip[k]
			if !ok {
				agreed = false
				continue
			}
			if !slices.Contains(candidates, id) {
				candidates = append(candidates, id)
			}
		}
		if agreed && len(candidates) == 1 {
			unconflicted[k] = candidates[0]
			continue
		}
		slices.Sort(candidates)
		conflicted[k] = candidates
	}
	return unconflicted, conflicted
}
