package stateres

import (
	"github.com/roach88/concord/internal/auth"
	"github.com/roach88/concord/internal/cache"
	"github.com/roach88/concord/internal/canonicaljson"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// Rejection records a conflicted event that failed re-authorization.
type Rejection struct {
	EventID string      `json:"event_id"`
	Reason  auth.Reason `json:"reason"`
	Detail  string      `json:"detail,omitempty"`
}

// iteration is the mutable state of the re-authorization pass.
type iteration struct {
	l            *loader
	w            *chainWalker
	cache        *cache.Cache
	rules        roomversion.Rules
	unconflicted StateMap
	candidate    StateMap

	softFailed []Rejection
	superseded []string

	authorizations int
	verdictHits    int
}

// authState builds the auth state for ev from the candidate, taking the
// create event from ev's own auth_events when the candidate has none.
func (it *iteration) authState(ev *event.Event) (auth.State, error) {
	state := auth.State{}
	for _, k := range auth.StateKeysNeeded(ev) {
		id, ok := it.candidate[k]
		if !ok {
			continue
		}
		held, err := it.l.get(id)
		if err != nil {
			return nil, err
		}
		if held != nil {
			state[k] = held
		}
	}
	if state.Create() == nil && !ev.Is(event.TypeCreate, "") {
		create, err := it.l.authEvent(ev, event.TypeCreate)
		if err != nil {
			return nil, err
		}
		if create != nil {
			state[auth.CreateKey] = create
		}
	}
	return state, nil
}

// fingerprint identifies an auth state for the verdict cache: the digest of
// the room version and the state's canonical object, the same encoding
// HashState uses.
func fingerprint(rules roomversion.Rules, state auth.State) string {
	ids := make(StateMap, len(state))
	for k, ev := range state {
		ids[k] = ev.ID()
	}
	return digest(canonicaljson.Object{
		"room_version": canonicaljson.String(rules.Version),
		"state":        ids.Object(),
	})
}

func (it *iteration) authorize(ev *event.Event, state auth.State) auth.Verdict {
	key := cache.VerdictKey{EventID: ev.ID(), Fingerprint: fingerprint(it.rules, state)}
	if it.cache != nil {
		if v, ok := it.cache.Verdict(key); ok {
			it.verdictHits++
			return v
		}
	}

	it.authorizations++
	v := auth.Authorize(it.rules, ev, state)
	if it.cache != nil {
		it.cache.PutVerdict(key, v)
	}
	return v
}

// step re-authorizes one conflicted event against the candidate and places
// it.
func (it *iteration) step(id string) error {
	if err := it.l.budget.checkTime(); err != nil {
		return err
	}
	ev, err := it.l.get(id)
	if err != nil || ev == nil {
		return err
	}
	if !ev.IsState() {
		return nil
	}
	k := ev.Key()
	if _, fixed := it.unconflicted[k]; fixed {
		// An older version of an agreed slot; the agreed holder stays.
		return nil
	}

	state, err := it.authState(ev)
	if err != nil {
		return err
	}
	v := it.authorize(ev, state)
	if !v.Allowed {
		it.softFailed = append(it.softFailed, Rejection{EventID: id, Reason: v.Reason, Detail: v.Detail})
		return nil
	}

	holder, held := it.candidate[k]
	if !held || holder == id {
		it.candidate[k] = id
		return nil
	}
	chain, err := it.w.chain(id)
	if err != nil {
		return err
	}
	if chain[holder] {
		it.candidate[k] = id
		return nil
	}
	holderChain, err := it.w.chain(holder)
	if err != nil {
		return err
	}
	if holderChain[id] {
		// Stale: the holder already builds on this event.
		return nil
	}
	it.superseded = append(it.superseded, id)
	return nil
}
