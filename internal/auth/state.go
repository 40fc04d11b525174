package auth

import (
	"slices"

	"github.com/roach88/concord/internal/event"
)

// State is an auth state: resolved events keyed by the slot they occupy.
// Only the keys from StateKeysNeeded are consulted.
type State map[event.Key]*event.Event

// NewState indexes state events by key. Later events replace earlier ones
// for the same key; non-state events are ignored.
func NewState(events ...*event.Event) State {
	s := make(State, len(events))
	for _, ev := range events {
		if ev != nil && ev.IsState() {
			s[ev.Key()] = ev
		}
	}
	return s
}

// Get returns the event at key, or nil.
func (s State) Get(typ, stateKey string) *event.Event {
	return s[event.Key{Type: typ, StateKey: stateKey}]
}

// Create returns the create event, or nil.
func (s State) Create() *event.Event { return s.Get(event.TypeCreate, "") }

// PowerLevels returns the power-levels event, or nil.
func (s State) PowerLevels() *event.Event { return s.Get(event.TypePowerLevels, "") }

// JoinRules returns the join-rules event, or nil.
func (s State) JoinRules() *event.Event { return s.Get(event.TypeJoinRules, "") }

// Member returns user's membership event, or nil.
func (s State) Member(user string) *event.Event { return s.Get(event.TypeMember, user) }

// ThirdPartyInvite returns the invite token event for token, or nil.
func (s State) ThirdPartyInvite(token string) *event.Event {
	return s.Get(event.TypeThirdPartyInvite, token)
}

// Key helpers for the canonical auth categories.
var (
	CreateKey      = event.Key{Type: event.TypeCreate}
	PowerLevelsKey = event.Key{Type: event.TypePowerLevels}
	JoinRulesKey   = event.Key{Type: event.TypeJoinRules}
)

// MemberKey returns the membership slot for user.
func MemberKey(user string) event.Key {
	return event.Key{Type: event.TypeMember, StateKey: user}
}

// StateKeysNeeded lists the state keys whose events are consulted when
// authorizing ev, sorted and without duplicates. A create event needs none.
func StateKeysNeeded(ev *event.Event) []event.Key {
	if ev.Type() == event.TypeCreate {
		return nil
	}

	keys := []event.Key{CreateKey, PowerLevelsKey, MemberKey(ev.Sender())}

	if ev.Type() == event.TypeMember {
		if target, ok := ev.StateKey(); ok {
			keys = append(keys, MemberKey(target))
		}
		if mc, ok := event.ParseMember(ev); ok {
			switch mc.Membership {
			case event.MembershipJoin, event.MembershipInvite, event.MembershipKnock:
				keys = append(keys, JoinRulesKey)
			}
			if mc.Membership == event.MembershipJoin && mc.JoinAuthorisedVia != "" {
				keys = append(keys, MemberKey(mc.JoinAuthorisedVia))
			}
			if mc.Membership == event.MembershipInvite && mc.ThirdPartyInvite != nil {
				if token := inviteToken(mc.ThirdPartyInvite); token != "" {
					keys = append(keys, event.Key{Type: event.TypeThirdPartyInvite, StateKey: token})
				}
			}
		}
	}

	slices.SortFunc(keys, event.Key.Compare)
	return slices.CompactFunc(keys, func(a, b event.Key) bool { return a == b })
}

// Subset returns the part of s that StateKeysNeeded(ev) selects.
func (s State) Subset(ev *event.Event) State {
	out := make(State)
	for _, k := range StateKeysNeeded(ev) {
		if e, ok := s[k]; ok && e != nil {
			out[k] = e
		}
	}
	return out
}
