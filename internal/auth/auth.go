package auth

import (
	"strings"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// Authorize decides whether ev is permitted in state under rules.
func Authorize(rules roomversion.Rules, ev *event.Event, state State) Verdict {
	return AuthorizeWithTarget(rules, ev, state, nil)
}

// AuthorizeWithTarget is Authorize with the event a redaction targets, when
// the caller has it. target is ignored for other event types.
func AuthorizeWithTarget(rules roomversion.Rules, ev *event.Event, state State, target *event.Event) Verdict {
	if ev.Type() == event.TypeCreate {
		return authorizeCreate(ev)
	}

	create := state.Create()
	if create == nil {
		return reject(ReasonMissingCreate, "no create event in auth state")
	}
	if create.RoomID() != ev.RoomID() {
		return reject(ReasonMissingCreate, "create event belongs to %s", create.RoomID())
	}

	sender := ev.Sender()
	senderServer := event.ServerName(sender)
	if !event.ParseCreate(create).Federate && senderServer != event.ServerName(create.Sender()) {
		return reject(ReasonFederationDenied, "room does not federate with %s", senderServer)
	}

	if rules.SpecialCaseAliases && ev.Type() == event.TypeAliases {
		sk, ok := ev.StateKey()
		if !ok || sk != senderServer {
			return reject(ReasonStateKeyMismatch, "aliases state key must be the sender's server")
		}
		return Allow()
	}

	pl, err := state.Levels(rules)
	if err != nil {
		return reject(ReasonPowerLevelsInvalid, "current power levels: %v", err)
	}

	if ev.Type() == event.TypeMember {
		return authorizeMember(rules, ev, state, pl)
	}

	if event.MembershipOf(state.Member(sender)) != event.MembershipJoin {
		return reject(ReasonNotJoined, "%s is not joined", sender)
	}

	senderLevel := pl.UserLevel(sender)

	if ev.Type() == event.TypeThirdPartyInvite {
		if senderLevel < pl.Invite {
			return reject(ReasonInsufficientPower, "invite needs %d, sender has %d", pl.Invite, senderLevel)
		}
		return Allow()
	}

	if required := pl.EventLevel(ev.Type(), ev.IsState()); senderLevel < required {
		return reject(ReasonInsufficientPower, "%s needs %d, sender has %d", ev.Type(), required, senderLevel)
	}

	if sk, ok := ev.StateKey(); ok && strings.HasPrefix(sk, "@") && sk != sender {
		return reject(ReasonStateKeyMismatch, "state key %s is another user's", sk)
	}

	if ev.Is(event.TypePowerLevels, "") {
		return authorizePowerLevels(rules, ev, state, senderLevel)
	}

	if ev.Type() == event.TypeRedaction {
		return authorizeRedaction(rules, ev, pl, target)
	}

	return Allow()
}

// AuthorizeWithAuthEvents authorizes ev against the events its own
// auth_events name. The events must all belong to ev's room, be state
// events and occupy distinct slots that StateKeysNeeded selects.
func AuthorizeWithAuthEvents(rules roomversion.Rules, ev *event.Event, authEvents []*event.Event, target *event.Event) Verdict {
	if ev.Type() == event.TypeCreate {
		return authorizeCreate(ev)
	}

	needed := make(map[event.Key]bool)
	for _, k := range StateKeysNeeded(ev) {
		needed[k] = true
	}

	state := make(State, len(authEvents))
	for _, ae := range authEvents {
		if ae.RoomID() != ev.RoomID() {
			return reject(ReasonAuthEventsInvalid, "auth event %s is in room %s", ae.ID(), ae.RoomID())
		}
		if !ae.IsState() {
			return reject(ReasonAuthEventsInvalid, "auth event %s is not a state event", ae.ID())
		}
		k := ae.Key()
		if !needed[k] {
			return reject(ReasonAuthEventsInvalid, "auth event %s has unexpected key %s", ae.ID(), k)
		}
		if _, dup := state[k]; dup {
			return reject(ReasonAuthEventsInvalid, "auth events repeat key %s", k)
		}
		state[k] = ae
	}

	return AuthorizeWithTarget(rules, ev, state, target)
}

func authorizeCreate(ev *event.Event) Verdict {
	if sk, ok := ev.StateKey(); !ok || sk != "" {
		return reject(ReasonCreateInvalid, "create event must have an empty state key")
	}
	if len(ev.PrevEvents()) > 0 {
		return reject(ReasonCreateInvalid, "create event has predecessors")
	}
	if len(ev.AuthEvents()) > 0 {
		return reject(ReasonCreateInvalid, "create event has auth events")
	}
	if event.ServerName(ev.RoomID()) != event.ServerName(ev.Sender()) {
		return reject(ReasonCreateInvalid, "room ID server does not match sender server")
	}

	content := ev.Content()
	version := roomversion.Legacy
	if content.Has("room_version") {
		v, ok := content.String("room_version")
		if !ok || !roomversion.Known(v) {
			return reject(ReasonCreateInvalid, "unsupported room_version")
		}
		version = v
	}

	rules := roomversion.MustLookup(version)
	if !rules.ImplicitCreator {
		creator, ok := content.String("creator")
		if !ok || !event.ValidUserID(creator) {
			return reject(ReasonCreateInvalid, "creator is required in room version %s", version)
		}
	}
	return Allow()
}

func authorizeRedaction(rules roomversion.Rules, ev *event.Event, pl PowerLevels, target *event.Event) Verdict {
	redacts := ev.Redacts()
	if redacts == "" {
		return reject(ReasonMalformedContent, "redaction names no target")
	}

	sender := ev.Sender()
	if pl.UserLevel(sender) >= pl.Redact {
		return Allow()
	}
	if rules.LegacyRedactionDomain && event.ServerName(redacts) == event.ServerName(sender) {
		return Allow()
	}
	if target != nil && target.ID() == redacts && target.Sender() == sender {
		return Allow()
	}
	return reject(ReasonRedactionDenied, "%s may not redact %s", sender, redacts)
}
