package auth

import (
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// authorizeMember applies the membership transition table.
func authorizeMember(rules roomversion.Rules, ev *event.Event, state State, pl PowerLevels) Verdict {
	target, ok := ev.StateKey()
	if !ok || !event.ValidUserID(target) {
		return reject(ReasonMalformedContent, "member state key must be a user ID")
	}
	mc, ok := event.ParseMember(ev)
	if !ok {
		return reject(ReasonMalformedContent, "membership missing")
	}

	sender := ev.Sender()
	senderM := event.MembershipOf(state.Member(sender))
	targetM := event.MembershipOf(state.Member(target))
	senderLevel := pl.UserLevel(sender)
	targetLevel := pl.UserLevel(target)

	switch mc.Membership {
	case event.MembershipJoin:
		return authorizeJoin(rules, ev, state, pl, mc, target)

	case event.MembershipInvite:
		if mc.ThirdPartyInvite != nil {
			return authorizeThirdPartyInvite(ev, state, mc, target, targetM)
		}
		if senderM != event.MembershipJoin {
			return reject(ReasonNotJoined, "inviter %s is not joined", sender)
		}
		switch targetM {
		case event.MembershipBan:
			return reject(ReasonBanned, "%s is banned", target)
		case event.MembershipJoin:
			return reject(ReasonMembershipInvalid, "%s is already joined", target)
		}
		if senderLevel < pl.Invite {
			return reject(ReasonInsufficientPower, "invite needs %d, sender has %d", pl.Invite, senderLevel)
		}
		return Allow()

	case event.MembershipLeave:
		if sender == target {
			switch senderM {
			case event.MembershipJoin, event.MembershipInvite:
				return Allow()
			case event.MembershipKnock:
				if rules.KnockingAllowed {
					return Allow()
				}
			}
			return reject(ReasonMembershipInvalid, "cannot leave from %s", senderM)
		}
		if senderM != event.MembershipJoin {
			return reject(ReasonNotJoined, "%s is not joined", sender)
		}
		if targetM == event.MembershipBan && senderLevel < pl.Ban {
			return reject(ReasonInsufficientPower, "unban needs %d, sender has %d", pl.Ban, senderLevel)
		}
		if senderLevel < pl.Kick || targetLevel >= senderLevel {
			return reject(ReasonInsufficientPower, "kick needs %d and more power than the target", pl.Kick)
		}
		return Allow()

	case event.MembershipBan:
		if senderM != event.MembershipJoin {
			return reject(ReasonNotJoined, "%s is not joined", sender)
		}
		if senderLevel < pl.Ban || targetLevel >= senderLevel {
			return reject(ReasonInsufficientPower, "ban needs %d and more power than the target", pl.Ban)
		}
		return Allow()

	case event.MembershipKnock:
		if !rules.KnockingAllowed {
			return reject(ReasonMembershipInvalid, "knocking is not supported in %s", rules)
		}
		joinRule := event.JoinRuleOf(state.JoinRules())
		if joinRule != event.JoinRuleKnock && !(rules.KnockRestricted && joinRule == event.JoinRuleKnockRestricted) {
			return reject(ReasonJoinRuleDenied, "join rule %q does not allow knocking", joinRule)
		}
		if sender != target {
			return reject(ReasonMembershipInvalid, "cannot knock on behalf of another user")
		}
		switch senderM {
		case event.MembershipBan:
			return reject(ReasonBanned, "%s is banned", sender)
		case event.MembershipJoin, event.MembershipInvite:
			return reject(ReasonMembershipInvalid, "cannot knock from %s", senderM)
		}
		return Allow()
	}

	return reject(ReasonMembershipInvalid, "unknown membership %q", mc.Membership)
}

func authorizeJoin(rules roomversion.Rules, ev *event.Event, state State, pl PowerLevels, mc event.MemberContent, target string) Verdict {
	create := state.Create()
	sender := ev.Sender()

	// The creator's own first join, directly after the create event.
	if prev := ev.PrevEvents(); len(prev) == 1 && prev[0] == create.ID() && target == Creator(rules, create) {
		return Allow()
	}

	if sender != target {
		return reject(ReasonMembershipInvalid, "cannot join on behalf of another user")
	}

	current := event.MembershipOf(state.Member(target))
	if current == event.MembershipBan {
		return reject(ReasonBanned, "%s is banned", target)
	}

	joinRule := event.JoinRuleOf(state.JoinRules())
	switch {
	case joinRule == event.JoinRulePublic:
		return Allow()

	case joinRule == event.JoinRuleInvite,
		joinRule == event.JoinRuleKnock && rules.KnockingAllowed:
		if current == event.MembershipJoin || current == event.MembershipInvite {
			return Allow()
		}
		return reject(ReasonJoinRuleDenied, "join rule %q requires an invite", joinRule)

	case joinRule == event.JoinRuleRestricted && rules.RestrictedJoins,
		joinRule == event.JoinRuleKnockRestricted && rules.KnockRestricted:
		if current == event.MembershipJoin || current == event.MembershipInvite {
			return Allow()
		}
		via := mc.JoinAuthorisedVia
		if via == "" {
			return reject(ReasonJoinRuleDenied, "restricted join has no authorising user")
		}
		if event.MembershipOf(state.Member(via)) != event.MembershipJoin {
			return reject(ReasonJoinRuleDenied, "authorising user %s is not joined", via)
		}
		if pl.UserLevel(via) < pl.Invite {
			return reject(ReasonJoinRuleDenied, "authorising user %s cannot invite", via)
		}
		return Allow()
	}

	return reject(ReasonJoinRuleDenied, "join rule %q does not allow joining", joinRule)
}
