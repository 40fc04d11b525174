package event

import (
	"github.com/roach88/concord/internal/canonicaljson"
)

// Membership values.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// Join rule values.
const (
	JoinRulePublic          = "public"
	JoinRuleInvite          = "invite"
	JoinRuleKnock           = "knock"
	JoinRuleRestricted      = "restricted"
	JoinRuleKnockRestricted = "knock_restricted"
	JoinRulePrivate         = "private"
)

// CreateContent is the interpreted content of an m.room.create event.
type CreateContent struct {
	// Creator is content.creator when present. Rule sets where the creator
	// is implicit use the event sender instead; see roomversion.Rules.
	Creator     string
	RoomVersion string
	Federate    bool
}

// ParseCreate interprets e as a create event. Missing m.federate defaults
// to true.
func ParseCreate(e *Event) CreateContent {
	c := CreateContent{Federate: true}
	c.Creator, _ = e.content.String("creator")
	c.RoomVersion, _ = e.content.String("room_version")
	if f, ok := e.content.Bool("m.federate"); ok {
		c.Federate = f
	}
	return c
}

// MemberContent is the interpreted content of an m.room.member event.
type MemberContent struct {
	Membership string

	// JoinAuthorisedVia is join_authorised_via_users_server, used by
	// restricted joins.
	JoinAuthorisedVia string

	// ThirdPartyInvite is the third_party_invite block, or nil.
	ThirdPartyInvite canonicaljson.Object
}

// ParseMember interprets e as a membership event. ok is false if the
// membership field is absent or not a string.
func ParseMember(e *Event) (MemberContent, bool) {
	m, ok := e.content.String("membership")
	if !ok {
		return MemberContent{}, false
	}
	c := MemberContent{Membership: m}
	c.JoinAuthorisedVia, _ = e.content.String("join_authorised_via_users_server")
	c.ThirdPartyInvite, _ = e.content.Object("third_party_invite")
	return c, true
}

// MembershipOf returns the membership carried by a member event, or "leave"
// when e is nil (no membership event means the user is not in the room).
func MembershipOf(e *Event) string {
	if e == nil {
		return MembershipLeave
	}
	c, ok := ParseMember(e)
	if !ok {
		return MembershipLeave
	}
	return c.Membership
}

// JoinRuleOf returns content.join_rule of a join rules event, or "" when e
// is nil or the field is missing.
func JoinRuleOf(e *Event) string {
	if e == nil {
		return ""
	}
	r, _ := e.content.String("join_rule")
	return r
}
