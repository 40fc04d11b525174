package auth

import "fmt"

// Reason is a stable code explaining a verdict.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonCreateInvalid      Reason = "create_invalid"
	ReasonMissingCreate      Reason = "missing_create"
	ReasonFederationDenied   Reason = "federation_denied"
	ReasonNotJoined          Reason = "not_joined"
	ReasonInsufficientPower  Reason = "insufficient_power"
	ReasonMembershipInvalid  Reason = "membership_invalid"
	ReasonBanned             Reason = "banned"
	ReasonJoinRuleDenied     Reason = "join_rule_denied"
	ReasonPowerLevelsInvalid Reason = "power_levels_invalid"
	ReasonStateKeyMismatch   Reason = "state_key_mismatch"
	ReasonRedactionDenied    Reason = "redaction_denied"
	ReasonThirdPartyInvalid  Reason = "third_party_invalid"
	ReasonMalformedContent   Reason = "malformed_content"
	ReasonAuthEventsInvalid  Reason = "auth_events_invalid"
)

// Verdict is the immutable outcome of one authorization.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// Allow is the accepting verdict.
func Allow() Verdict {
	return Verdict{Allowed: true, Reason: ReasonOK}
}

func reject(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// String implements fmt.Stringer.
func (v Verdict) String() string {
	if v.Allowed {
		return string(ReasonOK)
	}
	if v.Detail == "" {
		return string(v.Reason)
	}
	return string(v.Reason) + ": " + v.Detail
}
