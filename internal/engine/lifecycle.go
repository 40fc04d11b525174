package engine

import "fmt"

// Status is the lifecycle state of a stored event.
//
//	received ──▶ verified ──▶ authorized
//	   │  ▲          │   └──▶ soft_failed
//	   │  └ (key)    └──▶ missing_dependency ──▶ authorized | soft_failed
//	   └──▶ signature_invalid ──▶ verified (other copy)
//
// A received event whose signing key is unknown stays received until a
// retry. missing_dependency is left again once the auth events arrive.
// Signatures are not covered by the event ID, so a signature_invalid event
// is verified after all when a copy with valid signatures arrives.
type Status string

const (
	StatusReceived          Status = "received"
	StatusVerified          Status = "verified"
	StatusSignatureInvalid  Status = "signature_invalid"
	StatusAuthorized        Status = "authorized"
	StatusSoftFailed        Status = "soft_failed"
	StatusMissingDependency Status = "missing_dependency"
)

var transitions = map[Status][]Status{
	"":                      {StatusReceived},
	StatusReceived:          {StatusReceived, StatusVerified, StatusSignatureInvalid},
	StatusSignatureInvalid:  {StatusVerified},
	StatusVerified:          {StatusAuthorized, StatusSoftFailed, StatusMissingDependency},
	StatusMissingDependency: {StatusAuthorized, StatusSoftFailed, StatusMissingDependency},
}

// Terminal reports whether processing the same copy of an event again
// leaves s unchanged.
func (s Status) Terminal() bool {
	return s == StatusSignatureInvalid || s == StatusAuthorized || s == StatusSoftFailed
}

// CanTransition reports whether an event may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an attempt to move an event along an edge the
// lifecycle does not have.
type TransitionError struct {
	EventID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %s: invalid lifecycle transition %q -> %q", e.EventID, e.From, e.To)
}

// Reasons recorded for statuses that are not authorization verdicts.
// Authorized and soft-failed events record the auth.Reason instead.
const (
	ReasonSignatureInvalid  = "signature_invalid"
	ReasonMalformedEvent    = "malformed_event"
	ReasonUnknownSigningKey = "unknown_signing_key"
	ReasonMissingDependency = "missing_dependency"
)

// Outcome is the result of processing one event. Detail is only set when
// the event was processed by this call, not when a stored terminal outcome
// is returned.
type Outcome struct {
	EventID string `json:"event_id"`
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Seq     int64  `json:"seq"`
}

// Accepted reports whether the event entered the room.
func (o Outcome) Accepted() bool {
	return o.Status == StatusAuthorized
}
