// Package auth decides whether a single event is permitted given an explicit
// auth state.
//
// The checker is a pure function of (rules, event, state). It never consults
// the room's full current state, only the handful of events a caller passes
// in, which lets the state resolver re-authorize candidates against
// hypothetical, partially built states.
//
// Auth state is restricted to the canonical categories: the create event,
// the power levels, the join rules, the memberships of the sender and
// target, and (for third-party invites) the invite token event. StateKeysNeeded
// lists the exact keys for an event.
//
// Rejection is an ordinary outcome, not an error: every call returns a
// Verdict carrying a stable Reason code.
package auth
