// Package roomversion holds the named rule-table variants that select how
// events are authorized and resolved in a room.
//
// A room's version is fixed by its create event. Rooms of different versions
// resolve side by side; nothing in this package is global mutable state.
package roomversion

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// Default is the version assumed when a create event omits room_version
// and no other version is configured.
const Default = "10"

// Legacy is the version implied by a create event with no room_version.
const Legacy = "1"

// ErrUnknownVersion is returned by Lookup for unsupported versions.
var ErrUnknownVersion = errors.New("unknown room version")

// Rules is one rule-table variant. Values are copied freely; a Rules is
// never modified after Lookup returns it.
type Rules struct {
	// Version is the room version identifier, e.g. "10".
	Version string

	// SpecialCaseAliases accepts m.room.aliases events whose state key is
	// the sender's server without further power checks.
	SpecialCaseAliases bool

	// LegacyRedactionDomain lets a server redact events whose ID names it.
	LegacyRedactionDomain bool

	// NotificationsPowerChecked applies the power-level change rules to the
	// notifications map.
	NotificationsPowerChecked bool

	// KnockingAllowed enables the knock membership and join rule.
	KnockingAllowed bool

	// RestrictedJoins enables the restricted join rule and requires the
	// authorising user's server to sign the join.
	RestrictedJoins bool

	// KnockRestricted enables the knock_restricted join rule.
	KnockRestricted bool

	// StrictIntegerPowerLevels rejects power levels given as strings.
	StrictIntegerPowerLevels bool

	// ImplicitCreator takes the room creator from the create event's sender
	// instead of content.creator.
	ImplicitCreator bool

	// Power holds the default levels applied when a power-levels event
	// omits a field.
	Power PowerDefaults
}

// PowerDefaults are the levels used when the power-levels content omits a
// field. StateDefaultNoEvent applies when the room has no power-levels event.
type PowerDefaults struct {
	UsersDefault        int64
	EventsDefault       int64
	StateDefault        int64
	StateDefaultNoEvent int64
	Ban                 int64
	Kick                int64
	Redact              int64
	Invite              int64
	NotificationsRoom   int64

	// Creator is the creator's level when the room has no power-levels event.
	Creator int64
}

var standardPower = PowerDefaults{
	UsersDefault:        0,
	EventsDefault:       0,
	StateDefault:        50,
	StateDefaultNoEvent: 0,
	Ban:                 50,
	Kick:                50,
	Redact:              50,
	Invite:              0,
	NotificationsRoom:   50,
	Creator:             100,
}

// table is built once from the per-version feature thresholds.
var table = func() map[string]Rules {
	out := make(map[string]Rules, 11)
	for n := 1; n <= 11; n++ {
		out[strconv.Itoa(n)] = Rules{
			Version:                   strconv.Itoa(n),
			SpecialCaseAliases:        n <= 5,
			LegacyRedactionDomain:     n <= 2,
			NotificationsPowerChecked: n >= 6,
			KnockingAllowed:           n >= 7,
			RestrictedJoins:           n >= 8,
			KnockRestricted:           n >= 10,
			StrictIntegerPowerLevels:  n >= 10,
			ImplicitCreator:           n >= 11,
			Power:                     standardPower,
		}
	}
	return out
}()

// Lookup returns the rules for a version.
func Lookup(version string) (Rules, error) {
	r, ok := table[version]
	if !ok {
		return Rules{}, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	return r, nil
}

// MustLookup is like Lookup but panics on error.
// Use only in tests or with versions known to be supported.
func MustLookup(version string) Rules {
	r, err := Lookup(version)
	if err != nil {
		panic(err)
	}
	return r
}

// Known reports whether version is supported.
func Known(version string) bool {
	_, ok := table[version]
	return ok
}

// Versions lists the supported versions in ascending numeric order.
func Versions() []string {
	out := make([]string, 0, len(table))
	for v := range table {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b string) int {
		ai, _ := strconv.Atoi(a)
		bi, _ := strconv.Atoi(b)
		return ai - bi
	})
	return out
}

// String implements fmt.Stringer.
func (r Rules) String() string {
	return "v" + r.Version
}
