package auth

import (
	"slices"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// authorizePowerLevels validates new power-levels content and checks that
// the sender only changes levels within its own power.
func authorizePowerLevels(rules roomversion.Rules, ev *event.Event, state State, senderLevel int64) Verdict {
	next, err := parseLevelSet(rules, ev.Content())
	if err != nil {
		return reject(ReasonPowerLevelsInvalid, "%v", err)
	}

	currentEvent := state.PowerLevels()
	if currentEvent == nil {
		return Allow()
	}
	current, err := parseLevelSet(rules, currentEvent.Content())
	if err != nil {
		return reject(ReasonPowerLevelsInvalid, "current power levels: %v", err)
	}

	if key, ok := exceedsSender(current.top, next.top, senderLevel); !ok {
		return reject(ReasonInsufficientPower, "cannot change %s beyond own level %d", key, senderLevel)
	}
	if key, ok := exceedsSender(current.events, next.events, senderLevel); !ok {
		return reject(ReasonInsufficientPower, "cannot change events[%s] beyond own level %d", key, senderLevel)
	}
	if rules.NotificationsPowerChecked {
		if key, ok := exceedsSender(current.notifications, next.notifications, senderLevel); !ok {
			return reject(ReasonInsufficientPower, "cannot change notifications[%s] beyond own level %d", key, senderLevel)
		}
	}
	if key, ok := exceedsSender(current.users, next.users, senderLevel); !ok {
		return reject(ReasonInsufficientPower, "cannot change users[%s] beyond own level %d", key, senderLevel)
	}

	sender := ev.Sender()
	for _, user := range changedKeys(current.users, next.users) {
		if user == sender {
			continue
		}
		if old, ok := current.users[user]; ok && old >= senderLevel {
			return reject(ReasonInsufficientPower, "cannot change users[%s] at or above own level %d", user, senderLevel)
		}
	}
	return Allow()
}

// exceedsSender checks every added, removed or changed entry: neither the old
// nor the new value may be above the sender's level. It returns the first
// offending key in sorted order.
func exceedsSender(current, next map[string]int64, senderLevel int64) (string, bool) {
	for _, k := range changedKeys(current, next) {
		if old, ok := current[k]; ok && old > senderLevel {
			return k, false
		}
		if nv, ok := next[k]; ok && nv > senderLevel {
			return k, false
		}
	}
	return "", true
}

func changedKeys(current, next map[string]int64) []string {
	seen := make(map[string]bool, len(current)+len(next))
	var keys []string
	for k, old := range current {
		if nv, ok := next[k]; !ok || nv != old {
			keys = append(keys, k)
		}
		seen[k] = true
	}
	for k := range next {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
