package auth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/concord/internal/canonicaljson"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// Top-level power-level fields subject to the change rules.
var levelFields = []string{
	"users_default", "events_default", "state_default", "ban", "redact", "kick", "invite",
}

// PowerLevels is the interpreted content of a power-levels event with the
// rule table's defaults applied.
type PowerLevels struct {
	Users         map[string]int64
	UsersDefault  int64
	Events        map[string]int64
	EventsDefault int64
	StateDefault  int64
	Ban           int64
	Kick          int64
	Redact        int64
	Invite        int64
	Notifications map[string]int64
}

// UserLevel returns user's power.
func (pl PowerLevels) UserLevel(user string) int64 {
	if lvl, ok := pl.Users[user]; ok {
		return lvl
	}
	return pl.UsersDefault
}

// EventLevel returns the power needed to send an event of type typ.
func (pl PowerLevels) EventLevel(typ string, isState bool) int64 {
	if lvl, ok := pl.Events[typ]; ok {
		return lvl
	}
	if isState {
		return pl.StateDefault
	}
	return pl.EventsDefault
}

// levelSet holds only the values a power-levels content spells out.
type levelSet struct {
	top           map[string]int64
	users         map[string]int64
	events        map[string]int64
	notifications map[string]int64
}

func parseLevelSet(rules roomversion.Rules, content canonicaljson.Object) (levelSet, error) {
	ls := levelSet{
		top:           make(map[string]int64),
		users:         make(map[string]int64),
		events:        make(map[string]int64),
		notifications: make(map[string]int64),
	}

	for _, field := range levelFields {
		v, ok := content[field]
		if !ok {
			continue
		}
		lvl, err := parseLevel(rules, v)
		if err != nil {
			return levelSet{}, fmt.Errorf("%s: %w", field, err)
		}
		ls.top[field] = lvl
	}

	if err := parseLevelMap(rules, content, "users", ls.users, event.ValidUserID); err != nil {
		return levelSet{}, err
	}
	if err := parseLevelMap(rules, content, "events", ls.events, nil); err != nil {
		return levelSet{}, err
	}
	if err := parseLevelMap(rules, content, "notifications", ls.notifications, nil); err != nil {
		return levelSet{}, err
	}
	return ls, nil
}

func parseLevelMap(rules roomversion.Rules, content canonicaljson.Object, field string, into map[string]int64, validKey func(string) bool) error {
	v, ok := content[field]
	if !ok {
		return nil
	}
	obj, ok := v.(canonicaljson.Object)
	if !ok {
		return fmt.Errorf("%s: must be an object", field)
	}
	for k, lv := range obj {
		if validKey != nil && !validKey(k) {
			return fmt.Errorf("%s: invalid key %q", field, k)
		}
		lvl, err := parseLevel(rules, lv)
		if err != nil {
			return fmt.Errorf("%s[%q]: %w", field, k, err)
		}
		into[k] = lvl
	}
	return nil
}

// parseLevel accepts integers, and in lenient rule sets strings holding
// an integer.
func parseLevel(rules roomversion.Rules, v canonicaljson.Value) (int64, error) {
	switch val := v.(type) {
	case canonicaljson.Int:
		return int64(val), nil
	case canonicaljson.String:
		if rules.StrictIntegerPowerLevels {
			return 0, fmt.Errorf("level must be an integer, got string %q", string(val))
		}
		n, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("level %q is not an integer", string(val))
		}
		return n, nil
	default:
		return 0, fmt.Errorf("level must be an integer, got %T", v)
	}
}

// ParsePowerLevels interprets power-levels content, applying defaults for
// absent fields.
func ParsePowerLevels(rules roomversion.Rules, content canonicaljson.Object) (PowerLevels, error) {
	ls, err := parseLevelSet(rules, content)
	if err != nil {
		return PowerLevels{}, err
	}

	d := rules.Power
	pick := func(field string, def int64) int64 {
		if v, ok := ls.top[field]; ok {
			return v
		}
		return def
	}

	pl := PowerLevels{
		Users:         ls.users,
		UsersDefault:  pick("users_default", d.UsersDefault),
		Events:        ls.events,
		EventsDefault: pick("events_default", d.EventsDefault),
		StateDefault:  pick("state_default", d.StateDefault),
		Ban:           pick("ban", d.Ban),
		Kick:          pick("kick", d.Kick),
		Redact:        pick("redact", d.Redact),
		Invite:        pick("invite", d.Invite),
		Notifications: ls.notifications,
	}
	if _, ok := pl.Notifications["room"]; !ok {
		pl.Notifications["room"] = d.NotificationsRoom
	}
	return pl, nil
}

// DefaultPowerLevels are the levels of a room without a power-levels event:
// the creator holds the creator level, everyone else users_default.
func DefaultPowerLevels(rules roomversion.Rules, create *event.Event) PowerLevels {
	d := rules.Power
	pl := PowerLevels{
		Users:         map[string]int64{},
		UsersDefault:  d.UsersDefault,
		Events:        map[string]int64{},
		EventsDefault: d.EventsDefault,
		StateDefault:  d.StateDefaultNoEvent,
		Ban:           d.Ban,
		Kick:          d.Kick,
		Redact:        d.Redact,
		Invite:        d.Invite,
		Notifications: map[string]int64{"room": d.NotificationsRoom},
	}
	if c := Creator(rules, create); c != "" {
		pl.Users[c] = d.Creator
	}
	return pl
}

// EffectiveLevels returns the levels in force given the power-levels and
// create events, either of which may be nil. Unparseable content falls back
// to the defaults.
func EffectiveLevels(rules roomversion.Rules, powerLevels, create *event.Event) PowerLevels {
	if powerLevels == nil {
		return DefaultPowerLevels(rules, create)
	}
	pl, err := ParsePowerLevels(rules, powerLevels.Content())
	if err != nil {
		return DefaultPowerLevels(rules, create)
	}
	return pl
}

// Creator returns the room creator named by create, or "".
func Creator(rules roomversion.Rules, create *event.Event) string {
	if create == nil {
		return ""
	}
	if rules.ImplicitCreator {
		return create.Sender()
	}
	return event.ParseCreate(create).Creator
}

// Levels returns the power levels in force for s.
func (s State) Levels(rules roomversion.Rules) (PowerLevels, error) {
	plEvent := s.PowerLevels()
	if plEvent == nil {
		return DefaultPowerLevels(rules, s.Create()), nil
	}
	return ParsePowerLevels(rules, plEvent.Content())
}
