package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// Scenario describes a room built step by step, the events an engine
// processes from it, an optional resolution and the assertions on the
// outcome. Events are referred to by alias, never by ID.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RoomVersion selects the rule table. Default: "10".
	RoomVersion string `yaml:"room_version,omitempty"`

	// Creator sends the create event (alias "create") and joins (alias
	// "creator_join") on branch "main".
	Creator string `yaml:"creator"`

	// Steps build the room in order.
	Steps []Step `yaml:"steps"`

	// Withhold lists aliases that are built but never given to the engine,
	// so anything referencing them sees a missing dependency.
	Withhold []string `yaml:"withhold,omitempty"`

	// Resolve, if set, resolves the state of the named branches.
	Resolve *ResolveStep `yaml:"resolve,omitempty"`

	// Assertions validate statuses and the resolution.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of Fork or Send.
type Step struct {
	Fork *ForkStep `yaml:"fork,omitempty"`
	Send *SendStep `yaml:"send,omitempty"`
}

// ForkStep starts branch Name at the current tip of branch From.
type ForkStep struct {
	Name string `yaml:"name"`
	From string `yaml:"from"`
}

// SendStep builds one signed event on a branch. Unset fields are filled in
// the way a homeserver would: prev_events from the branch tip, auth_events
// from the branch state and a timestamp from a shared counter.
type SendStep struct {
	Alias    string         `yaml:"alias"`
	Branch   string         `yaml:"branch,omitempty"`
	Sender   string         `yaml:"sender"`
	Type     string         `yaml:"type"`
	StateKey *string        `yaml:"state_key,omitempty"`
	Content  map[string]any `yaml:"content,omitempty"`
	TS       int64          `yaml:"ts,omitempty"`

	// Prev and Auth override the computed references, by alias.
	Prev []string `yaml:"prev,omitempty"`
	Auth []string `yaml:"auth,omitempty"`

	// Redacts names the alias a redaction targets.
	Redacts string `yaml:"redacts,omitempty"`

	// Detached events do not advance their branch.
	Detached bool `yaml:"detached,omitempty"`
}

// ResolveStep names the branches whose states are the tips, and the
// aliases of timeline events to order.
type ResolveStep struct {
	Tips     []string `yaml:"tips"`
	Timeline []string `yaml:"timeline,omitempty"`
}

// Assertion validates one aspect of the outcome.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Alias names the event (status, state, soft_failed).
	Alias string `yaml:"alias,omitempty"`

	// Status is the expected lifecycle status (status).
	Status string `yaml:"status,omitempty"`

	// Reason is the expected reason code (status, soft_failed).
	Reason string `yaml:"reason,omitempty"`

	// Key is a state slot written "type|state_key" (state). An empty
	// Alias asserts the slot is absent.
	Key string `yaml:"key,omitempty"`

	// Aliases is the exact expected list (superseded, timeline, error).
	Aliases []string `yaml:"aliases,omitempty"`

	// Code is the expected resolution error code (error).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus     = "status"
	AssertState      = "state"
	AssertSoftFailed = "soft_failed"
	AssertSuperseded = "superseded"
	AssertTimeline   = "timeline"
	AssertError      = "error"
)

// MainBranch is the branch the creator's events are sent on.
const MainBranch = "main"

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos do not silently weaken a scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.RoomVersion == "" {
		scenario.RoomVersion = "10"
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every alias and branch
// is defined before use.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !roomversion.Known(s.RoomVersion) {
		return fmt.Errorf("unsupported room_version %q", s.RoomVersion)
	}
	if !event.ValidUserID(s.Creator) {
		return fmt.Errorf("creator must be a user ID, got %q", s.Creator)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	aliases := map[string]bool{"create": true, "creator_join": true}
	branches := map[string]bool{MainBranch: true}

	for i, step := range s.Steps {
		switch {
		case step.Fork != nil && step.Send != nil:
			return fmt.Errorf("steps[%d]: fork and send are exclusive", i)
		case step.Fork != nil:
			f := step.Fork
			if f.Name == "" || branches[f.Name] {
				return fmt.Errorf("steps[%d]: fork needs a new branch name, got %q", i, f.Name)
			}
			if !branches[f.From] {
				return fmt.Errorf("steps[%d]: unknown branch %q", i, f.From)
			}
			branches[f.Name] = true
		case step.Send != nil:
			if err := validateSend(i, step.Send, aliases, branches); err != nil {
				return err
			}
			aliases[step.Send.Alias] = true
		default:
			return fmt.Errorf("steps[%d]: fork or send is required", i)
		}
	}

	for _, a := range s.Withhold {
		if !aliases[a] {
			return fmt.Errorf("withhold: unknown alias %q", a)
		}
	}

	if r := s.Resolve; r != nil {
		if len(r.Tips) == 0 {
			return fmt.Errorf("resolve: tips are required")
		}
		for _, b := range r.Tips {
			if !branches[b] {
				return fmt.Errorf("resolve: unknown branch %q", b)
			}
		}
		for _, a := range r.Timeline {
			if !aliases[a] {
				return fmt.Errorf("resolve: unknown timeline alias %q", a)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], aliases, s.Resolve != nil); err != nil {
			return err
		}
	}
	return nil
}

func validateSend(i int, s *SendStep, aliases, branches map[string]bool) error {
	if s.Alias == "" || aliases[s.Alias] {
		return fmt.Errorf("steps[%d]: send needs a new alias, got %q", i, s.Alias)
	}
	if s.Branch == "" {
		s.Branch = MainBranch
	}
	if !branches[s.Branch] {
		return fmt.Errorf("steps[%d]: unknown branch %q", i, s.Branch)
	}
	if !event.ValidUserID(s.Sender) {
		return fmt.Errorf("steps[%d]: sender must be a user ID, got %q", i, s.Sender)
	}
	if s.Type == "" {
		return fmt.Errorf("steps[%d]: type is required", i)
	}
	for _, ref := range append(append([]string{}, s.Prev...), s.Auth...) {
		if !aliases[ref] {
			return fmt.Errorf("steps[%d]: unknown alias %q", i, ref)
		}
	}
	if s.Redacts != "" && !aliases[s.Redacts] {
		return fmt.Errorf("steps[%d]: unknown redaction target %q", i, s.Redacts)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, aliases map[string]bool, resolves bool) error {
	known := func(alias string) error {
		if !aliases[alias] {
			return fmt.Errorf("assertions[%d]: unknown alias %q", index, alias)
		}
		return nil
	}

	switch a.Type {
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", index)
		}
		return known(a.Alias)
	case AssertState:
		var k event.Key
		if err := k.UnmarshalText([]byte(a.Key)); err != nil {
			return fmt.Errorf("assertions[%d]: key: %w", index, err)
		}
		if a.Alias != "" {
			if err := known(a.Alias); err != nil {
				return err
			}
		}
	case AssertSoftFailed:
		if a.Reason == "" {
			return fmt.Errorf("assertions[%d]: reason is required for soft_failed", index)
		}
		if err := known(a.Alias); err != nil {
			return err
		}
	case AssertSuperseded, AssertTimeline:
		for _, alias := range a.Aliases {
			if err := known(alias); err != nil {
				return err
			}
		}
	case AssertError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error", index)
		}
		for _, alias := range a.Aliases {
			if err := known(alias); err != nil {
				return err
			}
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Type != AssertStatus && !resolves {
		return fmt.Errorf("assertions[%d]: %s needs a resolve step", index, a.Type)
	}
	return nil
}
