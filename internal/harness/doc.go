// Package harness runs room scenarios against the engine and checks the
// outcome.
//
// A scenario builds a room step by step, hands its events to a fresh
// engine and optionally resolves the state of one or more branches.
// Events are named by alias; IDs never appear in a scenario or its golden
// file.
//
// # Scenario Format
//
//	name: topic_race
//	description: "Of two equal-power topic changes the earlier one wins"
//	creator: "@alice:a.example"
//	steps:
//	  - fork: { name: b, from: main }
//	  - send:
//	      alias: topic_a
//	      sender: "@alice:a.example"
//	      type: m.room.topic
//	      state_key: ""
//	      content: { topic: "A" }
//	  - send:
//	      alias: topic_b
//	      branch: b
//	      sender: "@alice:a.example"
//	      type: m.room.topic
//	      state_key: ""
//	      content: { topic: "B" }
//	resolve:
//	  tips: [main, b]
//	assertions:
//	  - type: state
//	    key: "m.room.topic|"
//	    alias: topic_a
//	  - type: superseded
//	    aliases: [topic_b]
//
// The create event and the creator's join are implicit, as aliases
// "create" and "creator_join" on branch "main". Unset prev and auth
// references are filled in from the branch, and timestamps count up from
// 1001.
//
// # Assertion Types
//
//   - status: an event's lifecycle status and, optionally, its reason
//   - state: a slot of the resolved state holds an alias, or is absent
//   - soft_failed: the resolution rejected an alias with a reason
//   - superseded: the exact list of events that lost their slot
//   - timeline: the exact mainline order of the timeline aliases
//   - error: the resolution failed with a code; aliases lists the
//     missing events, sorted
//
// # Golden Files
//
// RunWithGolden compares the canonical JSON of a result against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
