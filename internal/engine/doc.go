// Package engine admits federated events into rooms and resolves room
// state across many rooms, persisting everything in the store.
//
// # Event lifecycle
//
// Process moves an event through received, verified and then authorized or
// soft_failed. Events with a bad signature end in signature_invalid. An
// unknown signing key leaves the event received; missing auth events park
// it in missing_dependency. Both are retryable: processing the event again
// once keys or events arrive continues from the recorded status. Terminal
// statuses are stored and returned as-is on later calls with the same copy.
// The event ID does not cover signatures, so an unverified stored copy is
// replaced by a later copy of the same event whose signatures verify.
//
// # Scheduling
//
// Work is serialized per room in submission order and runs in parallel
// across rooms. ResolveAll bounds parallelism with an errgroup limit. The
// resolution cache is the only state shared between rooms.
//
// # Logical time
//
// Stored events and recorded runs are stamped from a monotonic Clock,
// resumed from the store on start. Wall-clock time is never used for
// ordering.
//
// # Replay
//
// Every resolution is recorded with hashes of its request and resulting
// state. Replay re-resolves a recorded request and compares state hashes;
// since resolution is deterministic, a match is expected.
package engine
