// Package store provides SQLite-backed storage for room events, named state
// snapshots and resolution runs.
//
// The store holds:
//   - Events: the canonical JSON of every event seen, with its lifecycle
//     status and the logical sequence number it was received at
//   - Snapshots: named state maps, usually one per forward extremity
//   - Runs: each resolution request with its result, for replay
//
// Events are immutable once written; a second write of the same identifier
// is ignored. All listings are ordered by seq, then identifier, so output is
// identical across runs.
//
// *Store implements stateres.EventSource. Lookups of unknown events wrap
// stateres.ErrNotFound so the resolver can report them as missing
// dependencies.
package store
