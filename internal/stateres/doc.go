// Package stateres resolves the state of a room from the states of its
// forward extremities.
//
// Resolution runs in stages:
//
//  1. Partition: slots every tip agrees on are unconflicted; the rest form
//     the conflict set, with every distinct candidate.
//  2. Expand: the auth chains of every tip's state are walked. The full
//     conflicted set is the conflicting events plus every auth-chain event
//     some tip has and another lacks. Missing events are collected across
//     the whole walk and reported together.
//  3. Order: the full conflicted set is sorted so no event precedes its own
//     auth ancestors; among ready events the one whose sender held the most
//     power when authoring it goes first, then the earliest timestamp, then
//     the smallest identifier.
//  4. Iterate: starting from the unconflicted state, each event is
//     re-authorized against the state built so far. Rejected events are
//     soft-failed. An accepted event takes its slot if the slot is empty or
//     held by one of its own auth ancestors; otherwise it is superseded.
//  5. Timeline: requested timeline events are sorted along the mainline of
//     the resolved power-levels event.
//
// The resolver never mutates events and never writes to the EventSource.
// Cycles in prev_events or auth_events are fatal and reported as
// CYCLE_DETECTED; they are never broken.
package stateres
