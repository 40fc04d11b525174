// Package event defines the immutable, content-addressed room event.
//
// An event's identifier is the SHA-256 of its canonical encoding with the
// signatures, unsigned data and redaction marker removed. Events reference
// each other only by identifier, so the set of known events forms an arena
// keyed by ID with no in-memory links between records.
package event
