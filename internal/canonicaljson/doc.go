// Package canonicaljson implements the canonical JSON encoding that event
// identifiers and signatures are computed over.
//
// Every server must derive byte-identical encodings from the same logical
// content, whatever wire encoding it received. The constraints:
//   - NO float values anywhere; integers limited to +/-(2^53-1)
//   - Object keys sorted by Unicode code point, no whitespace
//   - Strings NFC normalized
//   - Duplicate keys rejected on decode
//
// This package imports nothing internal.
package canonicaljson
