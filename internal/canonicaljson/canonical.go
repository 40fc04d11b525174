package canonicaljson

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrFloat is returned for any non-integral number.
	ErrFloat = errors.New("floats are forbidden in canonical JSON")

	// ErrIntRange is returned for integers outside [MinInt, MaxInt].
	ErrIntRange = errors.New("integer out of canonical range")

	// ErrDuplicateKey is returned when an object repeats a key, including
	// keys that only collide after NFC normalization.
	ErrDuplicateKey = errors.New("duplicate object key")

	// ErrInvalidUTF8 is returned for strings that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid UTF-8")

	// ErrUnsupportedType is returned by FromGo for Go types with no JSON form.
	ErrUnsupportedType = errors.New("unsupported type for canonical JSON")
)

// Marshal produces the canonical encoding of v. This is the ONLY
// serialization used for content-addressed identity and signatures.
//
// Differences from encoding/json:
//  1. Object keys sorted by code point, no whitespace
//  2. Strings NFC normalized, only '"', '\\' and control characters escaped
//  3. No HTML escaping, U+2028/U+2029 emitted literally
//  4. Integers limited to the canonical range; floats cannot be represented
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal is like Marshal but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMarshal(v Value) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encode(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		return encodeString(buf, string(val))
	case Int:
		if val > MaxInt || val < MinInt {
			return fmt.Errorf("%w: %d", ErrIntRange, int64(val))
		}
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		return encodeObject(buf, val)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

// encodeObject normalizes keys before sorting so that two spellings of the
// same key cannot produce different orders on different servers.
func encodeObject(buf *bytes.Buffer, obj Object) error {
	normalized := make(map[string]string, len(obj))
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if !utf8.ValidString(k) {
			return fmt.Errorf("key %q: %w", k, ErrInvalidUTF8)
		}
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return fmt.Errorf("key %q: %w", k, ErrDuplicateKey)
		}
		normalized[nk] = k
		keys = append(keys, nk)
	}
	// Byte order of valid UTF-8 equals code point order.
	slices.Sort(keys)

	buf.WriteByte('{')
	for i, nk := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeEscaped(buf, nk)
		buf.WriteByte(':')
		if err := encode(buf, obj[normalized[nk]]); err != nil {
			return fmt.Errorf("value for key %q: %w", nk, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	writeEscaped(buf, norm.NFC.String(s))
	return nil
}

const hexDigits = "0123456789abcdef"

// writeEscaped writes s as a JSON string using the shortest escapes.
func writeEscaped(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c == '\b':
			buf.WriteString(`\b`)
		case c == '\f':
			buf.WriteString(`\f`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}
