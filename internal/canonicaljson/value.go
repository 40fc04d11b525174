package canonicaljson

import (
	"fmt"
	"math"
	"slices"
)

// Value is a sealed interface over the value kinds canonical JSON can carry.
// Only Null, String, Int, Bool, Array and Object implement it. There is no
// float kind: floating point has no unique decimal form.
type Value interface {
	canonicalValue()
}

// Null is the JSON null literal.
type Null struct{}

func (Null) canonicalValue() {}

// String is a JSON string.
type String string

func (String) canonicalValue() {}

// Int is a JSON integer within the canonical range.
type Int int64

func (Int) canonicalValue() {}

// Bool is a JSON boolean.
type Bool bool

func (Bool) canonicalValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) canonicalValue() {}

// Object maps keys to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) canonicalValue() {}

// Canonical integer bounds. Anything outside cannot round-trip through the
// IEEE-754 doubles most JSON implementations use.
const (
	MaxInt = 1<<53 - 1
	MinInt = -(1<<53 - 1)
)

// SortedKeys returns the keys ordered by Unicode code point. For valid UTF-8
// this is plain byte order, which is what Go string comparison gives us.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Has reports whether key is present, including when it maps to null.
func (obj Object) Has(key string) bool {
	_, ok := obj[key]
	return ok
}

// String returns the string at key.
func (obj Object) String(key string) (string, bool) {
	s, ok := obj[key].(String)
	return string(s), ok
}

// Int returns the integer at key.
func (obj Object) Int(key string) (int64, bool) {
	n, ok := obj[key].(Int)
	return int64(n), ok
}

// Bool returns the boolean at key.
func (obj Object) Bool(key string) (bool, bool) {
	b, ok := obj[key].(Bool)
	return bool(b), ok
}

// Object returns the nested object at key.
func (obj Object) Object(key string) (Object, bool) {
	o, ok := obj[key].(Object)
	return o, ok
}

// Array returns the array at key.
func (obj Object) Array(key string) (Array, bool) {
	a, ok := obj[key].(Array)
	return a, ok
}

// Without returns a shallow copy of obj with the given keys removed.
func (obj Object) Without(keys ...string) Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// With returns a shallow copy of obj with key set to v.
func (obj Object) With(key string, v Value) Object {
	out := make(Object, len(obj)+1)
	for k, existing := range obj {
		out[k] = existing
	}
	out[key] = v
	return out
}

// Strings converts an array of strings into a Go slice. It fails on the
// first element that is not a string.
func (arr Array) Strings() ([]string, error) {
	out := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(String)
		if !ok {
			return nil, fmt.Errorf("array[%d]: expected string, got %T", i, v)
		}
		out[i] = string(s)
	}
	return out, nil
}

// StringArray builds an Array of Strings.
func StringArray(ss ...string) Array {
	arr := make(Array, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return arr
}

// Equal reports deep equality of two values.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromGo converts plain Go data (as produced by YAML or map literals) into a
// Value. Floats are rejected unless they hold an exact integer, which YAML
// decoders occasionally produce for numbers like 1e2.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return checkedInt(int64(val))
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return checkedInt(val)
	case uint:
		if uint64(val) > MaxInt {
			return nil, fmt.Errorf("%w: %d", ErrIntRange, val)
		}
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		if val > MaxInt {
			return nil, fmt.Errorf("%w: %d", ErrIntRange, val)
		}
		return Int(val), nil
	case float32:
		return FromGo(float64(val))
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("%w: %v", ErrFloat, val)
		}
		return checkedInt(int64(val))
	case []string:
		return StringArray(val...), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			cv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			cv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = cv
		}
		return obj, nil
	case map[string]string:
		obj := make(Object, len(val))
		for k, s := range val {
			obj[k] = String(s)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// MustFromGo is like FromGo but panics on error. Use only in tests or with
// literals known to be valid.
func MustFromGo(v any) Value {
	cv, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return cv
}

// MustObject is MustFromGo for map literals.
func MustObject(m map[string]any) Object {
	return MustFromGo(m).(Object)
}

func checkedInt(n int64) (Value, error) {
	if n > MaxInt || n < MinInt {
		return nil, fmt.Errorf("%w: %d", ErrIntRange, n)
	}
	return Int(n), nil
}
