// Package jsonval canonicalizes arbitrary Go values into JSON-compatible
// trees. The persistence layer stores answers, history values, and form
// payloads through this single serializer so that what is written to the
// database is always comparable with what is read back.
package jsonval

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
)

// maxSafeInteger is the largest integer exactly representable as a float64.
// Integers beyond it are serialized as decimal strings to survive a JSON
// round trip unchanged.
const maxSafeInteger = 1<<53 - 1

// Serialize canonicalizes v into a JSON-compatible tree:
//
//   - nil stays nil
//   - bool and string pass through
//   - numbers become float64; integers outside the float64-safe range and
//     *big.Int become decimal strings
//   - slices and arrays recurse
//   - maps with string keys and structs recurse over their fields
//   - anything else (func, chan, unsupported keys) becomes nil
//
// Serialize is idempotent: Serialize(Serialize(v)) equals Serialize(v).
func Serialize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string:
		return t
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return serializeInt64(int64(t))
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return serializeInt64(t)
	case uint:
		return serializeUint64(uint64(t))
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return serializeUint64(t)
	case *big.Int:
		if t == nil {
			return nil
		}
		return t.String()
	case big.Int:
		return t.String()
	case json.Number:
		return serializeNumber(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Serialize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Serialize(e)
		}
		return out
	}
	return serializeReflect(v)
}

func serializeInt64(n int64) any {
	if n > maxSafeInteger || n < -maxSafeInteger {
		return big.NewInt(n).String()
	}
	return float64(n)
}

func serializeUint64(n uint64) any {
	if n > maxSafeInteger {
		return new(big.Int).SetUint64(n).String()
	}
	return float64(n)
}

func serializeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return serializeInt64(i)
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// serializeReflect handles the long tail: pointers, typed slices and maps,
// and structs. Structs round-trip through encoding/json so their exported
// fields become a plain string-keyed map.
func serializeReflect(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Serialize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Serialize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Serialize(iter.Value().Interface())
		}
		return out
	case reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var tree any
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil
		}
		return Serialize(tree)
	}
	return nil
}

// SerializeMap canonicalizes every value of m, returning a fresh map.
// A nil map serializes to an empty one so persisted answers are never null.
func SerializeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Serialize(v)
	}
	return out
}

// DeepEqual compares two values by their canonical trees.
func DeepEqual(a, b any) bool {
	return reflect.DeepEqual(Serialize(a), Serialize(b))
}

// IsFloatSafe reports whether f holds an integer exactly representable in
// the safe range. Used by tests and the pg store to sanity-check payloads.
func IsFloatSafe(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger
}
