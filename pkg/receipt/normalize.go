// Package receipt implements the append-only tool call receipt log, payload
// normalization, and the request/response hashing recorded on receipts.
package receipt

import (
	"fmt"
	"reflect"
)

// maxNormalizeDepth bounds recursion so unexpected cyclic values degrade to
// strings instead of overflowing the stack.
const maxNormalizeDepth = 64

// Normalize converts an arbitrary payload into a JSON-safe value:
// primitives pass through, mappings recurse with string keys, sequences
// recurse, byte slices render as "<bytes len=N>", everything else is
// stringified.
func Normalize(v any) any {
	return normalize(v, 0)
}

func normalize(v any, depth int) any {
	if v == nil {
		return nil
	}
	if depth >= maxNormalizeDepth {
		return fmt.Sprintf("%v", v)
	}

	switch t := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case []byte:
		return fmt.Sprintf("<bytes len=%d>", len(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val, depth+1)
		}
		return out
	}

	// Named map/slice types and non-string key maps.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			out[key] = normalize(iter.Value().Interface(), depth+1)
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("<bytes len=%d>", rv.Len())
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalize(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface(), depth+1)
	}

	return fmt.Sprintf("%v", v)
}
