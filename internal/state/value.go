package state

import "math"

// The land state exposes a canonical JSON-like value view used for diffing
// and snapshotting: nil | bool | int64 | float64 | string | []interface{} |
// map[string]interface{}. Normalize folds every Go value a rule body or codec
// may produce into that form so that a value survives a JSON or msgpack round
// trip without changing identity under Equal.

// Normalize returns the canonical form of v.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string, int64:
		return t
	case float64:
		return normalizeFloat(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return normalizeFloat(float64(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[interface{}]interface{}:
		// msgpack decodes maps with interface keys
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			if ks, ok := k.(string); ok {
				out[ks] = Normalize(e)
			}
		}
		return out
	default:
		return t
	}
}

// Equal reports whether two canonical values are structurally equal. Integers
// and floats compare by numeric value so a JSON round trip (which widens to
// float64) does not register as a change.
func Equal(a, b interface{}) bool {
	a, b = Normalize(a), Normalize(b)
	switch at := a.(type) {
	case nil:
		return b == nil
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case int64:
		return numEqual(float64(at), b)
	case float64:
		return numEqual(at, b)
	case []interface{}:
		bt, ok := b.([]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !Equal(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bt, ok := b.(map[string]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// normalizeFloat folds integral floats back to int64 so that a JSON round
// trip (which widens every number to float64) is identity under Equal and
// under plain ==. Fractional and out-of-safe-range values stay float64.
func normalizeFloat(f float64) interface{} {
	const maxSafe = float64(1 << 53)
	if f == math.Trunc(f) && math.Abs(f) < maxSafe {
		return int64(f)
	}
	return f
}

func numEqual(a float64, b interface{}) bool {
	switch bt := b.(type) {
	case int64:
		return a == float64(bt)
	case float64:
		return a == bt
	default:
		return false
	}
}

// Clone returns a deep copy of a canonical value.
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	default:
		return t
	}
}
