package rules

import (
	"encoding/json"
	"math/big"
	"reflect"
)

// Truthy reports whether v counts as true: nil, false, zero numbers and
// empty strings are false, everything else is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if isNumeric(v) {
		n, ok := ToBigInt(v)
		if ok {
			return n.Sign() != 0
		}
		// Non-integral floats are non-zero.
		return true
	}
	return true
}

// ValuesEqual compares two decoded values. Numbers compare by value across
// representations; maps and slices compare element-wise.
func ValuesEqual(a, b any) bool {
	if isNumeric(a) || isNumeric(b) {
		x, okA := ToBigInt(a)
		y, okB := ToBigInt(b)
		if okA && okB {
			return x.Cmp(y) == 0
		}
	}

	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !ValuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, *big.Int, big.Int, Amount, *Amount, json.Number:
		return true
	}
	return false
}
