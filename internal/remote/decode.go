package remote

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// encodeValues przygotowuje wartości pod enkoder XML-RPC:
// decimal -> float, nil -> false (pusta wartość po stronie serwera).
func encodeValues(v Values) map[string]any {
	out := make(map[string]any, len(v))
	for k, x := range v {
		out[k] = encodeValue(x)
	}
	return out
}

func encodeValue(x any) any {
	switch t := x.(type) {
	case nil:
		return false
	case decimal.Decimal:
		return t.InexactFloat64()
	case *decimal.Decimal:
		if t == nil {
			return false
		}
		return t.InexactFloat64()
	case int:
		return int64(t)
	case uint:
		return int64(t)
	case []int64:
		return int64sToAny(t)
	case Values:
		return encodeValues(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = encodeValue(e)
		}
		return out
	}
	return x
}

func int64sToAny(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func asInt64s(v any) []int64 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(arr))
	for _, x := range arr {
		if n, ok := asInt64(x); ok {
			out = append(out, n)
		}
	}
	return out
}

// asString: pola puste przychodzą jako false.
func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// many2oneID wyciąga id z [id, "nazwa"] albo false.
func many2oneID(v any) int64 {
	switch t := v.(type) {
	case []any:
		if len(t) > 0 {
			n, _ := asInt64(t[0])
			return n
		}
	default:
		n, _ := asInt64(t)
		return n
	}
	return 0
}

// IsBlank mówi, czy wartość odczytana z instancji jest pusta (false, nil, "", 0).
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case int64:
		return t == 0
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	}
	return false
}
