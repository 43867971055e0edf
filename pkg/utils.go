package pkg

import "fmt"

func Filter[T any](items []T, predicate func(T) bool) []T {
	filtered := []T{}
	for _, item := range items {
		if predicate(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// Converts a value suspected to be some kind of number to an int.
// json decoding gives float64, gob and sqlite give the sized ints.
func NumToInt(num any) int {
	switch num := num.(type) {
	case int:
		return num
	case int8:
		return int(num)
	case int16:
		return int(num)
	case int32:
		return int(num)
	case int64:
		return int(num)
	case uint:
		return int(num)
	case uint8:
		return int(num)
	case uint16:
		return int(num)
	case uint32:
		return int(num)
	case uint64:
		return int(num)
	case float32:
		return int(num)
	case float64:
		return int(num)
	}
	return 0
}

// KeyOf renders a scalar as a map key. Lock tables and PK bags use it so
// 1 and 1.0 land on the same key.
func KeyOf(v any) string {
	switch v := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return "s:" + v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("n:%d", int64(v))
		}
		return fmt.Sprintf("n:%v", v)
	case float32:
		return KeyOf(float64(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("n:%d", v)
	case bool:
		return fmt.Sprintf("b:%t", v)
	}
	return fmt.Sprintf("%T:%v", v, v)
}
