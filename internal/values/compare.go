// Package values holds the comparison primitives every other layer of the
// engine evaluates rows with: ordering, deep equality, type coercion and the
// WHERE comparators.
package values

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tobsdb/tdb/pkg"
)

// ordering of value kinds when two values of different kinds are compared
const (
	kindNil = iota
	kindBool
	kindNumber
	kindString
	kindTime
	kindBytes
	kindList
	kindMap
	kindOther
)

func kindOf(v any) int {
	switch v.(type) {
	case nil:
		return kindNil
	case bool:
		return kindBool
	case string:
		return kindString
	case time.Time:
		return kindTime
	case []byte:
		return kindBytes
	case map[string]any, pkg.Map[string, any]:
		return kindMap
	}
	if _, ok := ToFloat(v); ok {
		return kindNumber
	}
	if _, ok := ToSlice(v); ok {
		return kindList
	}
	return kindOther
}

func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// ToSlice converts any slice (other than []byte) into []any.
func ToSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []byte, string, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Comparable reports whether a and b have an ordering between them, i.e.
// both are numbers, both strings, both times or both bools.
func Comparable(a, b any) bool {
	ka, kb := kindOf(a), kindOf(b)
	return ka == kb && ka != kindNil && ka < kindList
}

// Compare orders two values. Values of different kinds order by kind
// (nil < bool < number < string < time < bytes < list < map).
func Compare(a, b any) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}

	switch ka {
	case kindNil:
		return 0
	case kindBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case kindNumber:
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case kindString:
		return strings.Compare(a.(string), b.(string))
	case kindTime:
		return a.(time.Time).Compare(b.(time.Time))
	case kindBytes:
		return bytes.Compare(a.([]byte), b.([]byte))
	case kindList:
		la, _ := ToSlice(a)
		lb, _ := ToSlice(b)
		for i := 0; i < len(la) && i < len(lb); i++ {
			if c := Compare(la[i], lb[i]); c != 0 {
				return c
			}
		}
		return Compare(len(la), len(lb))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Normalize rewrites numbers as float64 and named map/slice types as their
// plain forms, recursively, so structurally equal values compare equal.
func Normalize(v any) any {
	switch v := v.(type) {
	case nil, bool, string, time.Time, []byte:
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = Normalize(e)
		}
		return out
	case pkg.Map[string, any]:
		return Normalize(map[string]any(v))
	}
	if f, ok := ToFloat(v); ok {
		return f
	}
	if s, ok := ToSlice(v); ok {
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = Normalize(e)
		}
		return out
	}
	return v
}

// Equal is deep equality that ignores numeric representation.
func Equal(a, b any) bool {
	return cmp.Equal(Normalize(a), Normalize(b))
}
