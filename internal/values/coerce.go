package values

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tobsdb/tdb/internal/types"
)

// Timestamp converts a date-like value to the canonical unix millisecond
// timestamp used for date comparisons and date index keys.
func Timestamp(v any) (int64, bool) {
	switch v := v.(type) {
	case time.Time:
		return v.UnixMilli(), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UnixMilli(), true
			}
		}
		return 0, false
	}
	if f, ok := ToFloat(v); ok {
		return int64(f), true
	}
	return 0, false
}

// Coerce casts v to the representation used for keys of type t. The second
// result is false when v cannot be represented.
func Coerce(t types.FieldType, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch t {
	case types.FieldTypeInt:
		if f, ok := ToFloat(v); ok {
			return int(f), true
		}
		if s, ok := v.(string); ok {
			i, err := strconv.ParseInt(s, 10, 0)
			return int(i), err == nil
		}
		return nil, false
	case types.FieldTypeFloat:
		if f, ok := ToFloat(v); ok {
			return f, true
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			return f, err == nil
		}
		return nil, false
	case types.FieldTypeString, types.FieldTypeUUID, types.FieldTypeTimeId:
		switch v := v.(type) {
		case string:
			return v, true
		case []byte:
			return string(v), true
		}
		if f, ok := ToFloat(v); ok && f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10), true
		}
		return fmt.Sprint(v), true
	case types.FieldTypeDate:
		ts, ok := Timestamp(v)
		if !ok {
			return nil, false
		}
		return ts, true
	case types.FieldTypeBool:
		switch v := v.(type) {
		case bool:
			return v, true
		case string:
			b, err := strconv.ParseBool(v)
			return b, err == nil
		}
		return nil, false
	}
	return v, true
}
