package values

import "github.com/tobsdb/tdb/pkg"

// Clone copies maps and lists recursively. Scalars (time.Time included) are
// immutable and shared.
func Clone(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = Clone(e)
		}
		return out
	case pkg.Map[string, any]:
		return pkg.Map[string, any](Clone(map[string]any(v)).(map[string]any))
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Clone(e)
		}
		return out
	case []byte:
		return append([]byte(nil), v...)
	}
	return v
}

// CloneRow is Clone for a top level row.
func CloneRow(row pkg.Map[string, any]) pkg.Map[string, any] {
	if row == nil {
		return nil
	}
	return Clone(row).(pkg.Map[string, any])
}
