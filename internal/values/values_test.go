package values_test

import (
	"testing"
	"time"

	"github.com/tobsdb/tdb/internal/types"
	. "github.com/tobsdb/tdb/internal/values"
	"gotest.tools/assert"
)

func TestCompare(t *testing.T) {
	assert.Equal(t, Compare(1, 2.5), -1)
	assert.Equal(t, Compare(int64(3), 3.0), 0)
	assert.Equal(t, Compare("b", "a"), 1)
	assert.Equal(t, Compare(nil, 0), -1)
	assert.Equal(t, Compare(false, true), -1)
	assert.Equal(t, Compare("1", 1), 1)

	now := time.Now()
	assert.Equal(t, Compare(now, now.Add(time.Second)), -1)
	assert.Equal(t, Compare([]any{1, 2}, []any{1, 2, 3}), -1)
}

func TestEqual(t *testing.T) {
	assert.Assert(t, Equal(1, 1.0))
	assert.Assert(t, Equal(
		map[string]any{"a": []any{1, "x"}, "b": map[string]any{"c": int64(2)}},
		map[string]any{"a": []any{1.0, "x"}, "b": map[string]any{"c": 2}},
	))
	assert.Assert(t, Equal([]string{"a", "b"}, []any{"a", "b"}))
	assert.Assert(t, !Equal([]any{"a", "b"}, []any{"b", "a"}))
	assert.Assert(t, !Equal("1", 1))
}

func TestCoerce(t *testing.T) {
	v, ok := Coerce(types.FieldTypeInt, "12")
	assert.Assert(t, ok)
	assert.Equal(t, v, 12)

	v, ok = Coerce(types.FieldTypeString, 12.0)
	assert.Assert(t, ok)
	assert.Equal(t, v, "12")

	_, ok = Coerce(types.FieldTypeBool, "maybe")
	assert.Assert(t, !ok)

	date := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	v, ok = Coerce(types.FieldTypeDate, date.Format(time.RFC3339))
	assert.Assert(t, ok)
	assert.Equal(t, v, date.UnixMilli())

	v, _ = Coerce(types.FieldTypeDate, date)
	assert.Equal(t, v, date.UnixMilli())
}

func TestLikePrefix(t *testing.T) {
	prefix, ok := LikePrefix("Tit%")
	assert.Assert(t, ok)
	assert.Equal(t, prefix, "Tit")

	for _, pattern := range []string{"%itle", "T%le%", "T_t%", "%", "Title"} {
		_, ok := LikePrefix(pattern)
		assert.Assert(t, !ok, pattern)
	}
}

func TestMatch(t *testing.T) {
	m := NewMatcher(0)

	cases := []struct {
		name    string
		value   any
		comp    Comparator
		operand any
		want    bool
	}{
		{"eq", 5, CompareEqual, 5.0, true},
		{"neq", "a", CompareNotEqual, "b", true},
		{"lt", 2, CompareLess, 3, true},
		{"lt mixed kinds", "2", CompareLess, 3, false},
		{"gte", 3, CompareGreaterEq, 3, true},
		{"in", "b", CompareIn, []any{"a", "b"}, true},
		{"not in", "c", CompareNotIn, []any{"a", "b"}, true},
		{"between low edge", 10, CompareBetween, []any{10, 20}, true},
		{"between high edge", 20, CompareBetween, []any{10, 20}, true},
		{"between outside", 21, CompareBetween, []any{10, 20}, false},
		{"not between", 21, CompareNotBetween, []any{10, 20}, true},
		{"like prefix", "Title 12", CompareLike, "Title 1%", true},
		{"like single", "cat", CompareLike, "c_t", true},
		{"like is case sensitive", "CAT", CompareLike, "c_t", false},
		{"like escapes regex", "a.b", CompareLike, "a.b", true},
		{"like regex chars literal", "axb", CompareLike, "a.b", false},
		{"not like", "dog", CompareNotLike, "c%", true},
		{"regexp", "abc123", CompareRegexp, `^[a-z]+\d+$`, true},
		{"not regexp", "abc", CompareNotRegexp, `\d`, true},
		{"null eq", nil, CompareEqual, "NULL", true},
		{"null eq present", 1, CompareEqual, "NULL", false},
		{"not null eq", 1, CompareEqual, "NOT NULL", true},
		{"null neq", 1, CompareNotEqual, "NULL", true},
		{"includes", []any{"a", "b"}, CompareIncludes, "b", true},
		{"includes non list", "ab", CompareIncludes, "b", false},
		{"not includes", []any{"a"}, CompareNotIncludes, "b", true},
		{"includes like", []any{"apple", "pear"}, CompareIncludesLike, "pe%", true},
		{"intersect", []any{1, 2, 3}, CompareIntersect, []any{3, 4}, true},
		{"intersect none", []any{1, 2}, CompareIntersect, []any{3, 4}, false},
		{"not intersect", []any{1, 2}, CompareNotIntersect, []any{3, 4}, true},
		{"intersect all", []any{1, 2, 3}, CompareIntersectAll, []any{1, 3}, true},
		{"intersect all missing", []any{1, 2}, CompareIntersectAll, []any{1, 3}, false},
		{"typed slices", []string{"x", "y"}, CompareIncludes, "y", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, m.Match(c.value, c.comp, c.operand), c.want)
		})
	}
}

func TestMatcherCachesPatterns(t *testing.T) {
	m := NewMatcher(4)
	a := m.Like("abc%")
	b := m.Like("abc%")
	assert.Assert(t, a == b)

	_, err := m.Regexp("(")
	assert.ErrorContains(t, err, "missing closing )")
}
