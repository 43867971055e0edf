package values

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Comparator string

const (
	CompareEqual      Comparator = "="
	CompareNotEqual   Comparator = "!="
	CompareLess       Comparator = "<"
	CompareLessEq     Comparator = "<="
	CompareGreater    Comparator = ">"
	CompareGreaterEq  Comparator = ">="
	CompareIn         Comparator = "IN"
	CompareNotIn      Comparator = "NOT IN"
	CompareBetween    Comparator = "BETWEEN"
	CompareNotBetween Comparator = "NOT BETWEEN"
	CompareLike       Comparator = "LIKE"
	CompareNotLike    Comparator = "NOT LIKE"
	CompareRegexp     Comparator = "REGEXP"
	CompareNotRegexp  Comparator = "NOT REGEXP"

	// array comparators, the row value is a list
	CompareIncludes        Comparator = "INCLUDES"
	CompareNotIncludes     Comparator = "NOT INCLUDES"
	CompareIncludesLike    Comparator = "INCLUDES LIKE"
	CompareNotIncludesLike Comparator = "NOT INCLUDES LIKE"
	CompareIntersect       Comparator = "INTERSECT"
	CompareNotIntersect    Comparator = "NOT INTERSECT"
	CompareIntersectAll    Comparator = "INTERSECT ALL"
)

var VALID_COMPARATORS = []Comparator{
	CompareEqual, CompareNotEqual, CompareLess, CompareLessEq, CompareGreater,
	CompareGreaterEq, CompareIn, CompareNotIn, CompareBetween, CompareNotBetween,
	CompareLike, CompareNotLike, CompareRegexp, CompareNotRegexp,
	CompareIncludes, CompareNotIncludes, CompareIncludesLike, CompareNotIncludesLike,
	CompareIntersect, CompareNotIntersect, CompareIntersectAll,
}

func (c Comparator) IsValid() bool { return slices.Contains(VALID_COMPARATORS, c) }

// operand strings that turn = / != / LIKE / NOT LIKE into presence checks
const (
	OperandNull    = "NULL"
	OperandNotNull = "NOT NULL"
)

// IsNullCheck reports whether operand is one of the NULL markers.
func IsNullCheck(operand any) bool {
	s, ok := operand.(string)
	return ok && (s == OperandNull || s == OperandNotNull)
}

const DefaultCacheSize = 512

// Matcher evaluates comparators. It owns the compiled pattern caches so
// LIKE and REGEXP operands are compiled once per distinct pattern.
type Matcher struct {
	like  *lru.Cache[string, *regexp.Regexp]
	regex *lru.Cache[string, *regexp.Regexp]
}

func NewMatcher(size int) *Matcher {
	if size <= 0 {
		size = DefaultCacheSize
	}
	like, _ := lru.New[string, *regexp.Regexp](size)
	regex, _ := lru.New[string, *regexp.Regexp](size)
	return &Matcher{like: like, regex: regex}
}

// Like returns the compiled form of a LIKE pattern: `%` matches any run of
// characters, `_` matches exactly one.
func (m *Matcher) Like(pattern string) *regexp.Regexp {
	if re, ok := m.like.Get(pattern); ok {
		return re
	}
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re := regexp.MustCompile(b.String())
	m.like.Add(pattern, re)
	return re
}

func (m *Matcher) Regexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := m.regex.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.regex.Add(pattern, re)
	return re, nil
}

// LikePrefix returns the literal prefix of a pattern whose only wildcard is
// a single trailing `%`. Such patterns can be answered by a range scan.
func LikePrefix(pattern string) (string, bool) {
	prefix, found := strings.CutSuffix(pattern, "%")
	if !found || len(prefix) == 0 || strings.ContainsAny(prefix, "%_") {
		return "", false
	}
	return prefix, true
}

// PrefixUpperBound is the smallest string greater than every string with
// the given prefix, for use as an inclusive range bound.
func PrefixUpperBound(prefix string) string {
	return prefix + "\U0010FFFF"
}

func (m *Matcher) likeMatch(value any, pattern any) bool {
	if value == nil {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		p = fmt.Sprint(pattern)
	}
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	return m.Like(p).MatchString(s)
}

func containsEqual(list []any, v any) bool {
	return slices.ContainsFunc(list, func(e any) bool { return Equal(e, v) })
}

func between(value, operand any) bool {
	bounds, ok := ToSlice(operand)
	if !ok || len(bounds) != 2 {
		return false
	}
	if !Comparable(value, bounds[0]) || !Comparable(value, bounds[1]) {
		return false
	}
	return Compare(value, bounds[0]) >= 0 && Compare(value, bounds[1]) <= 0
}

// Match evaluates `value comp operand`.
func (m *Matcher) Match(value any, comp Comparator, operand any) bool {
	if s, ok := operand.(string); ok && IsNullCheck(s) {
		is_null := value == nil
		is_equal := comp == CompareEqual || comp == CompareLike
		is_not := comp == CompareNotEqual || comp == CompareNotLike
		if is_equal || is_not {
			want_null := s == OperandNull
			if is_not {
				want_null = !want_null
			}
			return is_null == want_null
		}
	}

	switch comp {
	case CompareEqual:
		return Equal(value, operand)
	case CompareNotEqual:
		return !Equal(value, operand)
	case CompareLess, CompareLessEq, CompareGreater, CompareGreaterEq:
		if !Comparable(value, operand) {
			return false
		}
		c := Compare(value, operand)
		switch comp {
		case CompareLess:
			return c < 0
		case CompareLessEq:
			return c <= 0
		case CompareGreater:
			return c > 0
		}
		return c >= 0
	case CompareIn, CompareNotIn:
		list, ok := ToSlice(operand)
		if !ok {
			return false
		}
		return containsEqual(list, value) == (comp == CompareIn)
	case CompareBetween:
		return between(value, operand)
	case CompareNotBetween:
		return !between(value, operand)
	case CompareLike:
		return m.likeMatch(value, operand)
	case CompareNotLike:
		return !m.likeMatch(value, operand)
	case CompareRegexp, CompareNotRegexp:
		if value == nil {
			return comp == CompareNotRegexp
		}
		re, err := m.Regexp(fmt.Sprint(operand))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(value)) == (comp == CompareRegexp)
	}

	list, ok := ToSlice(value)
	if !ok {
		list = nil
	}
	switch comp {
	case CompareIncludes:
		return containsEqual(list, operand)
	case CompareNotIncludes:
		return !containsEqual(list, operand)
	case CompareIncludesLike, CompareNotIncludesLike:
		found := slices.ContainsFunc(list, func(e any) bool { return m.likeMatch(e, operand) })
		return found == (comp == CompareIncludesLike)
	case CompareIntersect, CompareNotIntersect:
		want, _ := ToSlice(operand)
		found := slices.ContainsFunc(want, func(w any) bool { return containsEqual(list, w) })
		return found == (comp == CompareIntersect)
	case CompareIntersectAll:
		want, _ := ToSlice(operand)
		for _, w := range want {
			if !containsEqual(list, w) {
				return false
			}
		}
		return len(want) > 0
	}
	return false
}
