package planner_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tobsdb/tdb/internal/builder"
	. "github.com/tobsdb/tdb/internal/planner"
	"gotest.tools/assert"
)

const test_schema = `
$TABLE users {
    id Int key(primary) default(autoincrement)
    email String unique(true)
    name String optional(true)
    age Int optional(true) index(true)
    joined Date optional(true) index(true)
    tags Vector vector(String) optional(true) index(true)
    meta Object optional(true)
}
`

func setup(t *testing.T) (*Planner, *builder.Table) {
	s, err := builder.ParseSchema(test_schema)
	assert.NilError(t, err)
	return NewWith(builder.NewFunctions(), builder.NewCaches(0)), s[0]
}

func TestClassify(t *testing.T) {
	p, users := setup(t)

	cases := []struct {
		name  string
		where any
		typ   WhereType
		fast  int
	}{
		{"empty", nil, WhereNone, 0},
		{"empty list", []any{}, WhereNone, 0},
		{"pk equality", []any{"id", "=", 1}, WhereFast, 1},
		{"two element leaf", []any{"email", "a@b.c"}, WhereFast, 1},
		{"index and pk", []any{[]any{"email", "=", "a"}, "AND", []any{"id", "BETWEEN", []any{1, 5}}}, WhereFast, 2},
		{"prefix then residual", []any{[]any{"age", "IN", []any{1, 2}}, "AND", []any{"name", "=", "x"}}, WhereMedium, 1},
		{"residual stops prefix", []any{[]any{"name", "=", "x"}, "AND", []any{"age", "=", 1}}, WhereSlow, 0},
		{"any OR is slow", []any{[]any{"id", "=", 1}, "OR", []any{"id", "=", 2}}, WhereSlow, 0},
		{"range comparators are slow", []any{"age", ">", 3}, WhereSlow, 0},
		{"prefix like", []any{"email", "LIKE", "ab%"}, WhereFast, 1},
		{"infix like", []any{"email", "LIKE", "%ab%"}, WhereSlow, 0},
		{"like on int index", []any{"age", "LIKE", "1%"}, WhereSlow, 0},
		{"null operand", []any{"email", "=", "NULL"}, WhereSlow, 0},
		{"array includes", []any{"tags", "INCLUDES", "go"}, WhereFast, 1},
		{"array intersect", []any{"tags", "INTERSECT", []any{"go", "db"}}, WhereFast, 1},
		{"array includes like", []any{"tags", "INCLUDES LIKE", "g%"}, WhereFast, 1},
		{"array equality", []any{"tags", "=", []any{"go"}}, WhereSlow, 0},
		{"scalar includes", []any{"age", "INCLUDES", 1}, WhereSlow, 0},
		{"group", []any{[]any{[]any{"id", "=", 1}, "OR", []any{"id", "=", 2}}}, WhereSlow, 0},
		{"function leaf", []any{"LOWER(email)", "=", "a"}, WhereSlow, 0},
		{"go predicate", Predicate(func(builder.Row, int) bool { return true }), WhereFn, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w, err := p.ParseWhere(users, c.where, false)
			assert.NilError(t, err)
			assert.Equal(t, w.Type, c.typ)
			assert.Equal(t, len(w.Fast), c.fast)
			assert.Equal(t, len(w.IndexesUsed), c.fast)
		})
	}
}

func TestResidualKeepsConnector(t *testing.T) {
	p, users := setup(t)
	w, err := p.ParseWhere(users, []any{
		[]any{"email", "=", "a"}, "AND", []any{"name", "=", "x"}, "AND", []any{"age", "=", 2},
	}, false)
	assert.NilError(t, err)
	assert.Equal(t, w.Type, WhereMedium)
	assert.Assert(t, w.Fast[0].Index != nil)
	assert.Equal(t, w.Fast[0].Index.ID, "email")
	assert.Equal(t, len(w.Slow), 2)
	assert.Equal(t, w.Slow[0].Conn, ConnAnd)
	assert.Equal(t, w.Slow[0].Node.PathStr, "name")

	w, err = p.ParseWhere(users, []any{"id", "=", "7"}, false)
	assert.NilError(t, err)
	assert.Assert(t, w.Fast[0].IsPK)
	assert.Equal(t, w.Fast[0].Value, 7)
}

func TestIgnoreIndexes(t *testing.T) {
	p, users := setup(t)
	w, err := p.ParseWhere(users, []any{"id", "=", 1}, true)
	assert.NilError(t, err)
	assert.Equal(t, w.Type, WhereSlow)
	assert.Equal(t, len(w.Slow), 1)
}

func TestMalformed(t *testing.T) {
	p, users := setup(t)
	cases := map[string]any{
		"not a list":        42,
		"dangling conn":     []any{[]any{"id", "=", 1}, "AND"},
		"bad connector":     []any{[]any{"id", "=", 1}, "XOR", []any{"id", "=", 2}},
		"bad comparator":    []any{"id", "~", 1},
		"leaf too long":     []any{"id", "=", 1, 2},
		"in needs list":     []any{"id", "IN", 1},
		"between two items": []any{"id", "BETWEEN", []any{1}},
		"aggregate":         []any{"COUNT(id)", ">", 1},
	}
	for name, where := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.ParseWhere(users, where, false)
			assert.Assert(t, errors.Is(err, builder.ErrMalformedClause), "%v", err)
		})
	}

	_, err := p.ParseWhere(users, []any{"NOPE(email)", "=", 1}, false)
	assert.Assert(t, errors.Is(err, builder.ErrUnknownFunction))
}

func TestEvaluate(t *testing.T) {
	p, users := setup(t)
	row := builder.Row{
		"id": 1, "email": "Ann@x.io", "name": "ann", "age": 30,
		"joined": time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		"tags":   []any{"go", "db"},
		"meta":   map[string]any{"score": 5, "list": []any{1, 2}},
	}

	cases := []struct {
		name  string
		where any
		want  bool
	}{
		{"eq", []any{"name", "ann"}, true},
		{"neq", []any{"name", "!=", "ann"}, false},
		{"nested path", []any{"meta.score", ">=", 5}, true},
		{"bracket path", []any{"meta.list[1]", "=", 2}, true},
		{"and", []any{[]any{"age", ">", 20}, "AND", []any{"name", "=", "bob"}}, false},
		{"or", []any{[]any{"age", ">", 40}, "OR", []any{"name", "=", "ann"}}, true},
		{"and binds tighter", []any{
			[]any{"name", "=", "bob"}, "AND", []any{"age", "=", 30}, "OR", []any{"id", "=", 1},
		}, true},
		{"and after or", []any{
			[]any{"name", "=", "ann"}, "OR", []any{"id", "=", 9}, "AND", []any{"age", "=", 1},
		}, true},
		{"group", []any{[]any{"age", "=", 30}, "AND", []any{[]any{"id", "=", 5}, "OR", []any{"id", "=", 1}}}, true},
		{"null check", []any{"email", "=", "NOT NULL"}, true},
		{"missing is null", []any{"nope", "=", "NULL"}, true},
		{"like is case sensitive", []any{"email", "LIKE", "ann%"}, false},
		{"function", []any{"LOWER(email)", "LIKE", "ann%"}, true},
		{"function args", []any{"COALESCE(nope, 'z')", "=", "z"}, true},
		{"date compares as time", []any{"joined", ">", "2024-01-01T00:00:00Z"}, true},
		{"date between", []any{"joined", "BETWEEN", []any{"2024-01-02", "2024-01-03"}}, true},
		{"includes", []any{"tags", "INCLUDES", "db"}, true},
		{"intersect all", []any{"tags", "INTERSECT ALL", []any{"db", "rust"}}, false},
		{"operand coerced", []any{"age", "=", "30"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w, err := p.ParseWhere(users, c.where, true)
			assert.NilError(t, err)
			got, err := p.Evaluate(w, row, 0)
			assert.NilError(t, err)
			assert.Equal(t, got, c.want)
		})
	}
}

func TestEvaluateFastSkipsIndexedConditions(t *testing.T) {
	p, users := setup(t)
	w, err := p.ParseWhere(users, []any{[]any{"id", "=", 1}, "AND", []any{"name", "=", "ann"}}, false)
	assert.NilError(t, err)

	row := builder.Row{"id": 2, "name": "ann"}
	ok, err := p.Evaluate(w, row, 0)
	assert.NilError(t, err)
	assert.Assert(t, ok, "residual only")

	ok, err = p.EvaluateAll(w, row, 0)
	assert.NilError(t, err)
	assert.Assert(t, !ok)
}

func TestCustomFunction(t *testing.T) {
	p, users := setup(t)
	funcs := builder.NewFunctions()
	funcs.Register("initial", func(args ...any) (any, error) {
		s, _ := args[0].(string)
		if len(s) == 0 {
			return "", nil
		}
		return s[:1], nil
	})
	p = NewWith(funcs, builder.NewCaches(0))
	w, err := p.ParseWhere(users, []any{"initial(name)", "=", "a"}, false)
	assert.NilError(t, err)
	ok, err := p.Evaluate(w, builder.Row{"name": "ann"}, 0)
	assert.NilError(t, err)
	assert.Assert(t, ok)
}

func TestHaving(t *testing.T) {
	p, _ := setup(t)
	w, err := p.ParseHaving([]any{"COUNT(*)", ">", 1})
	assert.NilError(t, err)
	ok, err := p.Evaluate(w, builder.Row{"COUNT(*)": 2}, 0)
	assert.NilError(t, err)
	assert.Assert(t, ok)
}

func TestWhereCache(t *testing.T) {
	p, users := setup(t)
	a, err := p.ParseWhereCached(users, []any{"id", "=", 1}, false, "q1")
	assert.NilError(t, err)
	b, err := p.ParseWhereCached(users, []any{"id", "=", 2}, false, "q1")
	assert.NilError(t, err)
	assert.Assert(t, a == b)

	c, err := p.ParseWhereCached(users, []any{"id", "=", 1}, true, "q1")
	assert.NilError(t, err)
	assert.Equal(t, c.Type, WhereSlow)
}

func TestParseSort(t *testing.T) {
	p, users := setup(t)

	s, err := p.ParseSort(users, "id DESC", true)
	assert.NilError(t, err)
	assert.Equal(t, s.Index, PkIndex)
	assert.Assert(t, s.Reverse)

	s, err = p.ParseSort(users, []any{"age"}, true)
	assert.NilError(t, err)
	assert.Equal(t, s.Index, "age")
	assert.Assert(t, !s.Reverse)

	s, err = p.ParseSort(users, []any{"age", "name desc"}, true)
	assert.NilError(t, err)
	assert.Equal(t, s.Index, "")
	assert.Assert(t, s.Keys[1].Desc)

	s, err = p.ParseSort(users, "tags", true)
	assert.NilError(t, err)
	assert.Equal(t, s.Index, "", "array indexes cannot stream an order")

	s, err = p.ParseSort(users, "age", false)
	assert.NilError(t, err)
	assert.Equal(t, s.Index, "")

	_, err = p.ParseSort(users, []any{1}, true)
	assert.Assert(t, errors.Is(err, builder.ErrMalformedClause))
}

func TestSortRows(t *testing.T) {
	p, users := setup(t)
	s, err := p.ParseSort(users, []any{"age DESC", "name"}, false)
	assert.NilError(t, err)

	rows := []builder.Row{
		{"name": "c", "age": 1},
		{"name": "b", "age": 2},
		{"name": "a", "age": 2},
		{"name": "d"},
	}
	p.SortRows(s, rows)
	names := []string{}
	for _, r := range rows {
		names = append(names, r["name"].(string))
	}
	assert.DeepEqual(t, names, []string{"a", "b", "c", "d"})
}
