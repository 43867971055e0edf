package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/planner"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
)

// Projection is one entry of a select list. A nil Expr selects the whole
// row.
type Projection struct {
	Expr  *planner.Expr
	Alias string
}

func (p Projection) Key() string {
	if len(p.Alias) > 0 {
		return p.Alias
	}
	return p.Expr.Text
}

type PreparedQuery struct {
	Query *Query
	Table *builder.Table
	Level Level

	Where   *planner.Where
	Having  *planner.Where
	Sort    *planner.Sort
	Select  []Projection
	GroupBy []*planner.Expr

	// rows come out of the adapter already in sort order
	PushOrder bool
	// offset and limit are handed to the adapter
	PushRange bool
	Reverse   bool

	Warnings []string
}

func (pq *PreparedQuery) warn(format string, args ...any) {
	pq.Warnings = append(pq.Warnings, fmt.Sprintf(format, args...))
}

func (pq *PreparedQuery) hasAggregates() bool {
	for _, p := range pq.Select {
		if p.Expr != nil && p.Expr.IsAggregate() {
			return true
		}
	}
	return false
}

func (pq *PreparedQuery) hasFunctions() bool {
	for _, p := range pq.Select {
		if p.Expr != nil && p.Expr.Func != nil {
			return true
		}
	}
	return false
}

func malformedf(format string, args ...any) error {
	return errors.Wrapf(builder.ErrMalformedClause, format, args...)
}

var alias_regex = regexp.MustCompile(`(?i)^(.+?)\s+AS\s+(\S+)$`)

func (x *executor) parseProjection(args any) ([]Projection, error) {
	var entries []any
	switch a := args.(type) {
	case nil:
		return nil, nil
	case string:
		entries = []any{a}
	default:
		l, ok := values.ToSlice(args)
		if !ok {
			return nil, errors.Wrapf(builder.ErrMalformedClause, "select list must be a string or a list, got %T", args)
		}
		entries = l
	}

	out := []Projection{}
	for _, e := range entries {
		raw, ok := e.(string)
		if !ok {
			return nil, errors.Wrapf(builder.ErrMalformedClause, "select entries must be strings, got %T", e)
		}
		raw = strings.TrimSpace(raw)
		if raw == "*" {
			out = append(out, Projection{})
			continue
		}
		alias := ""
		if m := alias_regex.FindStringSubmatch(raw); m != nil {
			raw, alias = strings.TrimSpace(m[1]), m[2]
		}
		expr, err := x.planner.ParseExpr(raw, true)
		if err != nil {
			return nil, err
		}
		out = append(out, Projection{Expr: expr, Alias: alias})
	}
	return out, nil
}

func (x *executor) parseGroupBy(group any) ([]*planner.Expr, error) {
	var entries []any
	switch s := group.(type) {
	case nil:
		return nil, nil
	case string:
		entries = []any{s}
	default:
		l, ok := values.ToSlice(group)
		if !ok {
			return nil, errors.Wrapf(builder.ErrMalformedClause, "group by must be a string or a list, got %T", group)
		}
		entries = l
	}
	out := []*planner.Expr{}
	for _, e := range entries {
		raw, ok := e.(string)
		if !ok {
			return nil, errors.Wrapf(builder.ErrMalformedClause, "group by entries must be strings, got %T", e)
		}
		expr, err := x.planner.ParseExpr(raw, false)
		if err != nil {
			return nil, err
		}
		out = append(out, expr)
	}
	return out, nil
}

// streamsAllRows reports whether walking idx visits every row of t. Rows
// with no value for the column have no entry in the index.
func streamsAllRows(t *builder.Table, idx string) bool {
	if idx == planner.PkIndex {
		return true
	}
	c := t.Column(idx)
	return c != nil && !c.Optional && c.Type != types.FieldTypeString
}

func (x *executor) prepare(t *builder.Table, q *Query) (*PreparedQuery, error) {
	pq := &PreparedQuery{Query: q, Table: t}

	ignore_indexes := q.Join != nil || q.ForceLevel >= LevelMedium
	where, err := x.planner.ParseWhereCached(t, q.Where, ignore_indexes, q.CacheID)
	if err != nil {
		return nil, err
	}
	pq.Where = where

	if pq.Having, err = x.planner.ParseHaving(q.Having); err != nil {
		return nil, err
	}
	if pq.Select, err = x.parseProjection(q.ActionArgs); err != nil {
		return nil, err
	}
	if pq.GroupBy, err = x.parseGroupBy(q.GroupBy); err != nil {
		return nil, err
	}
	if pq.Sort, err = x.planner.ParseSort(t, q.OrderBy, q.Join == nil); err != nil {
		return nil, err
	}

	streamable := pq.Sort.Empty() || (pq.Sort.Streamable() && streamsAllRows(t, pq.Sort.Index))
	switch {
	case q.Join != nil, q.Distinct, len(pq.GroupBy) > 0, pq.hasAggregates(), !streamable:
		pq.Level = LevelComplete
	case where.Type == planner.WhereNone || where.Type == planner.WhereFast:
		pq.Level = LevelFast
	default:
		pq.Level = LevelMedium
	}
	if pq.hasFunctions() && pq.Level == LevelFast {
		pq.Level = LevelMedium
	}
	if q.ForceLevel > pq.Level {
		pq.Level = q.ForceLevel
	}

	if pq.Level != LevelComplete && !pq.Sort.Empty() {
		pq.PushOrder = true
		pq.Reverse = pq.Sort.Reverse
	}
	if pq.Level != LevelComplete && where.Type == planner.WhereNone && pq.Having.Type == planner.WhereNone &&
		(pq.Sort.Empty() || pq.Sort.Index == planner.PkIndex) {
		pq.PushRange = true
	}
	return pq, nil
}
