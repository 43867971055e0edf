package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/metrics"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/planner"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
)

// selectComplete runs the complete level: every matching row is collected
// before joining, grouping, sorting and windowing.
func (x *executor) selectComplete(ctx context.Context, pq *PreparedQuery, on_row RowFunc) error {
	var rows []builder.Row
	var err error
	if pq.Query.Join != nil {
		rows, err = x.collectJoined(ctx, pq)
	} else {
		rows, err = x.collect(ctx, pq)
	}
	if err != nil {
		return err
	}

	grouped := len(pq.GroupBy) > 0 || pq.hasAggregates()
	var items []item
	if grouped {
		items, err = x.group(pq, rows)
	} else {
		items = make([]item, 0, len(rows))
		for _, row := range rows {
			it, err := x.project(pq, row)
			if err != nil {
				return err
			}
			items = append(items, it)
		}
	}
	if err != nil {
		return err
	}

	if pq.Query.Distinct {
		items = distinct(items)
	}

	kept := items[:0]
	for i, it := range items {
		ok, err := x.planner.Evaluate(pq.Having, it.view, i)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, it)
		}
	}

	x.sortItems(pq, kept, !grouped && pq.Query.Join == nil)

	w := newWindow(pq.Query, false, on_row)
	for _, it := range kept {
		done, err := w.push(it.out)
		if err != nil || done {
			return err
		}
	}
	return nil
}

// collect reads the rows of the query table that pass WHERE, in key order.
func (x *executor) collect(ctx context.Context, pq *PreparedQuery) ([]builder.Row, error) {
	t := pq.Table
	rows := []builder.Row{}
	keep := func(row builder.Row, i int) error {
		ok, err := x.planner.Evaluate(pq.Where, row, i)
		if err != nil {
			return err
		}
		if ok {
			rows = append(rows, row)
		}
		return nil
	}

	if len(pq.Where.Fast) > 0 {
		pks, err := x.resolve(ctx, t, pq.Where.Fast, false)
		if err != nil {
			return nil, err
		}
		i := 0
		err = x.readRows(ctx, t, pks, func(row builder.Row) (bool, error) {
			i++
			return false, keep(row, i-1)
		})
		return rows, err
	}

	x.warnFullScan(pq, t)
	err := x.db.Adapter.ReadMulti(ctx, t.Name, adapter.ReadAll, nil, nil, false, keep)
	return rows, err
}

func (x *executor) warnFullScan(pq *PreparedQuery, t *builder.Table) {
	pq.warn("full scan of table %s", t.Name)
	metrics.FullScansTotal.WithLabelValues(t.Name).Inc()
	pkg.Logger().Warnw("query scans the whole table without an index", "table", t.Name, "where", pq.Where.Type)
}

func (x *executor) scanAll(ctx context.Context, t *builder.Table) ([]builder.Row, error) {
	rows := []builder.Row{}
	err := x.db.Adapter.ReadMulti(ctx, t.Name, adapter.ReadAll, nil, nil, false, func(row adapter.Row, _ int) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// collectJoined pairs the rows of the query table with the rows of the
// joined table. Joined rows hold each side under its table name.
func (x *executor) collectJoined(ctx context.Context, pq *PreparedQuery) ([]builder.Row, error) {
	j := pq.Query.Join
	left := pq.Table
	right, err := x.db.Table(j.Table)
	if err != nil {
		return nil, err
	}
	if right.Name == left.Name {
		return nil, malformedf("cannot join table %s with itself", left.Name)
	}
	kind := strings.ToLower(j.Type)
	if len(kind) == 0 {
		kind = JoinInner
	}
	if kind != JoinInner && kind != JoinLeft {
		return nil, malformedf("unknown join type %s", j.Type)
	}
	if len(j.On) != 3 {
		return nil, malformedf("join condition must be [left path, comparator, right path]")
	}
	left_path, ok1 := j.On[0].(string)
	comp_str, ok2 := j.On[1].(string)
	right_path, ok3 := j.On[2].(string)
	comp := values.Comparator(strings.ToUpper(comp_str))
	if !ok1 || !ok2 || !ok3 || !comp.IsValid() {
		return nil, malformedf("invalid join condition %v", j.On)
	}
	left_segs := path.Split(left_path)
	right_segs := path.Split(right_path)

	x.warnFullScan(pq, left)
	left_rows, err := x.scanAll(ctx, left)
	if err != nil {
		return nil, err
	}

	// point reads when the join is on the right table's key
	by_key := comp == values.CompareEqual && right.IsPk(path.Join(right_segs))
	var right_rows []builder.Row
	if !by_key {
		if right_rows, err = x.scanAll(ctx, right); err != nil {
			return nil, err
		}
	}

	matcher := x.planner.Matcher()
	out := []builder.Row{}
	emit := func(l, r builder.Row) error {
		joined := builder.Row{left.Name: map[string]any(l), right.Name: nil}
		if r != nil {
			joined[right.Name] = map[string]any(r)
		}
		ok, err := x.planner.Evaluate(pq.Where, joined, len(out))
		if err != nil {
			return err
		}
		if ok {
			out = append(out, joined)
		}
		return nil
	}

	for _, l := range left_rows {
		lv, _ := path.Get(l, left_segs)
		matched := false
		if by_key {
			if lv != nil {
				r, err := x.db.Adapter.Read(ctx, right.Name, lv)
				if err != nil {
					return nil, err
				}
				if r != nil {
					matched = true
					if err := emit(l, r); err != nil {
						return nil, err
					}
				}
			}
		} else {
			for _, r := range right_rows {
				rv, _ := path.Get(r, right_segs)
				if !matcher.Match(lv, comp, rv) {
					continue
				}
				matched = true
				if err := emit(l, r); err != nil {
					return nil, err
				}
			}
		}
		if !matched && kind == JoinLeft {
			if err := emit(l, nil); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// group buckets rows by the GROUP BY keys and evaluates the select list per
// bucket. Without GROUP BY every row lands in a single bucket, which exists
// even when no row matched.
func (x *executor) group(pq *PreparedQuery, rows []builder.Row) ([]item, error) {
	type bucket struct {
		keys []any
		rows []builder.Row
	}
	buckets := []*bucket{}
	by_key := map[string]*bucket{}

	for _, row := range rows {
		keys := make([]any, len(pq.GroupBy))
		parts := make([]string, len(pq.GroupBy))
		for i, e := range pq.GroupBy {
			v, err := x.planner.Value(e, row)
			if err != nil {
				return nil, err
			}
			keys[i] = v
			parts[i] = groupKey(v)
		}
		k := strings.Join(parts, "\x00")
		b, ok := by_key[k]
		if !ok {
			b = &bucket{keys: keys}
			by_key[k] = b
			buckets = append(buckets, b)
		}
		b.rows = append(b.rows, row)
	}
	if len(buckets) == 0 && len(pq.GroupBy) == 0 {
		buckets = append(buckets, &bucket{})
	}

	extra := x.referencedAggregates(pq)
	items := make([]item, 0, len(buckets))
	for _, b := range buckets {
		var first builder.Row
		if len(b.rows) > 0 {
			first = b.rows[0]
		}

		out := builder.Row{}
		if len(pq.Select) == 0 {
			for i, e := range pq.GroupBy {
				out[e.Text] = b.keys[i]
			}
		}
		aggregates := builder.Row{}
		for _, p := range pq.Select {
			switch {
			case p.Expr == nil:
				for k, v := range first {
					out[k] = v
				}
			case p.Expr.IsAggregate():
				v, err := aggregate(p.Expr.Func, b.rows)
				if err != nil {
					return nil, err
				}
				out[p.Key()] = v
				aggregates[p.Expr.Text] = v
			default:
				v, err := x.planner.Value(p.Expr, first)
				if err != nil {
					return nil, err
				}
				out[p.Key()] = v
			}
		}
		for _, e := range extra {
			if _, ok := aggregates[e.Text]; ok {
				continue
			}
			v, err := aggregate(e.Func, b.rows)
			if err != nil {
				return nil, err
			}
			aggregates[e.Text] = v
		}
		items = append(items, item{src: first, out: out, view: overlay(first, out, aggregates)})
	}
	return items, nil
}

func groupKey(v any) string {
	if _, is_list := values.ToSlice(v); is_list {
		return jsonKey(v)
	}
	switch v.(type) {
	case map[string]any, builder.Row:
		return jsonKey(v)
	}
	return pkg.KeyOf(values.Normalize(v))
}

func jsonKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// referencedAggregates lists the aggregates HAVING and ORDER BY name that
// the select list does not compute.
func (x *executor) referencedAggregates(pq *PreparedQuery) []*planner.Expr {
	out := []*planner.Expr{}
	add := func(text string) {
		e, err := x.planner.ParseExpr(text, true)
		if err == nil && e.IsAggregate() {
			out = append(out, e)
		}
	}
	var walk func(terms []planner.Term)
	walk = func(terms []planner.Term) {
		for _, t := range terms {
			if t.Node.IsGroup() {
				walk(t.Node.Group)
			} else if t.Node.Func == nil && len(t.Node.Path) == 1 {
				add(t.Node.Path[0])
			}
		}
	}
	walk(pq.Having.Slow)
	for _, k := range pq.Sort.Keys {
		if k.IsAggregate() {
			out = append(out, &k.Expr)
		}
	}
	return out
}

func aggregate(fc *planner.FuncCall, rows []builder.Row) (any, error) {
	arg := fc.Args[0]
	vals := []any{}
	for _, row := range rows {
		if !arg.IsPath {
			vals = append(vals, arg.Literal)
			continue
		}
		if v, ok := path.Get(row, arg.Path); ok && v != nil {
			vals = append(vals, v)
		}
	}

	switch fc.Name {
	case "COUNT":
		return len(vals), nil
	case "SUM", "AVG":
		sum := 0.0
		all_ints := true
		for _, v := range vals {
			f, ok := values.ToFloat(v)
			if !ok {
				return nil, malformedf("%s: %v is not a number", fc.Name, v)
			}
			if _, is_int := v.(int); !is_int {
				all_ints = false
			}
			sum += f
		}
		if fc.Name == "AVG" {
			if len(vals) == 0 {
				return nil, nil
			}
			return sum / float64(len(vals)), nil
		}
		if all_ints {
			return int(sum), nil
		}
		return sum, nil
	case "MIN", "MAX":
		var best any
		for _, v := range vals {
			if best == nil {
				best = v
				continue
			}
			c := values.Compare(v, best)
			if (fc.Name == "MIN" && c < 0) || (fc.Name == "MAX" && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, malformedf("unknown aggregate %s", fc.Name)
}

func distinct(items []item) []item {
	seen := map[string]bool{}
	out := items[:0]
	for _, it := range items {
		k := jsonKey(it.out)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}
