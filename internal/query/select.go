package query

import (
	"context"
	"errors"
	"slices"

	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/planner"
	"github.com/tobsdb/tdb/internal/values"
)

// item is one result row on its way out. view is what HAVING and ORDER BY
// see: the source row overlaid with the projected and aggregated values.
type item struct {
	src  builder.Row
	out  builder.Row
	view builder.Row
}

// window counts rows that passed WHERE and HAVING against offset and limit.
type window struct {
	offset, limit int
	passed        int
	emitted       int
	on_row        RowFunc
}

func newWindow(q *Query, pushed bool, on_row RowFunc) *window {
	w := &window{on_row: on_row}
	if !pushed {
		w.offset, w.limit = max(q.Offset, 0), max(q.Limit, 0)
	}
	return w
}

// push emits row unless it falls before the offset. done reports that the
// limit is reached.
func (w *window) push(row builder.Row) (bool, error) {
	w.passed++
	if w.passed <= w.offset {
		return false, nil
	}
	if err := w.on_row(row, w.emitted); err != nil {
		return true, err
	}
	w.emitted++
	return w.limit > 0 && w.emitted >= w.limit, nil
}

func (x *executor) project(pq *PreparedQuery, src builder.Row) (item, error) {
	if len(pq.Select) == 0 {
		return item{src: src, out: src, view: src}, nil
	}
	out := builder.Row{}
	for _, p := range pq.Select {
		if p.Expr == nil {
			for k, v := range src {
				out[k] = v
			}
			continue
		}
		v, err := x.planner.Value(p.Expr, src)
		if err != nil {
			return item{}, err
		}
		out[p.Key()] = v
	}
	return item{src: src, out: out, view: overlay(src, out)}, nil
}

func overlay(rows ...builder.Row) builder.Row {
	view := builder.Row{}
	for _, r := range rows {
		for k, v := range r {
			view[k] = v
		}
	}
	return view
}

func (x *executor) selectRows(ctx context.Context, pq *PreparedQuery, on_row RowFunc) error {
	var err error
	if pq.Level == LevelComplete {
		err = x.selectComplete(ctx, pq, on_row)
	} else {
		err = x.selectStreaming(ctx, pq, on_row)
	}
	if errors.Is(err, adapter.ErrStop) {
		return nil
	}
	return err
}

// selectStreaming runs the fast and medium levels: rows are produced in
// their final order and stop being read once the limit is reached.
func (x *executor) selectStreaming(ctx context.Context, pq *PreparedQuery, on_row RowFunc) error {
	t := pq.Table
	q := pq.Query
	w := newWindow(q, pq.PushRange, on_row)

	accept := func(row builder.Row, i int) (bool, error) {
		ok, err := x.planner.Evaluate(pq.Where, row, i)
		if err != nil || !ok {
			return false, err
		}
		it, err := x.project(pq, row)
		if err != nil {
			return false, err
		}
		if ok, err := x.planner.Evaluate(pq.Having, it.view, i); err != nil || !ok {
			return false, err
		}
		return w.push(it.out)
	}
	scan := func(row adapter.Row, i int) error {
		done, err := accept(row, i)
		if err != nil {
			return err
		}
		if done {
			return adapter.ErrStop
		}
		return nil
	}

	switch {
	case len(pq.Where.Fast) > 0:
		by_pk := pq.Sort.Empty() || pq.Sort.Index == planner.PkIndex
		pks, err := x.resolve(ctx, t, pq.Where.Fast, by_pk && pq.Reverse)
		if err != nil {
			return err
		}
		if by_pk {
			i := 0
			return x.readRows(ctx, t, pks, func(row builder.Row) (bool, error) {
				i++
				return accept(row, i-1)
			})
		}

		rows := []builder.Row{}
		err = x.readRows(ctx, t, pks, func(row builder.Row) (bool, error) {
			rows = append(rows, row)
			return false, nil
		})
		if err != nil {
			return err
		}
		items := make([]item, len(rows))
		for i, row := range rows {
			items[i] = item{src: row, view: row}
		}
		x.sortItems(pq, items, true)
		for i, it := range items {
			done, err := accept(it.src, i)
			if err != nil || done {
				return err
			}
		}
		return nil

	case pq.PushOrder && pq.Sort.Index != planner.PkIndex:
		i := 0
		return x.db.Adapter.ReadIndexKeys(ctx, t.Name, pq.Sort.Index, adapter.ReadAll, nil, nil, pq.Reverse, func(pk, _ any) error {
			row, err := x.db.Adapter.Read(ctx, t.Name, pk)
			if err != nil || row == nil {
				return err
			}
			i++
			return scan(row, i-1)
		})

	case pq.PushRange:
		var count any
		if q.Limit > 0 {
			count = q.Limit
		}
		return x.db.Adapter.ReadMulti(ctx, t.Name, adapter.ReadOffset, max(q.Offset, 0), count, pq.Reverse, scan)
	}

	return x.db.Adapter.ReadMulti(ctx, t.Name, adapter.ReadAll, nil, nil, pq.Reverse, scan)
}

// sortItems orders items by the query's sort keys. Table rows with equal
// keys fall back to their primary key in the direction of the last key, so
// every level agrees on the order of ties.
func (x *executor) sortItems(pq *PreparedQuery, items []item, by_pk bool) {
	if pq.Sort.Empty() {
		return
	}
	last_desc := pq.Sort.Keys[len(pq.Sort.Keys)-1].Desc
	slices.SortStableFunc(items, func(a, b item) int {
		if c := x.planner.Compare(pq.Sort, a.view, b.view); c != 0 {
			return c
		}
		if !by_pk {
			return 0
		}
		c := values.Compare(pq.Table.Pk(a.src), pq.Table.Pk(b.src))
		if last_desc {
			return -c
		}
		return c
	})
}
