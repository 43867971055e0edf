package query

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/index"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/planner"
	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
)

func (x *executor) deleteAction(ctx context.Context, t *builder.Table, q *Query, on_row RowFunc) error {
	if q.Where == nil {
		return malformedf("delete on %s requires a where clause", t.Name)
	}
	where, err := x.planner.ParseWhereCached(t, q.Where, false, q.CacheID)
	if err != nil {
		return err
	}
	pks, err := x.matchingKeys(ctx, t, where)
	if err != nil {
		return err
	}

	visited := map[string]bool{}
	n := 0
	for _, pk := range pks {
		row, err := x.deleteRow(ctx, t, pk, where, visited)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		if err := on_row(row, n); err != nil {
			return err
		}
		n++
		if q.Limit > 0 && n >= q.Limit {
			break
		}
	}
	return nil
}

// deleteRow removes the row pk of t after applying the delete policies of
// the relations pointing at it. visited stops cascades from coming back to
// a row already being deleted.
func (x *executor) deleteRow(
	ctx context.Context, t *builder.Table, pk any, where *planner.Where, visited map[string]bool,
) (builder.Row, error) {
	key := visitKey(t, pk)
	if visited[key] {
		return nil, nil
	}
	visited[key] = true

	unlock, err := t.RowLocks.Lock(ctx, pkg.KeyOf(pk))
	if err != nil {
		return nil, err
	}
	defer unlock()

	old, err := x.db.Adapter.Read(ctx, t.Name, pk)
	if err != nil || old == nil {
		return nil, err
	}
	if where != nil {
		if ok, err := x.planner.EvaluateAll(where, old, 0); err != nil || !ok {
			return nil, err
		}
	}

	m := newWriteMachine("delete", t.Name)
	m.pk = pk
	if err := x.applyDeletePolicies(ctx, t, old, visited); err != nil {
		return nil, m.fail(ctx, err)
	}

	if err := m.to(ctx, writeEventCheck); err != nil {
		return nil, m.fail(ctx, err)
	}
	vals := index.Values(t, old)

	if err := m.to(ctx, writeEventWrite); err != nil {
		return nil, m.fail(ctx, err)
	}
	if err := x.db.Adapter.Delete(ctx, t.Name, pk); err != nil {
		return nil, m.fail(ctx, err)
	}

	m.step(ctx, writeEventIndex)
	if err := x.index.Apply(ctx, t, pk, index.Ops(t, vals, false), nil); err != nil {
		if _, w_err := x.db.Adapter.Write(context.WithoutCancel(ctx), t.Name, pk, old); w_err != nil {
			pkg.ErrorLog("failed to restore row", pk, "of", t.Name, "after index failure;", w_err)
			t.MarkStale()
		}
		return nil, m.fail(ctx, err)
	}
	t.Count.Add(-1)

	m.step(ctx, writeEventEmit)
	x.db.Events.Emit(builder.Event{Type: builder.EventDelete, Table: t.Name, Pk: pk, Old: values.CloneRow(old)})
	m.step(ctx, writeEventFinish)
	return old, nil
}

func visitKey(t *builder.Table, pk any) string {
	return t.Name + "\x00" + pkg.KeyOf(pk)
}

type dependents struct {
	ref  builder.Reference
	rows []builder.Row
}

// applyDeletePolicies handles the rows of other tables that reference row.
// Every restricting relation is checked before any row is cascaded or
// nulled.
func (x *executor) applyDeletePolicies(ctx context.Context, t *builder.Table, row builder.Row, visited map[string]bool) error {
	found := []dependents{}
	for _, ref := range x.db.ReferencesTo(t.Name) {
		rows, err := x.referencingRows(ctx, t, row, ref)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		if ref.Column.Relation.OnDelete == props.OnDeleteRestrict {
			return errors.Wrapf(builder.ErrForeignKeyRestraint,
				"Cannot delete row %v from %s; %d rows of %s reference it through %s",
				t.Pk(row), t.Name, len(rows), ref.Table.Name, ref.Column.Key)
		}
		found = append(found, dependents{ref, rows})
	}

	for _, d := range found {
		child := d.ref.Table
		col := d.ref.Column
		for _, r := range d.rows {
			c_pk := child.Pk(r)
			switch col.Relation.OnDelete {
			case props.OnDeleteCascade:
				if _, err := x.deleteRow(ctx, child, c_pk, nil, visited); err != nil {
					return err
				}
			case props.OnDeleteSetNull:
				// rows already being deleted hold their row lock further up
				if visited[visitKey(child, c_pk)] {
					continue
				}
				gone, _ := path.Get(row, path.Split(col.Relation.Field))
				_, _, err := x.update(ctx, child, c_pk, func(r builder.Row) error {
					unlink(r, col, gone)
					return nil
				}, nil)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// unlink drops the reference to gone from r. Vector columns lose the
// matching elements, other columns are cleared.
func unlink(r builder.Row, col *builder.Column, gone any) {
	if col.Type != types.FieldTypeVector {
		path.Delete(r, col.Path)
		return
	}
	current, _ := path.Get(r, col.Path)
	list, _ := values.ToSlice(current)
	drop := []any{gone}
	if l, ok := values.ToSlice(gone); ok {
		drop = l
	}
	kept := slices.DeleteFunc(slices.Clone(list), func(v any) bool {
		return slices.ContainsFunc(drop, func(d any) bool { return values.Equal(v, d) })
	})
	path.Set(r, col.Path, kept)
}

// referencingRows finds the rows of ref.Table whose relation column points
// at row.
func (x *executor) referencingRows(ctx context.Context, t *builder.Table, row builder.Row, ref builder.Reference) ([]builder.Row, error) {
	col := ref.Column
	target, _ := path.Get(row, path.Split(col.Relation.Field))
	if target == nil {
		return nil, nil
	}

	_, target_is_list := values.ToSlice(target)
	comp := values.CompareEqual
	switch {
	case col.Type == types.FieldTypeVector && target_is_list:
		comp = values.CompareIntersect
	case col.Type == types.FieldTypeVector:
		comp = values.CompareIncludes
	case target_is_list:
		comp = values.CompareIn
	}

	where, err := x.planner.ParseWhere(ref.Table, []any{col.Key, string(comp), target}, false)
	if err != nil {
		return nil, err
	}
	rows, err := x.collect(ctx, &PreparedQuery{Query: &Query{Table: ref.Table.Name}, Table: ref.Table, Where: where})
	if err != nil {
		return nil, err
	}
	if ref.Table == t {
		pk := t.Pk(row)
		rows = slices.DeleteFunc(rows, func(r builder.Row) bool { return values.Equal(t.Pk(r), pk) })
	}
	return rows, nil
}
