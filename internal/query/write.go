package query

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/index"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/planner"
	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
)

func asRow(v any) (builder.Row, bool) {
	switch r := v.(type) {
	case builder.Row:
		return r, true
	case map[string]any:
		return builder.Row(r), true
	}
	return nil, false
}

// upsertInputs reads the rows of an upsert: a single row or a list of rows.
func upsertInputs(args any) ([]builder.Row, error) {
	if row, ok := asRow(args); ok {
		return []builder.Row{row}, nil
	}
	list, ok := values.ToSlice(args)
	if !ok {
		return nil, malformedf("upsert expects a row or a list of rows, got %T", args)
	}
	rows := make([]builder.Row, 0, len(list))
	for _, e := range list {
		row, ok := asRow(e)
		if !ok {
			return nil, malformedf("upsert expects a row or a list of rows, got %T in list", e)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// buildRow produces the stored form of input: declared columns only, each
// defaulted when absent and validated. When old is set, immutable columns
// and the primary key keep their old values.
func (x *executor) buildRow(t *builder.Table, input, old builder.Row) (builder.Row, error) {
	row := builder.Row{}
	for _, c := range t.Columns.Values() {
		v, _ := path.Get(input, c.Path)
		if old != nil && (c.Immutable || c.Primary) {
			v, _ = path.Get(old, c.Path)
		}
		if v == nil {
			if c.Primary {
				if !t.AutoGen {
					return nil, errors.Wrapf(builder.ErrMissingPrimaryKey, "table %s requires %s", t.Name, c.Key)
				}
				continue
			}
			if d, ok := c.DefaultValue(); ok {
				v = d
			}
		} else if c.HasDefault && c.Default == props.DefaultPropAutoIncrement && !c.Primary {
			c.SeedIncrement(v)
		}

		res, err := c.Validate(v)
		if err != nil {
			return nil, err
		}
		if res != nil {
			path.Set(row, c.Path, res)
		}
	}

	if t.Filter != nil {
		row = t.Filter(row)
	}
	if err := t.ValidateJSONSchema(row); err != nil {
		return nil, err
	}
	return row, nil
}

// merge applies input onto row, column by column. Numeric columns accept
// {"increment": n} and {"decrement": n}; vectors accept {"push": items}.
func merge(t *builder.Table, row, input builder.Row) error {
	for _, c := range t.Columns.Values() {
		v, ok := path.Get(input, c.Path)
		if !ok {
			continue
		}
		current, _ := path.Get(row, c.Path)
		next, err := applyUpdateOps(c, current, v)
		if err != nil {
			return err
		}
		path.Set(row, c.Path, next)
	}
	return nil
}

func applyUpdateOps(c *builder.Column, current, input any) (any, error) {
	ops, ok := input.(map[string]any)
	if !ok {
		return input, nil
	}
	switch c.Type {
	case types.FieldTypeVector:
		push, ok := ops["push"]
		if !ok || len(ops) != 1 {
			return nil, errors.Wrapf(builder.ErrInvalidColumn, "Invalid update for %s: vectors only support push", c.Key)
		}
		list, _ := values.ToSlice(current)
		items, ok := values.ToSlice(push)
		if !ok {
			items = []any{push}
		}
		return append(slices.Clone(list), items...), nil
	case types.FieldTypeInt, types.FieldTypeFloat:
		n, _ := values.ToFloat(current)
		for k, v := range ops {
			f, ok := values.ToFloat(v)
			if !ok {
				return nil, errors.Wrapf(builder.ErrInvalidColumn, "Invalid field type for %s.%s: %T", c.Key, k, v)
			}
			switch k {
			case "increment":
				n += f
			case "decrement":
				n -= f
			default:
				return nil, errors.Wrapf(builder.ErrInvalidColumn, "Invalid update for %s: unknown operation %s", c.Key, k)
			}
		}
		if c.Type == types.FieldTypeInt {
			return int(n), nil
		}
		return n, nil
	}
	return input, nil
}

// checkRelations fails when a relation column of row points at a value no
// row of the related table holds. Values unchanged from old are not checked.
func (x *executor) checkRelations(ctx context.Context, t *builder.Table, row, old builder.Row) error {
	for _, c := range t.References() {
		v, _ := path.Get(row, c.Path)
		if v == nil {
			continue
		}
		if old != nil {
			if ov, _ := path.Get(old, c.Path); values.Equal(ov, v) {
				continue
			}
		}
		rel := c.Relation
		target := x.db.LookupTable(rel.Table)
		if target == nil {
			return errors.Wrapf(builder.ErrForeignKeyRestraint, "No relation table %s", rel.Table)
		}
		wanted := []any{v}
		if c.Type == types.FieldTypeVector {
			wanted, _ = values.ToSlice(v)
		}
		for _, w := range wanted {
			if target == t && values.Equal(w, t.Pk(row)) && target.IsPk(rel.Field) {
				continue
			}
			found, err := x.relationExists(ctx, target, rel.Field, w)
			if err != nil {
				return err
			}
			if !found {
				return errors.Wrapf(builder.ErrForeignKeyRestraint, "No row found for relation table %s", rel.Table)
			}
		}
	}
	return nil
}

func (x *executor) relationExists(ctx context.Context, t *builder.Table, field string, v any) (bool, error) {
	if t.IsPk(field) {
		row, err := x.db.Adapter.Read(ctx, t.Name, v)
		return row != nil, err
	}
	if idx := t.Index(field); idx != nil {
		if key, ok := index.Coerce(idx, v); ok {
			pks, err := x.db.Adapter.ReadIndexKey(ctx, t.Name, idx.ID, key)
			return len(pks) > 0, err
		}
	}

	comp := values.CompareEqual
	if c := t.Column(field); c != nil && c.Type == types.FieldTypeVector {
		comp = values.CompareIncludes
	}
	segs := path.Split(field)
	matcher := x.planner.Matcher()
	found := false
	err := x.db.Adapter.ReadMulti(ctx, t.Name, adapter.ReadAll, nil, nil, false, func(row adapter.Row, _ int) error {
		rv, _ := path.Get(row, segs)
		if matcher.Match(rv, comp, v) {
			found = true
			return adapter.ErrStop
		}
		return nil
	})
	return found, err
}

// insert writes a new row. Unique values are reserved from the check until
// their index entries exist.
func (x *executor) insert(ctx context.Context, t *builder.Table, input builder.Row) (builder.Row, error) {
	m := newWriteMachine("insert", t.Name)
	row, err := x.buildRow(t, input, nil)
	if err != nil {
		return nil, m.fail(ctx, err)
	}
	if err := x.checkRelations(ctx, t, row, nil); err != nil {
		return nil, m.fail(ctx, err)
	}

	if err := m.to(ctx, writeEventCheck); err != nil {
		return nil, m.fail(ctx, err)
	}
	vals := index.Values(t, row)
	res, err := x.index.Reserve(ctx, t, vals)
	if err != nil {
		return nil, m.fail(ctx, err)
	}
	defer res.Release()
	if err := x.index.CheckUnique(ctx, t, vals, nil); err != nil {
		return nil, m.fail(ctx, err)
	}

	if err := m.to(ctx, writeEventWrite); err != nil {
		return nil, m.fail(ctx, err)
	}
	pk, err := x.db.Adapter.Write(ctx, t.Name, t.Pk(row), row)
	if err != nil {
		return nil, m.fail(ctx, err)
	}
	m.pk = pk

	m.step(ctx, writeEventIndex)
	if err := x.index.Apply(ctx, t, pk, index.Ops(t, vals, true), res); err != nil {
		if d_err := x.db.Adapter.Delete(context.WithoutCancel(ctx), t.Name, pk); d_err != nil {
			pkg.ErrorLog("failed to remove row", pk, "from", t.Name, "after index failure;", d_err)
			t.MarkStale()
		}
		return nil, m.fail(ctx, err)
	}
	t.Count.Add(1)

	m.step(ctx, writeEventEmit)
	x.db.Events.Emit(builder.Event{Type: builder.EventUpsert, Table: t.Name, Pk: pk, Row: values.CloneRow(row)})
	m.step(ctx, writeEventFinish)
	return row, nil
}

// updateLocked replaces old with patch(old). The caller holds the row lock
// of pk.
func (x *executor) updateLocked(
	ctx context.Context, t *builder.Table, pk any, old builder.Row, patch func(builder.Row) error,
) (builder.Row, error) {
	m := newWriteMachine("update", t.Name)
	m.pk = pk

	merged := values.CloneRow(old)
	if err := patch(merged); err != nil {
		return nil, m.fail(ctx, err)
	}
	row, err := x.buildRow(t, merged, old)
	if err != nil {
		return nil, m.fail(ctx, err)
	}
	if err := x.checkRelations(ctx, t, row, old); err != nil {
		return nil, m.fail(ctx, err)
	}

	if err := m.to(ctx, writeEventCheck); err != nil {
		return nil, m.fail(ctx, err)
	}
	ops := index.Diff(t, old, row)
	added := index.Added(ops)
	res, err := x.index.Reserve(ctx, t, added)
	if err != nil {
		return nil, m.fail(ctx, err)
	}
	defer res.Release()
	if err := x.index.CheckUnique(ctx, t, added, pk); err != nil {
		return nil, m.fail(ctx, err)
	}

	if err := m.to(ctx, writeEventIndex); err != nil {
		return nil, m.fail(ctx, err)
	}
	if err := x.index.Apply(ctx, t, pk, ops, res); err != nil {
		return nil, m.fail(ctx, err)
	}

	m.step(ctx, writeEventWrite)
	if _, err := x.db.Adapter.Write(ctx, t.Name, pk, row); err != nil {
		x.index.Revert(ctx, t, pk, ops, res)
		return nil, m.fail(ctx, err)
	}

	m.step(ctx, writeEventEmit)
	x.emitUpdate(t, pk, old, row)
	m.step(ctx, writeEventFinish)
	return row, nil
}

func (x *executor) emitUpdate(t *builder.Table, pk any, old, row builder.Row) {
	events := x.db.Events
	events.Emit(builder.Event{
		Type: builder.EventUpsert, Table: t.Name, Pk: pk,
		Row: values.CloneRow(row), Old: values.CloneRow(old),
	})
	for _, p := range events.WatchedPaths(t.Name) {
		segs := path.Split(p)
		ov, _ := path.Get(old, segs)
		nv, _ := path.Get(row, segs)
		if values.Equal(ov, nv) {
			continue
		}
		events.Emit(builder.Event{
			Type: builder.EventChange, Table: t.Name, Pk: pk, Path: p,
			Value: values.Clone(nv), OldValue: values.Clone(ov),
		})
	}
}

// update locks pk, re-reads its row and applies patch. keep, when set, is
// checked against the current row first; ok is false when the row is gone
// or no longer matches.
func (x *executor) update(
	ctx context.Context, t *builder.Table, pk any, patch func(builder.Row) error, keep func(builder.Row) (bool, error),
) (row builder.Row, ok bool, err error) {
	unlock, err := t.RowLocks.Lock(ctx, pkg.KeyOf(pk))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	old, err := x.db.Adapter.Read(ctx, t.Name, pk)
	if err != nil || old == nil {
		return nil, false, err
	}
	if keep != nil {
		if ok, err := keep(old); err != nil || !ok {
			return nil, false, err
		}
	}
	row, err = x.updateLocked(ctx, t, pk, old, patch)
	return row, err == nil, err
}

// upsertRow inserts input, or merges it into the row that already has its
// primary key.
func (x *executor) upsertRow(ctx context.Context, t *builder.Table, input builder.Row) (builder.Row, error) {
	raw, _ := path.Get(input, t.PkPath)
	if raw == nil {
		if !t.AutoGen {
			return nil, errors.Wrapf(builder.ErrMissingPrimaryKey, "table %s requires %s", t.Name, t.PkKey)
		}
		return x.insert(ctx, t, input)
	}
	pk, err := t.PrimaryKey().Validate(raw)
	if err != nil {
		return nil, err
	}

	unlock, err := t.RowLocks.Lock(ctx, pkg.KeyOf(pk))
	if err != nil {
		return nil, err
	}
	defer unlock()

	old, err := x.db.Adapter.Read(ctx, t.Name, pk)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return x.insert(ctx, t, input)
	}
	return x.updateLocked(ctx, t, pk, old, func(row builder.Row) error {
		return merge(t, row, input)
	})
}

func (x *executor) upsertAction(ctx context.Context, t *builder.Table, q *Query, on_row RowFunc) error {
	if q.Where == nil {
		inputs, err := upsertInputs(q.ActionArgs)
		if err != nil {
			return err
		}
		errs := []error{}
		n := 0
		for _, input := range inputs {
			row, err := x.upsertRow(ctx, t, input)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := on_row(row, n); err != nil {
				return err
			}
			n++
		}
		return joinErrors(errs)
	}

	var patch func(builder.Row) error
	if len(q.UpsertPath) > 0 {
		segs := path.Split(q.UpsertPath)
		patch = func(row builder.Row) error {
			path.Set(row, segs, values.Clone(q.ActionArgs))
			return nil
		}
	} else {
		input, ok := asRow(q.ActionArgs)
		if !ok {
			return malformedf("upsert with a where clause expects a single row, got %T", q.ActionArgs)
		}
		patch = func(row builder.Row) error { return merge(t, row, input) }
	}

	where, err := x.planner.ParseWhereCached(t, q.Where, false, q.CacheID)
	if err != nil {
		return err
	}
	pks, err := x.matchingKeys(ctx, t, where)
	if err != nil {
		return err
	}
	keep := func(row builder.Row) (bool, error) { return x.planner.EvaluateAll(where, row, 0) }

	n := 0
	for _, pk := range pks {
		row, ok, err := x.update(ctx, t, pk, patch, keep)
		if err != nil {
			return err
		}
		if !ok {
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

// matchingKeys lists the primary keys of the rows matching where, in key
// order.
func (x *executor) matchingKeys(ctx context.Context, t *builder.Table, where *planner.Where) ([]any, error) {
	rows, err := x.collect(ctx, &PreparedQuery{Query: &Query{Table: t.Name}, Table: t, Where: where})
	if err != nil {
		return nil, err
	}
	pks := make([]any, len(rows))
	for i, row := range rows {
		pks[i] = t.Pk(row)
	}
	return pks, nil
}
