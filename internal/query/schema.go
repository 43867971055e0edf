package query

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/pkg"
)

// CreateTables creates or alters every table declared in schema.
func CreateTables(ctx context.Context, db *builder.Database, schema string) error {
	return Run(ctx, db, &Query{Action: ActionCreateTable, ActionArgs: schema}, nil)
}

// tablesFromArgs builds the tables of a create table query. args is a
// TableDef, a list of them, their JSON object form, or schema text.
func tablesFromArgs(args any) ([]*builder.Table, error) {
	defs := []builder.TableDef{}
	switch a := args.(type) {
	case string:
		return builder.ParseSchema(a)
	case builder.TableDef:
		defs = append(defs, a)
	case *builder.TableDef:
		defs = append(defs, *a)
	case []builder.TableDef:
		defs = a
	case map[string]any, builder.Row, []any:
		data, err := json.Marshal(a)
		if err != nil {
			return nil, errors.Wrapf(builder.ErrInvalidSchema, "%s", err.Error())
		}
		if _, is_list := a.([]any); is_list {
			err = json.Unmarshal(data, &defs)
		} else {
			var def builder.TableDef
			err = json.Unmarshal(data, &def)
			defs = append(defs, def)
		}
		if err != nil {
			return nil, errors.Wrapf(builder.ErrInvalidSchema, "%s", err.Error())
		}
	default:
		return nil, errors.Wrapf(builder.ErrInvalidSchema, "cannot create a table from %T", args)
	}

	tables := make([]*builder.Table, 0, len(defs))
	for _, def := range defs {
		t, err := builder.NewTable(def)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (x *executor) createTableAction(ctx context.Context, q *Query, on_row RowFunc) error {
	tables, err := tablesFromArgs(q.ActionArgs)
	if err != nil {
		return err
	}

	by_name := map[string]*builder.Table{}
	for _, t := range tables {
		by_name[t.Name] = t
	}
	lookup := func(name string) *builder.Table {
		if t, ok := by_name[name]; ok {
			return t
		}
		return x.db.LookupTable(name)
	}
	for _, t := range tables {
		if err := builder.ValidateRelations(t, lookup); err != nil {
			return err
		}
	}

	for i, t := range tables {
		created, err := x.createTable(ctx, t)
		if err != nil {
			return err
		}
		if err := on_row(builder.Row{"table": t.Name, "created": created}, i); err != nil {
			return err
		}
	}
	return nil
}

// createTable registers t. An existing table of the same name is replaced
// in place: its rows stay and its indexes are rebuilt when they changed.
func (x *executor) createTable(ctx context.Context, t *builder.Table) (bool, error) {
	if existing := x.db.LookupTable(t.Name); existing != nil {
		return false, x.alterTable(ctx, existing, t)
	}

	if err := x.db.Adapter.CreateTable(ctx, t.Name, t.Info()); err != nil {
		return false, err
	}
	if err := x.index.Create(ctx, t); err != nil {
		return false, err
	}
	n, err := x.db.Adapter.GetTableIndexLength(ctx, t.Name)
	if err != nil {
		return false, err
	}
	x.db.PutTable(t)
	if n > 0 {
		// storage kept rows from an earlier run
		if err := x.index.Rebuild(ctx, t); err != nil {
			return false, err
		}
		if err := x.seedIncrements(ctx, t); err != nil {
			return false, err
		}
	}
	pkg.InfoLog("created table", t.Name)
	return true, nil
}

func (x *executor) alterTable(ctx context.Context, old, t *builder.Table) error {
	if old.PkKey != t.PkKey || old.PkType != t.PkType {
		return errors.Wrapf(builder.ErrInvalidSchema, "cannot change the primary key of table %s", t.Name)
	}
	t.Filter = old.Filter
	t.Count.Store(old.Count.Load())
	for _, c := range t.Columns.Values() {
		if oc := old.Column(c.Key); oc != nil {
			c.SeedIncrement(oc.IncrementTracker.Load())
		}
	}

	if builder.SameIndexes(old, t) {
		x.db.PutTable(t)
		return nil
	}
	for _, idx := range old.IndexList() {
		if t.Index(idx.ID) != nil {
			continue
		}
		if err := x.db.Adapter.DropIndex(ctx, t.Name, idx.ID); err != nil {
			return err
		}
	}
	x.db.PutTable(t)
	pkg.InfoLog("indexes of", t.Name, "changed; rebuilding")
	return x.index.Rebuild(ctx, t)
}

// seedIncrements moves every autoincrement column past the largest value
// already stored.
func (x *executor) seedIncrements(ctx context.Context, t *builder.Table) error {
	cols := []*builder.Column{}
	for _, c := range t.Columns.Values() {
		if c.HasDefault && c.Default == props.DefaultPropAutoIncrement && !c.Primary {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	return x.db.Adapter.ReadMulti(ctx, t.Name, adapter.ReadAll, nil, nil, false, func(row adapter.Row, _ int) error {
		for _, c := range cols {
			if v, _ := path.Get(row, c.Path); v != nil {
				c.SeedIncrement(v)
			}
		}
		return nil
	})
}

func (x *executor) dropTable(ctx context.Context, t *builder.Table, on_row RowFunc) error {
	for _, ref := range x.db.ReferencesTo(t.Name) {
		if ref.Table == t || ref.Column.Relation.OnDelete != props.OnDeleteRestrict {
			continue
		}
		if ref.Table.Count.Load() > 0 {
			return errors.Wrapf(builder.ErrForeignKeyRestraint,
				"Cannot drop table %s; rows of %s reference it through %s", t.Name, ref.Table.Name, ref.Column.Key)
		}
	}
	if err := x.db.Adapter.DropTable(ctx, t.Name); err != nil {
		return err
	}
	x.db.RemoveTable(t.Name)
	pkg.InfoLog("dropped table", t.Name)
	return on_row(builder.Row{"table": t.Name, "dropped": true}, 0)
}

func (x *executor) rebuild(ctx context.Context, t *builder.Table, on_row RowFunc) error {
	if err := x.index.Rebuild(ctx, t); err != nil {
		return err
	}
	return on_row(builder.Row{"table": t.Name, "rows": int(t.Count.Load())}, 0)
}

func (x *executor) describe(t *builder.Table, on_row RowFunc) error {
	i := 0
	for _, c := range t.Columns.Values() {
		row := builder.Row{
			"kind":       "column",
			"name":       c.Key,
			"type":       string(c.Type),
			"definition": c.Describe(),
			"primary":    c.Primary,
			"optional":   c.Optional,
			"unique":     c.Unique,
			"indexed":    c.Indexed,
			"immutable":  c.Immutable,
		}
		if c.Relation != nil {
			row["relation"] = c.Relation.Table + "." + c.Relation.Field
			row["onDelete"] = string(c.Relation.OnDelete)
		}
		if err := on_row(row, i); err != nil {
			return err
		}
		i++
	}
	for _, idx := range t.IndexList() {
		row := builder.Row{
			"kind":   "index",
			"name":   idx.ID,
			"type":   string(idx.Type),
			"unique": idx.Unique,
			"array":  idx.Array,
		}
		if err := on_row(row, i); err != nil {
			return err
		}
		i++
	}
	return nil
}

func (x *executor) showTables(on_row RowFunc) error {
	for i, t := range x.db.Tables() {
		row := builder.Row{
			"name":    t.Name,
			"rows":    int(t.Count.Load()),
			"indexes": len(t.Indexes),
			"stale":   t.Stale(),
		}
		if err := on_row(row, i); err != nil {
			return err
		}
	}
	return nil
}
