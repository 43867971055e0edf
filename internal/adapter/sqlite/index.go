package sqlite

import (
	"context"
	"fmt"

	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
)

func indexValueType(typ types.FieldType) string {
	switch typ {
	case types.FieldTypeInt, types.FieldTypeDate, types.FieldTypeBool:
		return "INTEGER"
	case types.FieldTypeFloat:
		return "REAL"
	case types.FieldTypeString, types.FieldTypeUUID, types.FieldTypeTimeId:
		return "TEXT"
	}
	// no affinity, values keep their own storage class
	return ""
}

func (a *Adapter) CreateIndex(ctx context.Context, table, index string, typ types.FieldType) error {
	info, err := a.info(table)
	if err != nil {
		return err
	}
	_, err = a.exec(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (value %s, pk %s, PRIMARY KEY (value, pk)) WITHOUT ROWID",
		indexTable(table, index), indexValueType(typ), pkColumnType(info)))
	return err
}

func (a *Adapter) DropIndex(ctx context.Context, table, index string) error {
	_, err := a.exec(ctx, "DROP TABLE IF EXISTS "+indexTable(table, index))
	return err
}

// bindValue maps index values onto sqlite storage classes.
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func (a *Adapter) AddIndexValue(ctx context.Context, table, index string, pk, value any) error {
	info, err := a.info(table)
	if err != nil {
		return err
	}
	if pk, err = coerceKey(info, pk); err != nil {
		return err
	}
	_, err = a.exec(ctx, fmt.Sprintf("INSERT OR IGNORE INTO %s (value, pk) VALUES (?, ?)",
		indexTable(table, index)), bindValue(value), pk)
	return err
}

func (a *Adapter) DeleteIndexValue(ctx context.Context, table, index string, pk, value any) error {
	info, err := a.info(table)
	if err != nil {
		return err
	}
	if pk, err = coerceKey(info, pk); err != nil {
		return err
	}
	_, err = a.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE value = ? AND pk = ?",
		indexTable(table, index)), bindValue(value), pk)
	return err
}

func (a *Adapter) ReadIndexKey(ctx context.Context, table, index string, value any) ([]any, error) {
	pks := []any{}
	err := a.readIndex(ctx, table, index,
		fmt.Sprintf("SELECT pk, value FROM %s WHERE value = ? ORDER BY pk", indexTable(table, index)),
		[]any{bindValue(value)},
		func(pk, _ any) error {
			pks = append(pks, pk)
			return nil
		})
	return pks, err
}

func (a *Adapter) ReadIndexKeys(ctx context.Context, table, index string, typ adapter.ReadType, low, high any, reverse bool, onKey adapter.IndexFunc) error {
	clause, args := scanClause("value", "pk", typ, bindValue(low), bindValue(high), reverse)
	return a.readIndex(ctx, table, index,
		fmt.Sprintf("SELECT pk, value FROM %s%s", indexTable(table, index), clause), args, onKey)
}

func (a *Adapter) readIndex(ctx context.Context, table, index, query string, args []any, onKey adapter.IndexFunc) error {
	info, err := a.info(table)
	if err != nil {
		return err
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}

	type entry struct{ pk, value any }
	entries := []entry{}
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.pk, &e.value); err != nil {
			rows.Close()
			return err
		}
		if e.pk, err = coerceKey(info, e.pk); err != nil {
			rows.Close()
			return err
		}
		if f, ok := values.ToFloat(e.value); ok && f == float64(int64(f)) {
			e.value = int(f)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		if err := onKey(e.pk, e.value); err != nil {
			if err == adapter.ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}
