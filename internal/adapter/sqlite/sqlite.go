// Package sqlite is an Adapter backed by a SQLite database file. Rows are
// stored as JSON documents keyed by their primary key; every secondary index
// is its own (value, pk) table.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
	_ "modernc.org/sqlite"
)

const maxRetries = 5

type Adapter struct {
	locker sync.RWMutex
	file   string
	db     *sql.DB
	id     string
	tables pkg.Map[string, adapter.TableInfo]
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an adapter for the database file. The file is opened on
// Connect. ":memory:" keeps the database in memory.
func New(file string) *Adapter {
	return &Adapter{file: file, tables: pkg.Map[string, adapter.TableInfo]{}}
}

func (a *Adapter) Connect(ctx context.Context, id string) error {
	dsn := a.file
	if dsn != ":memory:" {
		dsn += "?_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errors.Wrap(err, "open sqlite db")
	}
	// one writer at a time, sqlite locks the whole file anyway
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, "open sqlite db")
	}

	a.locker.Lock()
	a.db, a.id = db, id
	a.locker.Unlock()
	pkg.InfoLog("connected to sqlite db", a.file)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.locker.Lock()
	defer a.locker.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retry runs op until it succeeds, fails with a non-busy error, or the
// retry budget is spent.
func retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func rowsTable(table string) string { return quote("tdb_" + table) }

func indexTable(table, index string) string { return quote("tdbidx_" + table + "_" + index) }

func pkColumnType(info adapter.TableInfo) string {
	switch info.PkType {
	case types.FieldTypeInt:
		return "INTEGER"
	case types.FieldTypeFloat:
		return "REAL"
	}
	return "TEXT"
}

func (a *Adapter) info(table string) (adapter.TableInfo, error) {
	a.locker.RLock()
	defer a.locker.RUnlock()
	info, ok := a.tables.Lookup(table)
	if !ok {
		return info, fmt.Errorf("table %s does not exist", table)
	}
	return info, nil
}

func (a *Adapter) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry(ctx, func() (err error) {
		res, err = a.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (a *Adapter) CreateTable(ctx context.Context, name string, info adapter.TableInfo) error {
	_, err := a.exec(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (pk %s PRIMARY KEY, body BLOB NOT NULL)",
		rowsTable(name), pkColumnType(info)))
	if err != nil {
		return err
	}
	a.locker.Lock()
	a.tables.Set(name, info)
	a.locker.Unlock()
	return nil
}

func (a *Adapter) DropTable(ctx context.Context, name string) error {
	indexes, err := a.indexTables(ctx, name)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if _, err := a.exec(ctx, "DROP TABLE IF EXISTS "+quote(idx)); err != nil {
			return err
		}
	}
	if _, err := a.exec(ctx, "DROP TABLE IF EXISTS "+rowsTable(name)); err != nil {
		return err
	}
	a.locker.Lock()
	a.tables.Delete(name)
	a.locker.Unlock()
	return nil
}

func (a *Adapter) indexTables(ctx context.Context, table string) ([]string, error) {
	prefix := "tdbidx_" + table + "_"
	rows, err := a.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND substr(name, 1, ?) = ?", len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func encodeRow(row adapter.Row) ([]byte, error) {
	return json.Marshal(row)
}

// decodeRow keeps integers as int instead of json's float64.
func decodeRow(body []byte) (adapter.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return adapter.Row(fromJSON(m).(map[string]any)), nil
}

func fromJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = fromJSON(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = fromJSON(e)
		}
		return v
	}
	return v
}

func coerceKey(info adapter.TableInfo, pk any) (any, error) {
	key, ok := values.Coerce(info.PkType, pk)
	if !ok {
		return nil, fmt.Errorf("invalid key %v for %s primary key", pk, info.PkType)
	}
	return key, nil
}

func (a *Adapter) Write(ctx context.Context, table string, pk any, row adapter.Row) (any, error) {
	info, err := a.info(table)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = adapter.Row{}
	}

	if pk == nil {
		if !info.AutoGen {
			return nil, fmt.Errorf("table %s requires a primary key", table)
		}
		switch info.PkType {
		case types.FieldTypeInt:
			return a.writeAutoIncrement(ctx, table, info, row)
		case types.FieldTypeUUID:
			pk = uuid.NewString()
		case types.FieldTypeTimeId:
			id, err := uuid.NewV7()
			if err != nil {
				return nil, err
			}
			pk = id.String()
		default:
			return nil, fmt.Errorf("table %s cannot generate keys of type %s", table, info.PkType)
		}
	}

	if pk, err = coerceKey(info, pk); err != nil {
		return nil, err
	}
	path.Set(row, info.PkPath, pk)
	body, err := encodeRow(row)
	if err != nil {
		return nil, err
	}
	_, err = a.exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (pk, body) VALUES (?, ?) ON CONFLICT(pk) DO UPDATE SET body = excluded.body",
		rowsTable(table)), pk, body)
	if err != nil {
		return nil, err
	}
	return pk, nil
}

// writeAutoIncrement lets sqlite pick the next rowid, then stores the row
// body with the key filled in.
func (a *Adapter) writeAutoIncrement(ctx context.Context, table string, info adapter.TableInfo, row adapter.Row) (any, error) {
	var pk int
	err := retry(ctx, func() error {
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (pk, body) VALUES (NULL, '{}')", rowsTable(table)))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		pk = int(id)

		path.Set(row, info.PkPath, pk)
		body, err := encodeRow(row)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET body = ? WHERE pk = ?", rowsTable(table)), body, pk); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return pk, nil
}

func (a *Adapter) Read(ctx context.Context, table string, pk any) (adapter.Row, error) {
	info, err := a.info(table)
	if err != nil {
		return nil, err
	}
	if pk, err = coerceKey(info, pk); err != nil {
		return nil, nil
	}

	var body []byte
	err = a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT body FROM %s WHERE pk = ?", rowsTable(table)), pk).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	row, err := decodeRow(body)
	if err != nil {
		return nil, err
	}
	path.Set(row, info.PkPath, pk)
	return row, nil
}

func (a *Adapter) Delete(ctx context.Context, table string, pk any) error {
	info, err := a.info(table)
	if err != nil {
		return err
	}
	if pk, err = coerceKey(info, pk); err != nil {
		return nil
	}
	_, err = a.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE pk = ?", rowsTable(table)), pk)
	return err
}

// scanClause builds the WHERE/ORDER/LIMIT tail shared by row and index
// scans over column col.
func scanClause(col, order string, typ adapter.ReadType, a, b any, reverse bool) (string, []any) {
	dir := "ASC"
	if reverse {
		dir = "DESC"
	}
	var clause strings.Builder
	args := []any{}

	if typ == adapter.ReadRange {
		conds := []string{}
		if a != nil {
			conds = append(conds, col+" >= ?")
			args = append(args, a)
		}
		if b != nil {
			conds = append(conds, col+" <= ?")
			args = append(args, b)
		}
		if len(conds) > 0 {
			clause.WriteString(" WHERE " + strings.Join(conds, " AND "))
		}
	}

	fmt.Fprintf(&clause, " ORDER BY %s %s", col, dir)
	if order != "" {
		fmt.Fprintf(&clause, ", %s %s", order, dir)
	}

	if typ == adapter.ReadOffset {
		start, end := adapter.Window(a, b)
		limit := -1
		if end >= 0 {
			limit = end - start
		}
		clause.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, start)
	}
	return clause.String(), args
}

func (a *Adapter) ReadMulti(ctx context.Context, table string, typ adapter.ReadType, low, high any, reverse bool, onRow adapter.RowFunc) error {
	info, err := a.info(table)
	if err != nil {
		return err
	}
	if typ == adapter.ReadRange {
		if low != nil {
			if low, err = coerceKey(info, low); err != nil {
				return err
			}
		}
		if high != nil {
			if high, err = coerceKey(info, high); err != nil {
				return err
			}
		}
	}

	clause, args := scanClause("pk", "", typ, low, high, reverse)
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("SELECT pk, body FROM %s%s", rowsTable(table), clause), args...)
	if err != nil {
		return err
	}

	// buffer so callbacks may query the database again
	found := []adapter.Row{}
	for rows.Next() {
		var pk any
		var body []byte
		if err := rows.Scan(&pk, &body); err != nil {
			rows.Close()
			return err
		}
		row, err := decodeRow(body)
		if err != nil {
			rows.Close()
			return err
		}
		if pk, err = coerceKey(info, pk); err == nil {
			path.Set(row, info.PkPath, pk)
		}
		found = append(found, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, row := range found {
		if err := onRow(row, i); err != nil {
			if err == adapter.ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (a *Adapter) GetTableIndex(ctx context.Context, table string) ([]any, error) {
	info, err := a.info(table)
	if err != nil {
		return nil, err
	}
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("SELECT pk FROM %s ORDER BY pk", rowsTable(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []any{}
	for rows.Next() {
		var pk any
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		if pk, err = coerceKey(info, pk); err != nil {
			return nil, err
		}
		keys = append(keys, pk)
	}
	return keys, rows.Err()
}

func (a *Adapter) GetTableIndexLength(ctx context.Context, table string) (int, error) {
	if _, err := a.info(table); err != nil {
		return 0, err
	}
	var n int
	err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", rowsTable(table))).Scan(&n)
	return n, err
}
