package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/tobsdb/tdb/internal/types"
)

// Error is a failure reported by a storage backend.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("adapter %s: %s", e.Op, e.Err.Error()) }
func (e *Error) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors unwrap to the backend error.
func (e *Error) Cause() error { return e.Err }

func IsAdapterError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// callbackError carries errors produced by the caller's own callback through
// the backend untouched, so they are not reported as backend failures.
type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }

type checked struct {
	a Adapter
}

// Checked wraps every error a returns as *Error. Errors returned by row and
// index callbacks pass through as they are, and ErrStop ends scans quietly.
func Checked(a Adapter) Adapter {
	if c, ok := a.(*checked); ok {
		return c
	}
	return &checked{a}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var cb *callbackError
	if errors.As(err, &cb) {
		if errors.Is(cb.err, ErrStop) {
			return nil
		}
		return cb.err
	}
	if errors.Is(err, ErrStop) {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Op: op, Err: err}
}

func (c *checked) Connect(ctx context.Context, id string) error {
	return wrap("connect", c.a.Connect(ctx, id))
}

func (c *checked) Disconnect(ctx context.Context) error {
	return wrap("disconnect", c.a.Disconnect(ctx))
}

func (c *checked) CreateTable(ctx context.Context, name string, info TableInfo) error {
	return wrap("createTable", c.a.CreateTable(ctx, name, info))
}

func (c *checked) DropTable(ctx context.Context, name string) error {
	return wrap("dropTable", c.a.DropTable(ctx, name))
}

func (c *checked) Write(ctx context.Context, table string, pk any, row Row) (any, error) {
	pk, err := c.a.Write(ctx, table, pk, row)
	return pk, wrap("write", err)
}

func (c *checked) Read(ctx context.Context, table string, pk any) (Row, error) {
	row, err := c.a.Read(ctx, table, pk)
	return row, wrap("read", err)
}

func (c *checked) Delete(ctx context.Context, table string, pk any) error {
	return wrap("delete", c.a.Delete(ctx, table, pk))
}

func (c *checked) ReadMulti(ctx context.Context, table string, typ ReadType, a, b any, reverse bool, onRow RowFunc) error {
	err := c.a.ReadMulti(ctx, table, typ, a, b, reverse, func(row Row, i int) error {
		if err := onRow(row, i); err != nil {
			return &callbackError{err}
		}
		return nil
	})
	return wrap("readMulti", err)
}

func (c *checked) GetTableIndex(ctx context.Context, table string) ([]any, error) {
	keys, err := c.a.GetTableIndex(ctx, table)
	return keys, wrap("getTableIndex", err)
}

func (c *checked) GetTableIndexLength(ctx context.Context, table string) (int, error) {
	n, err := c.a.GetTableIndexLength(ctx, table)
	return n, wrap("getTableIndexLength", err)
}

func (c *checked) CreateIndex(ctx context.Context, table, index string, typ types.FieldType) error {
	return wrap("createIndex", c.a.CreateIndex(ctx, table, index, typ))
}

func (c *checked) DropIndex(ctx context.Context, table, index string) error {
	return wrap("dropIndex", c.a.DropIndex(ctx, table, index))
}

func (c *checked) AddIndexValue(ctx context.Context, table, index string, pk, value any) error {
	return wrap("addIndexValue", c.a.AddIndexValue(ctx, table, index, pk, value))
}

func (c *checked) DeleteIndexValue(ctx context.Context, table, index string, pk, value any) error {
	return wrap("deleteIndexValue", c.a.DeleteIndexValue(ctx, table, index, pk, value))
}

func (c *checked) ReadIndexKey(ctx context.Context, table, index string, value any) ([]any, error) {
	pks, err := c.a.ReadIndexKey(ctx, table, index, value)
	return pks, wrap("readIndexKey", err)
}

func (c *checked) ReadIndexKeys(ctx context.Context, table, index string, typ ReadType, a, b any, reverse bool, onKey IndexFunc) error {
	err := c.a.ReadIndexKeys(ctx, table, index, typ, a, b, reverse, func(pk, value any) error {
		if err := onKey(pk, value); err != nil {
			return &callbackError{err}
		}
		return nil
	})
	return wrap("readIndexKeys", err)
}
