// Package adapter defines the contract every storage backend implements.
// The engine only ever talks to storage through Adapter.
package adapter

import (
	"context"
	"errors"

	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/pkg"
)

// Row is a stored record. Nested values are map[string]any and []any.
type Row = pkg.Map[string, any]

type ReadType string

const (
	// a and b are inclusive key bounds
	ReadRange ReadType = "range"
	// a is the start position, b the number of entries
	ReadOffset ReadType = "offset"
	ReadAll    ReadType = "all"
)

// ErrStop can be returned from a RowFunc or IndexFunc to end a scan early.
// The scan then returns nil.
var ErrStop = errors.New("stop iteration")

type RowFunc func(row Row, i int) error

type IndexFunc func(pk, value any) error

type TableInfo struct {
	PkPath []string
	PkType types.FieldType
	// numeric keys sort numerically, everything else lexicographically
	IsPkNum bool
	// when set, Write with a nil key generates one
	AutoGen bool
}

type Adapter interface {
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context) error

	CreateTable(ctx context.Context, name string, info TableInfo) error
	DropTable(ctx context.Context, name string) error

	// Write inserts or replaces a row and returns its key. A nil pk asks
	// the adapter to generate one and set it on the row.
	Write(ctx context.Context, table string, pk any, row Row) (any, error)
	// Read returns nil, nil when no row has the key.
	Read(ctx context.Context, table string, pk any) (Row, error)
	Delete(ctx context.Context, table string, pk any) error
	ReadMulti(ctx context.Context, table string, typ ReadType, a, b any, reverse bool, onRow RowFunc) error

	GetTableIndex(ctx context.Context, table string) ([]any, error)
	GetTableIndexLength(ctx context.Context, table string) (int, error)

	CreateIndex(ctx context.Context, table, index string, typ types.FieldType) error
	DropIndex(ctx context.Context, table, index string) error
	AddIndexValue(ctx context.Context, table, index string, pk, value any) error
	DeleteIndexValue(ctx context.Context, table, index string, pk, value any) error
	// ReadIndexKey returns the owners of one index value in key order.
	ReadIndexKey(ctx context.Context, table, index string, value any) ([]any, error)
	// ReadIndexKeys streams (pk, value) pairs ordered by value, then key.
	// Range bounds and offsets apply to index values.
	ReadIndexKeys(ctx context.Context, table, index string, typ ReadType, a, b any, reverse bool, onKey IndexFunc) error
}

// Window turns an offset read into a [start, end) position range. A
// negative count means no end.
func Window(a, b any) (int, int) {
	start := pkg.NumToInt(a)
	if start < 0 {
		start = 0
	}
	count := -1
	if b != nil {
		count = pkg.NumToInt(b)
	}
	if count < 0 {
		return start, -1
	}
	return start, start + count
}
