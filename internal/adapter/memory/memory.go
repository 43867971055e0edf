// Package memory is an Adapter that keeps tables in sorted in-memory maps.
// With a data directory configured, tables are snapshotted to disk and
// reloaded when the table is created again.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
	sorted "github.com/tobshub/go-sortedmap"
)

// edge is only set on range probes: -1 sorts the probe before the entries
// equal to it, 1 after them.
type record struct {
	Pk   any
	Row  adapter.Row
	edge int8
}

type bucket struct {
	Value any
	// owners in key order
	Pks  []any
	edge int8
}

type memIndex struct {
	typ     types.FieldType
	buckets *sorted.SortedMap[string, *bucket]
}

type memTable struct {
	locker  sync.RWMutex
	name    string
	info    adapter.TableInfo
	rows    *sorted.SortedMap[string, record]
	indexes pkg.Map[string, *memIndex]
	// last generated or highest written integer key
	idTracker int
}

func recordsComparisonFunc(a, b record) bool {
	if c := values.Compare(a.Pk, b.Pk); c != 0 {
		return c < 0
	}
	return a.edge < b.edge
}

func bucketsComparisonFunc(a, b *bucket) bool {
	if c := values.Compare(a.Value, b.Value); c != 0 {
		return c < 0
	}
	return a.edge < b.edge
}

// recordBounds returns inclusive probes for a key range. A nil bound is
// the zero record, which the sorted map reads as unbounded.
func recordBounds(low, high any) (record, record) {
	var lo, hi record
	if low != nil {
		lo = record{Pk: low, edge: -1}
	}
	if high != nil {
		hi = record{Pk: high, edge: 1}
	}
	return lo, hi
}

func bucketBounds(low, high any) (*bucket, *bucket) {
	var lo, hi *bucket
	if low != nil {
		lo = &bucket{Value: low, edge: -1}
	}
	if high != nil {
		hi = &bucket{Value: high, edge: 1}
	}
	return lo, hi
}

func newMemTable(name string, info adapter.TableInfo) *memTable {
	return &memTable{
		name:    name,
		info:    info,
		rows:    sorted.New[string, record](0, recordsComparisonFunc),
		indexes: pkg.Map[string, *memIndex]{},
	}
}

func newMemIndex(typ types.FieldType) *memIndex {
	return &memIndex{typ: typ, buckets: sorted.New[string, *bucket](0, bucketsComparisonFunc)}
}

type Options struct {
	// Dir is where table snapshots are written. Empty keeps everything in
	// memory only.
	Dir string
}

type Adapter struct {
	locker sync.RWMutex
	id     string
	opts   Options
	tables pkg.Map[string, *memTable]
	dirty  pkg.Map[string, bool]
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(opts Options) *Adapter {
	GobRegisterTypes()
	return &Adapter{opts: opts, tables: pkg.Map[string, *memTable]{}, dirty: pkg.Map[string, bool]{}}
}

func (a *Adapter) GetLocker() *sync.RWMutex { return &a.locker }

func (a *Adapter) Connect(ctx context.Context, id string) error {
	a.locker.Lock()
	defer a.locker.Unlock()
	a.id = id
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.Snapshot(ctx)
}

func (a *Adapter) table(name string) (*memTable, error) {
	a.locker.RLock()
	defer a.locker.RUnlock()
	t, ok := a.tables.Lookup(name)
	if !ok {
		return nil, errors.Errorf("table %s does not exist", name)
	}
	return t, nil
}

func (a *Adapter) markDirty(name string) {
	a.locker.Lock()
	a.dirty.Set(name, true)
	a.locker.Unlock()
}

func (a *Adapter) CreateTable(ctx context.Context, name string, info adapter.TableInfo) error {
	a.locker.Lock()
	defer a.locker.Unlock()
	if t, ok := a.tables.Lookup(name); ok {
		pkg.LockWrap(t, func() { t.info = info })
		return nil
	}

	t, err := a.readSnapshot(name)
	if err != nil {
		return err
	}
	if t == nil {
		t = newMemTable(name, info)
	}
	t.info = info
	a.tables.Set(name, t)
	return nil
}

func (a *Adapter) DropTable(ctx context.Context, name string) error {
	a.locker.Lock()
	defer a.locker.Unlock()
	a.tables.Delete(name)
	a.dirty.Delete(name)
	return a.removeSnapshot(name)
}

func (t *memTable) GetLocker() *sync.RWMutex { return &t.locker }

func (t *memTable) generateKey() (any, error) {
	switch t.info.PkType {
	case types.FieldTypeInt:
		t.idTracker++
		return t.idTracker, nil
	case types.FieldTypeUUID:
		return uuid.NewString(), nil
	case types.FieldTypeTimeId:
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	}
	return nil, errors.Errorf("table %s cannot generate keys of type %s", t.name, t.info.PkType)
}

func (t *memTable) coerceKey(pk any) (any, error) {
	key, ok := values.Coerce(t.info.PkType, pk)
	if !ok {
		return nil, errors.Errorf("invalid key %v for %s primary key", pk, t.info.PkType)
	}
	return key, nil
}

func (a *Adapter) Write(ctx context.Context, name string, pk any, row adapter.Row) (any, error) {
	t, err := a.table(name)
	if err != nil {
		return nil, err
	}
	if pk, err = t.write(pk, row); err != nil {
		return nil, err
	}
	a.markDirty(name)
	return pk, nil
}

func (t *memTable) write(pk any, row adapter.Row) (any, error) {
	t.locker.Lock()
	defer t.locker.Unlock()

	var err error
	if pk == nil {
		if !t.info.AutoGen {
			return nil, errors.Errorf("table %s requires a primary key", t.name)
		}
		if pk, err = t.generateKey(); err != nil {
			return nil, err
		}
	} else {
		if pk, err = t.coerceKey(pk); err != nil {
			return nil, err
		}
		if n, ok := pk.(int); ok && n > t.idTracker {
			t.idTracker = n
		}
	}

	stored := values.CloneRow(row)
	if stored == nil {
		stored = adapter.Row{}
	}
	path.Set(stored, t.info.PkPath, pk)
	if row != nil {
		path.Set(row, t.info.PkPath, pk)
	}

	key := pkg.KeyOf(pk)
	rec := record{Pk: pk, Row: stored}
	if !t.rows.Insert(key, rec) {
		t.rows.Replace(key, rec)
	}
	return pk, nil
}

func (a *Adapter) Read(ctx context.Context, name string, pk any) (adapter.Row, error) {
	t, err := a.table(name)
	if err != nil {
		return nil, err
	}
	pk, err = t.coerceKey(pk)
	if err != nil {
		return nil, nil
	}

	t.locker.RLock()
	defer t.locker.RUnlock()
	rec, ok := t.rows.Get(pkg.KeyOf(pk))
	if !ok {
		return nil, nil
	}
	return values.CloneRow(rec.Row), nil
}

func (a *Adapter) Delete(ctx context.Context, name string, pk any) error {
	t, err := a.table(name)
	if err != nil {
		return err
	}
	pk, err = t.coerceKey(pk)
	if err != nil {
		return nil
	}

	t.locker.Lock()
	t.rows.Delete(pkg.KeyOf(pk))
	t.locker.Unlock()
	a.markDirty(name)
	return nil
}

// records returns every row in key order.
func (t *memTable) records() []record {
	return t.window(adapter.ReadAll, nil, nil, false)
}

// window copies the records a read selects while holding the read lock, so
// callbacks run unlocked. Range reads start at the lower bound and offset
// reads stop after their last position.
func (t *memTable) window(typ adapter.ReadType, a, b any, reverse bool) []record {
	t.locker.RLock()
	defer t.locker.RUnlock()

	var lo, hi record
	if typ == adapter.ReadRange {
		lo, hi = recordBounds(a, b)
	}
	pos := windowCounter(typ, a, b)
	out := []record{}
	// an error means nothing lies within the bounds
	t.rows.BoundedIterFunc(reverse, lo, hi, func(rec sorted.Record[string, record]) bool {
		take, more := pos()
		if take {
			out = append(out, rec.Val)
		}
		return more
	})
	return out
}

// windowCounter returns a function called once per visited entry. It
// reports whether the entry is inside an offset window and whether the
// walk should go on. Other read types take everything.
func windowCounter(typ adapter.ReadType, a, b any) func() (bool, bool) {
	if typ != adapter.ReadOffset {
		return func() (bool, bool) { return true, true }
	}
	start, end := adapter.Window(a, b)
	i := 0
	return func() (bool, bool) {
		if end >= 0 && i >= end {
			return false, false
		}
		take := i >= start
		i++
		return take, end < 0 || i < end
	}
}

func (a *Adapter) ReadMulti(ctx context.Context, name string, typ adapter.ReadType, low, high any, reverse bool, onRow adapter.RowFunc) error {
	t, err := a.table(name)
	if err != nil {
		return err
	}

	if typ == adapter.ReadRange {
		if low, err = t.coerceBound(low); err != nil {
			return err
		}
		if high, err = t.coerceBound(high); err != nil {
			return err
		}
	}

	for i, rec := range t.window(typ, low, high, reverse) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onRow(values.CloneRow(rec.Row), i); err != nil {
			return stopOrErr(err)
		}
	}
	return nil
}

func (t *memTable) coerceBound(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return t.coerceKey(v)
}

func stopOrErr(err error) error {
	if err == adapter.ErrStop {
		return nil
	}
	return err
}

func (a *Adapter) GetTableIndex(ctx context.Context, name string) ([]any, error) {
	t, err := a.table(name)
	if err != nil {
		return nil, err
	}
	recs := t.records()
	keys := make([]any, len(recs))
	for i, rec := range recs {
		keys[i] = rec.Pk
	}
	return keys, nil
}

func (a *Adapter) GetTableIndexLength(ctx context.Context, name string) (int, error) {
	t, err := a.table(name)
	if err != nil {
		return 0, err
	}
	t.locker.RLock()
	defer t.locker.RUnlock()
	return t.rows.Len(), nil
}
