package memory

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
	sorted "github.com/tobshub/go-sortedmap"
)

func (t *memTable) index(name string) (*memIndex, error) {
	idx, ok := t.indexes.Lookup(name)
	if !ok {
		return nil, errors.Errorf("index %s does not exist on table %s", name, t.name)
	}
	return idx, nil
}

func (a *Adapter) CreateIndex(ctx context.Context, table, index string, typ types.FieldType) error {
	t, err := a.table(table)
	if err != nil {
		return err
	}
	t.locker.Lock()
	if idx, ok := t.indexes.Lookup(index); !ok || idx.typ != typ {
		t.indexes.Set(index, newMemIndex(typ))
	}
	t.locker.Unlock()
	a.markDirty(table)
	return nil
}

func (a *Adapter) DropIndex(ctx context.Context, table, index string) error {
	t, err := a.table(table)
	if err != nil {
		return err
	}
	t.locker.Lock()
	t.indexes.Delete(index)
	t.locker.Unlock()
	a.markDirty(table)
	return nil
}

func insertSorted(pks []any, pk any) []any {
	i, found := slices.BinarySearchFunc(pks, pk, values.Compare)
	if found {
		return pks
	}
	return slices.Insert(pks, i, pk)
}

func (a *Adapter) AddIndexValue(ctx context.Context, table, index string, pk, value any) error {
	t, err := a.table(table)
	if err != nil {
		return err
	}
	if pk, err = t.coerceKey(pk); err != nil {
		return err
	}

	t.locker.Lock()
	defer a.markDirty(table)
	defer t.locker.Unlock()

	idx, err := t.index(index)
	if err != nil {
		return err
	}
	key := pkg.KeyOf(value)
	if b, ok := idx.buckets.Get(key); ok {
		b.Pks = insertSorted(b.Pks, pk)
		return nil
	}
	idx.buckets.Insert(key, &bucket{Value: value, Pks: []any{pk}})
	return nil
}

func (a *Adapter) DeleteIndexValue(ctx context.Context, table, index string, pk, value any) error {
	t, err := a.table(table)
	if err != nil {
		return err
	}
	if pk, err = t.coerceKey(pk); err != nil {
		return err
	}

	t.locker.Lock()
	defer a.markDirty(table)
	defer t.locker.Unlock()

	idx, err := t.index(index)
	if err != nil {
		return err
	}
	key := pkg.KeyOf(value)
	b, ok := idx.buckets.Get(key)
	if !ok {
		return nil
	}
	if i, found := slices.BinarySearchFunc(b.Pks, pk, values.Compare); found {
		b.Pks = slices.Delete(b.Pks, i, i+1)
	}
	if len(b.Pks) == 0 {
		idx.buckets.Delete(key)
	}
	return nil
}

func (a *Adapter) ReadIndexKey(ctx context.Context, table, index string, value any) ([]any, error) {
	t, err := a.table(table)
	if err != nil {
		return nil, err
	}

	t.locker.RLock()
	defer t.locker.RUnlock()

	idx, err := t.index(index)
	if err != nil {
		return nil, err
	}
	b, ok := idx.buckets.Get(pkg.KeyOf(value))
	if !ok {
		return []any{}, nil
	}
	return slices.Clone(b.Pks), nil
}

type indexEntry struct {
	pk    any
	value any
}

// indexEntries copies the (pk, value) pairs a read selects. Range bounds
// apply to bucket values, offsets to single entries.
func (t *memTable) indexEntries(index string, typ adapter.ReadType, a, b any, reverse bool) ([]indexEntry, error) {
	t.locker.RLock()
	defer t.locker.RUnlock()

	idx, err := t.index(index)
	if err != nil {
		return nil, err
	}
	var lo, hi *bucket
	if typ == adapter.ReadRange {
		lo, hi = bucketBounds(a, b)
	}
	pos := windowCounter(typ, a, b)
	out := []indexEntry{}
	idx.buckets.BoundedIterFunc(reverse, lo, hi, func(rec sorted.Record[string, *bucket]) bool {
		pks := rec.Val.Pks
		if reverse {
			pks = slices.Clone(pks)
			slices.Reverse(pks)
		}
		for _, pk := range pks {
			take, more := pos()
			if take {
				out = append(out, indexEntry{pk, rec.Val.Value})
			}
			if !more {
				return false
			}
		}
		return true
	})
	return out, nil
}

func (a *Adapter) ReadIndexKeys(ctx context.Context, table, index string, typ adapter.ReadType, low, high any, reverse bool, onKey adapter.IndexFunc) error {
	t, err := a.table(table)
	if err != nil {
		return err
	}
	entries, err := t.indexEntries(index, typ, low, high, reverse)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onKey(e.pk, e.value); err != nil {
			return stopOrErr(err)
		}
	}
	return nil
}
