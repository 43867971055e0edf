package memory

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/pkg"
)

var register_once sync.Once

// GobRegisterTypes registers the dynamic value types rows may hold.
func GobRegisterTypes() {
	register_once.Do(func() {
		gob.Register(int(0))
		gob.Register(int64(0))
		gob.Register(float64(0.))
		gob.Register(string(""))
		gob.Register(time.Time{})
		gob.Register(bool(false))
		gob.Register([]byte{})
		gob.Register([]any{})
		gob.Register(map[string]any{})
		gob.Register(adapter.Row{})
	})
}

type tableSnapshot struct {
	Info      adapter.TableInfo
	IdTracker int
	Rows      []record
	Indexes   map[string]indexSnapshot
}

type indexSnapshot struct {
	Type    types.FieldType
	Buckets []bucket
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func (a *Adapter) snapshotPath(name string) string {
	return filepath.Join(a.opts.Dir, a.id, name+".tdb.zst")
}

func (t *memTable) snapshot() tableSnapshot {
	s := tableSnapshot{Indexes: map[string]indexSnapshot{}}
	s.Rows = t.records()

	t.locker.RLock()
	defer t.locker.RUnlock()
	s.Info = t.info
	s.IdTracker = t.idTracker
	for name, idx := range t.indexes {
		is := indexSnapshot{Type: idx.typ}
		if iterCh, err := idx.buckets.IterCh(); err == nil {
			for rec := range iterCh.Records() {
				is.Buckets = append(is.Buckets, *rec.Val)
			}
		}
		s.Indexes[name] = is
	}
	return s
}

// Snapshot writes every table changed since the last snapshot to the data
// directory. It does nothing when no directory is configured.
func (a *Adapter) Snapshot(ctx context.Context) error {
	if a.opts.Dir == "" {
		return nil
	}

	a.locker.Lock()
	changed := map[string]*memTable{}
	for name := range a.dirty {
		if t, ok := a.tables.Lookup(name); ok {
			changed[name] = t
		}
	}
	a.dirty = pkg.Map[string, bool]{}
	a.locker.Unlock()

	if len(changed) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(a.opts.Dir, a.id), 0755); err != nil {
		return err
	}

	for name, t := range changed {
		if err := ctx.Err(); err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(t.snapshot()); err != nil {
			return err
		}
		tmp := a.snapshotPath(name) + ".tmp"
		if err := os.WriteFile(tmp, encoder.EncodeAll(buf.Bytes(), nil), 0644); err != nil {
			return err
		}
		if err := os.Rename(tmp, a.snapshotPath(name)); err != nil {
			return err
		}
		pkg.DebugLog("wrote snapshot of table", name)
	}
	return nil
}

func (a *Adapter) readSnapshot(name string) (*memTable, error) {
	if a.opts.Dir == "" {
		return nil, nil
	}
	compressed, err := os.ReadFile(a.snapshotPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, err
	}
	var s tableSnapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&s); err != nil {
		return nil, err
	}

	t := newMemTable(name, s.Info)
	t.idTracker = s.IdTracker
	for _, rec := range s.Rows {
		t.rows.Insert(pkg.KeyOf(rec.Pk), rec)
	}
	for index_name, is := range s.Indexes {
		idx := newMemIndex(is.Type)
		for _, b := range is.Buckets {
			idx.buckets.Insert(pkg.KeyOf(b.Value), &bucket{Value: b.Value, Pks: b.Pks})
		}
		t.indexes.Set(index_name, idx)
	}
	pkg.InfoLog("loaded table", name, "from", a.snapshotPath(name))
	return t, nil
}

func (a *Adapter) removeSnapshot(name string) error {
	if a.opts.Dir == "" {
		return nil
	}
	err := os.Remove(a.snapshotPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
