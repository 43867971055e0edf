package builder

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/pkg"
)

type Database struct {
	// schema lock: schema operations hold it for writing, queries for
	// reading
	locker sync.RWMutex

	ID      string
	Adapter adapter.Adapter

	tables_locker sync.RWMutex
	tables        pkg.Map[string, *Table]

	// per index value locks shared by every table of the database
	IndexLocks *pkg.KeyedMutex
	Functions  *Functions
	Events     *EventBus
	Caches     *Caches
}

func (db *Database) GetLocker() *sync.RWMutex { return &db.locker }

// NewDatabase connects a to the database id. Adapter errors are wrapped
// as *adapter.Error from here on.
func NewDatabase(ctx context.Context, id string, a adapter.Adapter) (*Database, error) {
	checked := adapter.Checked(a)
	if err := checked.Connect(ctx, id); err != nil {
		return nil, err
	}
	pkg.DebugLog("opened database", id)
	return &Database{
		ID:         id,
		Adapter:    checked,
		tables:     pkg.Map[string, *Table]{},
		IndexLocks: pkg.NewKeyedMutex(),
		Functions:  NewFunctions(),
		Events:     NewEventBus(),
		Caches:     NewCaches(0),
	}, nil
}

func (db *Database) Close(ctx context.Context) error {
	return db.Adapter.Disconnect(ctx)
}

func (db *Database) Table(name string) (*Table, error) {
	db.tables_locker.RLock()
	defer db.tables_locker.RUnlock()
	t, ok := db.tables.Lookup(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTable, "table %s", name)
	}
	return t, nil
}

func (db *Database) HasTable(name string) bool {
	db.tables_locker.RLock()
	defer db.tables_locker.RUnlock()
	return db.tables.Has(name)
}

// Tables returns every table ordered by name.
func (db *Database) Tables() []*Table {
	db.tables_locker.RLock()
	defer db.tables_locker.RUnlock()
	names := db.tables.Keys()
	slices.Sort(names)
	out := make([]*Table, len(names))
	for i, name := range names {
		out[i] = db.tables[name]
	}
	return out
}

func (db *Database) PutTable(t *Table) {
	db.tables_locker.Lock()
	db.tables.Set(t.Name, t)
	db.tables_locker.Unlock()
	db.Caches.ForgetTable(t.Name)
}

func (db *Database) RemoveTable(name string) {
	db.tables_locker.Lock()
	db.tables.Delete(name)
	db.tables_locker.Unlock()
	db.Caches.ForgetTable(name)
}

// Reference is a column of Table that points into another table.
type Reference struct {
	Table  *Table
	Column *Column
}

// ReferencesTo lists the columns, across all tables, whose relation targets
// table name.
func (db *Database) ReferencesTo(name string) []Reference {
	refs := []Reference{}
	for _, t := range db.Tables() {
		for _, c := range t.References() {
			if c.Relation.Table == name {
				refs = append(refs, Reference{t, c})
			}
		}
	}
	return refs
}

// LookupTable is a relation lookup over the database's current tables.
func (db *Database) LookupTable(name string) *Table {
	t, err := db.Table(name)
	if err != nil {
		return nil
	}
	return t
}
