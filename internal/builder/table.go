package builder

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tiendc/go-deepcopy"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/pkg"
	"github.com/xeipuuv/gojsonschema"
)

// Row is a stored record.
type Row = adapter.Row

// SYS_PRIMARY_KEY is the column added to tables that declare no primary key.
const SYS_PRIMARY_KEY = "id"

// Index is a secondary index over one column.
type Index struct {
	// the dotted column path
	ID   string
	Path []string
	// value type; the element type for array indexes
	Type   types.FieldType
	Array  bool
	Unique bool
}

type Table struct {
	locker sync.RWMutex

	Name string
	// the definition the table was built from
	Def TableDef

	Columns *pkg.InsertSortMap[string, *Column]
	Indexes pkg.Map[string, *Index]

	PkKey   string
	PkPath  []string
	PkType  types.FieldType
	IsPkNum bool
	AutoGen bool

	// live row count
	Count atomic.Int64
	// per primary key locks held by writers
	RowLocks *pkg.KeyedMutex

	// Filter, when set, rewrites every row before it is written.
	Filter func(Row) Row

	json_schema *gojsonschema.Schema
	stale       atomic.Bool
}

func (t *Table) GetLocker() *sync.RWMutex { return &t.locker }

// NewTable builds a table from its definition. The definition is copied, so
// callers may reuse def.
func NewTable(def TableDef) (*Table, error) {
	var own TableDef
	if err := deepcopy.Copy(&own, def); err != nil {
		return nil, err
	}
	if len(own.Name) == 0 {
		return nil, invalidSchemaError("table name cannot be empty")
	}

	t := &Table{
		Name:     own.Name,
		Columns:  pkg.NewInsertSortMap[string, *Column](),
		Indexes:  pkg.Map[string, *Index]{},
		RowLocks: pkg.NewKeyedMutex(),
	}

	for _, c_def := range own.Columns {
		if !c_def.Type.IsValid() {
			return nil, invalidSchemaError("Invalid field type: %s", c_def.Type)
		}
		for prop := range c_def.Props {
			if !prop.IsValid() {
				return nil, invalidSchemaError("Invalid field prop: %s", prop)
			}
		}
		if t.Columns.Has(c_def.Name) {
			return nil, invalidSchemaError("Duplicate field %s", c_def.Name)
		}
		c, err := newColumn(c_def)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s", own.Name)
		}
		if c.Primary {
			if len(t.PkKey) > 0 {
				return nil, invalidSchemaError("Table %s can't have multiple primary keys", own.Name)
			}
			t.PkKey = c.Key
		}
		t.Columns.Push(c.Key, c)
	}

	if len(t.PkKey) == 0 {
		if t.Columns.Has(SYS_PRIMARY_KEY) {
			return nil, invalidSchemaError("Table %s has a field %s but no primary key", own.Name, SYS_PRIMARY_KEY)
		}
		sys_def := ColumnDef{
			Name: SYS_PRIMARY_KEY,
			Type: types.FieldTypeInt,
			Props: map[props.FieldProp]string{
				props.FieldPropKey:     props.KeyPropPrimary,
				props.FieldPropDefault: props.DefaultPropAutoIncrement,
			},
		}
		c, _ := newColumn(sys_def)
		own.Columns = append([]ColumnDef{sys_def}, own.Columns...)
		t.Columns = prependColumn(t.Columns, c)
		t.PkKey = SYS_PRIMARY_KEY
	}

	pk := t.Columns.Get(t.PkKey)
	t.PkPath = pk.Path
	t.PkType = pk.Type
	t.IsPkNum = pk.Type.IsNumeric()
	t.AutoGen = pk.GeneratedKey()

	for _, c := range t.Columns.Values() {
		if c.Primary || !(c.Unique || c.Indexed) {
			continue
		}
		idx := &Index{ID: c.Key, Path: c.Path, Type: c.Type, Unique: c.Unique}
		if c.Type == types.FieldTypeVector {
			idx.Array = true
			idx.Type = c.VectorType
		}
		t.Indexes.Set(idx.ID, idx)
	}

	if len(own.JSONSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(own.JSONSchema))
		if err != nil {
			return nil, invalidSchemaError("table %s: invalid JSON schema; %s", own.Name, err.Error())
		}
		t.json_schema = schema
	}

	t.Def = own
	return t, nil
}

func prependColumn(m *pkg.InsertSortMap[string, *Column], c *Column) *pkg.InsertSortMap[string, *Column] {
	out := pkg.NewInsertSortMap[string, *Column]()
	out.Push(c.Key, c)
	for _, e := range m.Values() {
		out.Push(e.Key, e)
	}
	return out
}

func (t *Table) Info() adapter.TableInfo {
	return adapter.TableInfo{PkPath: t.PkPath, PkType: t.PkType, IsPkNum: t.IsPkNum, AutoGen: t.AutoGen}
}

func (t *Table) PrimaryKey() *Column { return t.Columns.Get(t.PkKey) }

// Column looks up a column by its dotted path; nil when undeclared.
func (t *Table) Column(key string) *Column { return t.Columns.Get(key) }

func (t *Table) Index(id string) *Index { return t.Indexes.Get(id) }

// IndexList returns the table's indexes ordered by id.
func (t *Table) IndexList() []*Index {
	ids := t.Indexes.Keys()
	slices.Sort(ids)
	out := make([]*Index, len(ids))
	for i, id := range ids {
		out[i] = t.Indexes[id]
	}
	return out
}

func (t *Table) IsPk(key string) bool { return key == t.PkKey }

// Pk reads a row's primary key.
func (t *Table) Pk(row Row) any {
	v, _ := path.Get(row, t.PkPath)
	return v
}

func (t *Table) References() []*Column {
	return slices.DeleteFunc(t.Columns.Values(), func(c *Column) bool { return c.Relation == nil })
}

// ValidateJSONSchema checks row against the table's JSON schema, if any.
func (t *Table) ValidateJSONSchema(row Row) error {
	if t.json_schema == nil {
		return nil
	}
	result, err := t.json_schema.Validate(gojsonschema.NewGoLoader(row))
	if err != nil {
		return invalidColumnError("schema validation error: %s", err.Error())
	}
	if !result.Valid() {
		errs := []string{}
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return invalidColumnError("row invalid against schema: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MarkStale flags the table's indexes as possibly out of sync with its rows
// until the next rebuild.
func (t *Table) MarkStale()  { t.stale.Store(true) }
func (t *Table) ClearStale() { t.stale.Store(false) }
func (t *Table) Stale() bool { return t.stale.Load() }

// SameIndexes reports whether two tables carry identical index sets.
func SameIndexes(a, b *Table) bool {
	if len(a.Indexes) != len(b.Indexes) {
		return false
	}
	for id, idx := range a.Indexes {
		other, ok := b.Indexes.Lookup(id)
		if !ok || !sameIndex(idx, other) {
			return false
		}
	}
	return true
}

func sameIndex(a, b *Index) bool {
	return a.ID == b.ID && a.Type == b.Type && a.Array == b.Array && a.Unique == b.Unique
}
