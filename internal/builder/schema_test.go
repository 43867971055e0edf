package builder_test

import (
	"testing"

	. "github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
	"gotest.tools/assert"
)

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema("$TABLE a {\n a Int\n }")
	assert.NilError(t, err)
	assert.Equal(t, len(s), 1, "expected only one table")
	assert.Equal(t, s[0].PkKey, SYS_PRIMARY_KEY)
	assert.Assert(t, s[0].AutoGen)
	assert.DeepEqual(t, s[0].Columns.Sorted, []string{"id", "a"})
}

func TestParseSchemaIndexes(t *testing.T) {
	s, err := ParseSchema(`
$TABLE a {
    a Int key(primary) default(autoincrement)
    b String unique(true)
    c Bytes
    e Int index(true)
}

$TABLE b {
    d Vector vector(String) index(true)
}
        `)
	assert.NilError(t, err)
	assert.Equal(t, len(s), 2, "expected two tables")
	table_a := s[0]
	assert.Equal(t, len(table_a.Indexes), 2, "expected two indexes")
	assert.Equal(t, table_a.PrimaryKey().Key, "a", "expected a primary key named 'a'")
	assert.Assert(t, table_a.Index("b").Unique)
	assert.Assert(t, !table_a.Index("e").Unique)
	assert.Assert(t, table_a.IsPkNum)

	d := s[1].Index("d")
	assert.Assert(t, d.Array)
	assert.Equal(t, d.Type, types.FieldTypeString)
}

func TestDuplicateTable(t *testing.T) {
	_, err := ParseSchema(`
$TABLE a {
    a Int
}

$TABLE a {
    b Int
}
        `)

	assert.ErrorContains(t, err, "Duplicate table a")
}

func TestDuplicateField(t *testing.T) {
	_, err := ParseSchema(`
$TABLE a {
    a Int
    a String
}
        `)

	assert.ErrorContains(t, err, "Duplicate field a")
}

func TestFieldRules(t *testing.T) {
	cases := []struct {
		name   string
		schema string
		err    string
	}{
		{"multiple primary keys", "$TABLE a {\n a Int key(primary)\n b Int key(primary)\n}", "can't have multiple primary keys"},
		{"optional primary key", "$TABLE a {\n a Int key(primary) optional(true)\n}", "cannot be optional"},
		{"bytes primary key", "$TABLE a {\n a Bytes key(primary)\n}", "cannot be a primary key"},
		{"vector default", "$TABLE a {\n a Vector vector(Int) default(1)\n}", "cannot have default prop"},
		{"unique vector", "$TABLE a {\n a Vector vector(Int) unique(true)\n}", "cannot have unique prop"},
		{"vector prop on int", "$TABLE a {\n a Int vector(Int)\n}", "cannot have vector prop"},
		{"autoincrement string", "$TABLE a {\n a String default(autoincrement)\n}", "requires type Int"},
		{"bad int default", "$TABLE a {\n a Int default(abc)\n}", "default(abc) is not valid"},
		{"index on object", "$TABLE a {\n a Object index(true)\n}", "cannot be indexed"},
		{"id without key", "$TABLE a {\n id String\n}", "has a field id but no primary key"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseSchema(c.schema)
			assert.ErrorContains(t, err, c.err)
		})
	}
}

func TestRelations(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		s, err := ParseSchema(`
$TABLE users {
    id Int key(primary) default(autoincrement)
    friends Vector vector(Int) relation(users.id)
}

$TABLE posts {
    author Int relation(users.id, cascade)
    editor Int optional(true) relation(users.id, setNull)
}
`)
		assert.NilError(t, err)
		author := s[1].Column("author")
		assert.Equal(t, author.Relation.OnDelete, props.OnDeleteCascade)
		assert.Equal(t, len(s[1].References()), 2)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n b Int relation(c.id)\n}")
		assert.ErrorContains(t, err, `"c" is not a valid table`)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n b Int relation(a.x)\n}")
		assert.ErrorContains(t, err, `"x" is not a valid field on table a`)
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n b String relation(a.id)\n}")
		assert.ErrorContains(t, err, "field types must match")
	})

	t.Run("set null requires optional", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n b Int relation(a.id, setNull)\n}")
		assert.ErrorContains(t, err, "setNull requires an optional field")
	})
}

func TestJSONSchema(t *testing.T) {
	s, err := ParseSchema(`
$TABLE a {
    name String
    $SCHEMA {"type": "object", "properties": {"name": {"type": "string", "minLength": 2}}}
}
`)
	assert.NilError(t, err)
	assert.NilError(t, s[0].ValidateJSONSchema(Row{"name": "ok"}))
	assert.ErrorContains(t, s[0].ValidateJSONSchema(Row{"name": "x"}), "row invalid against schema")

	_, err = NewTable(TableDef{Name: "b", JSONSchema: "{"})
	assert.ErrorContains(t, err, "invalid JSON schema")
}

func TestNewTableCopiesDef(t *testing.T) {
	def := TableDef{Name: "a", Columns: []ColumnDef{
		{Name: "b", Type: types.FieldTypeString, Props: map[props.FieldProp]string{props.FieldPropUnique: "true"}},
	}}
	table, err := NewTable(def)
	assert.NilError(t, err)

	def.Columns[0].Props[props.FieldPropUnique] = "false"
	assert.Equal(t, table.Def.Columns[1].Props[props.FieldPropUnique], "true")
	assert.Equal(t, len(def.Columns), 1)
}
