package parser_test

import (
	"testing"

	. "github.com/tobsdb/tdb/internal/parser"
	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
	"gotest.tools/assert"
)

func TestLineParser(t *testing.T) {
	t.Run("table declaration", func(t *testing.T) {
		state, data, err := LineParser("$TABLE a {")

		assert.NilError(t, err)
		assert.Equal(t, state, ParserStateTableStart)
		assert.Equal(t, data.Name, "a")
	})

	t.Run("table missing name", func(t *testing.T) {
		state, _, err := LineParser("$TABLE {")

		assert.ErrorContains(t, err, "Invalid line")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("table declaration missing opening bracket", func(t *testing.T) {
		state, _, err := LineParser("$TABLE a")

		assert.ErrorContains(t, err, "Invalid line")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("table name with space", func(t *testing.T) {
		state, _, err := LineParser("$TABLE a b {")

		assert.ErrorContains(t, err, "Table name cannot include space")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("table name invalid character", func(t *testing.T) {
		state, _, err := LineParser("$TABLE a-b {")

		assert.ErrorContains(t, err, "Table name contains invalid characters")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("table declaration end", func(t *testing.T) {
		state, _, err := LineParser("}")

		assert.NilError(t, err)
		assert.Equal(t, state, ParserStateTableEnd)
	})

	t.Run("field declaration", func(t *testing.T) {
		state, data, err := LineParser("a Int unique(true)")

		assert.NilError(t, err)
		assert.Equal(t, state, ParserStateNewField)
		assert.Equal(t, data.Name, "a")
		assert.Equal(t, data.Builtin_type, types.FieldTypeInt)
	})

	t.Run("field name invalid character", func(t *testing.T) {
		state, _, err := LineParser("a-b Int")

		assert.ErrorContains(t, err, "Field name contains invalid characters")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("field declaration without type", func(t *testing.T) {
		state, _, err := LineParser("a")

		assert.ErrorContains(t, err, "Field a does not have a type")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("field declaration with unknown type", func(t *testing.T) {
		state, _, err := LineParser("a Number")

		assert.ErrorContains(t, err, "Invalid field type: Number")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("unknown field prop", func(t *testing.T) {
		state, _, err := LineParser("a Int x(true)")

		assert.ErrorContains(t, err, "Invalid field prop: x")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("field prop with no value", func(t *testing.T) {
		state, _, err := LineParser("a Int unique()")

		assert.ErrorContains(t, err, "No value for prop: unique")
		assert.Equal(t, state, ParserStateIdle)
	})

	t.Run("invalid field prop value", func(t *testing.T) {
		state, _, err := LineParser("a Int optional(x)")

		assert.ErrorContains(t, err, "optional(x) is not a valid prop")
		assert.Equal(t, state, ParserStateIdle)
	})
}

func TestParseSchema(t *testing.T) {
	tables, err := ParseSchema(`
// users of the app
$TABLE users {
    id Int key(primary) default(autoincrement)
    email String unique(true)
    profile.age Int optional(true) min(0)
    $SCHEMA {"type": "object"}
}

$TABLE posts {
    author Int relation(users.id, cascade) index(true)
    tags Vector vector(String)
}
`)
	assert.NilError(t, err)
	assert.Equal(t, len(tables), 2)

	users := tables[0]
	assert.Equal(t, users.Name, "users")
	assert.Equal(t, len(users.Fields), 3)
	assert.Equal(t, users.Fields[2].Name, "profile.age")
	assert.Equal(t, users.JSONSchema, `{"type": "object"}`)
	assert.Assert(t, users.Field("email").BoolProp(props.FieldPropUnique))
	assert.Assert(t, !users.Field("email").BoolProp(props.FieldPropOptional))

	posts := tables[1]
	assert.Equal(t, posts.Field("author").Properties[props.FieldPropRelation], "users.id, cascade")
	assert.Equal(t, posts.Field("tags").BuiltinType, types.FieldTypeVector)
}

func TestParseSchemaErrors(t *testing.T) {
	t.Run("duplicate table", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n a Int\n}\n$TABLE a {\n b Int\n}")
		assert.ErrorContains(t, err, "Error parsing line 4: Duplicate table a")
	})

	t.Run("duplicate field", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n a Int\n a String\n}")
		assert.ErrorContains(t, err, "Duplicate field a")
	})

	t.Run("unclosed table", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n a Int\n")
		assert.ErrorContains(t, err, "Table a is not closed")
	})

	t.Run("field outside table", func(t *testing.T) {
		_, err := ParseSchema("a Int")
		assert.ErrorContains(t, err, "Field declared outside of a table")
	})

	t.Run("bad relation policy", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n b Int relation(c.d, explode)\n}")
		assert.ErrorContains(t, err, "unknown onDelete policy explode")
	})

	t.Run("bad key prop", func(t *testing.T) {
		_, err := ParseSchema("$TABLE a {\n b Int key(secondary)\n}")
		assert.ErrorContains(t, err, "key(secondary) is not a valid prop")
	})
}
