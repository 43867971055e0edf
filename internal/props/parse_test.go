package props_test

import (
	"testing"

	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
	"gotest.tools/assert"
)

func TestParseRelationPropSafe(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		rel, err := props.ParseRelationPropSafe("table.field")
		assert.NilError(t, err)
		assert.Equal(t, "table", rel.Table)
		assert.Equal(t, "field", rel.Field)
		assert.Equal(t, props.OnDeleteRestrict, rel.OnDelete)
	})

	t.Run("with policy", func(t *testing.T) {
		rel, err := props.ParseRelationPropSafe("users.id, cascade")
		assert.NilError(t, err)
		assert.Equal(t, "users", rel.Table)
		assert.Equal(t, props.OnDeleteCascade, rel.OnDelete)
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := props.ParseRelationPropSafe("users.id, explode")
		assert.ErrorContains(t, err, "unknown onDelete policy explode")
	})

	t.Run("bad syntax", func(t *testing.T) {
		_, err := props.ParseRelationPropSafe("table:field")
		assert.ErrorContains(t, err, "Invalid syntax: relation(table:field)")
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := props.ParseRelationPropSafe("table.")
		assert.ErrorContains(t, err, "Invalid syntax: relation(table.)")
	})
}

func TestParseVectorPropSafe(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		v_type, v_level, err := props.ParseVectorPropSafe("String, 4")
		assert.NilError(t, err)
		assert.Equal(t, v_type, types.FieldTypeString)
		assert.Equal(t, v_level, 4)
	})

	t.Run("bad syntax", func(t *testing.T) {
		_, _, err := props.ParseVectorPropSafe("String, 4, 1")
		assert.ErrorContains(t, err, "Invalid syntax: vector(String, 4, 1)")
	})

	t.Run("invalid type", func(t *testing.T) {
		_, _, err := props.ParseVectorPropSafe("Number")
		assert.ErrorContains(t, err, "Number is not a valid type")
	})

	t.Run("invalid level value", func(t *testing.T) {
		_, _, err := props.ParseVectorPropSafe("Int, 0")
		assert.ErrorContains(t, err, "vector(Int, 0) is not a valid prop")
	})
}

func TestParseBoundPropSafe(t *testing.T) {
	v, err := props.ParseBoundPropSafe(props.FieldPropMin, " 2.5")
	assert.NilError(t, err)
	assert.Equal(t, v, 2.5)

	_, err = props.ParseBoundPropSafe(props.FieldPropMax, "ten")
	assert.ErrorContains(t, err, "max(ten) is not a valid prop")
}
