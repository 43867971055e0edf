package props

import "slices"

type FieldProp string

var VALID_BUILTIN_PROPS = []FieldProp{
	FieldPropOptional, FieldPropDefault, FieldPropRelation,
	FieldPropKey, FieldPropUnique, FieldPropVector,
	FieldPropIndex, FieldPropImmutable, FieldPropMin, FieldPropMax,
}

const (
	FieldPropOptional  FieldProp = "optional" // optional(true/false)
	FieldPropDefault   FieldProp = "default"
	FieldPropRelation  FieldProp = "relation" // relation(table.field, onDelete)
	FieldPropKey       FieldProp = "key"
	FieldPropUnique    FieldProp = "unique"    // unique(true/false)
	FieldPropVector    FieldProp = "vector"    // vector(type, level)
	FieldPropIndex     FieldProp = "index"     // index(true/false)
	FieldPropImmutable FieldProp = "immutable" // immutable(true/false)
	FieldPropMin       FieldProp = "min"
	FieldPropMax       FieldProp = "max"
)

func (p FieldProp) IsValid() bool {
	return slices.Contains(VALID_BUILTIN_PROPS, p)
}

const KeyPropPrimary string = "primary"

const (
	DefaultPropAutoIncrement string = "autoincrement"
	DefaultPropNow           string = "now"
	DefaultPropUUID          string = "uuid"
)

type OnDelete string

const (
	OnDeleteRestrict OnDelete = "restrict"
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteSetNull  OnDelete = "setNull"
)

func (o OnDelete) IsValid() bool {
	switch o {
	case OnDeleteRestrict, OnDeleteCascade, OnDeleteSetNull:
		return true
	}
	return false
}
