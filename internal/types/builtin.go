package types

import "slices"

var VALID_BUILTIN_TYPES = []FieldType{
	FieldTypeInt, FieldTypeString, FieldTypeDate,
	FieldTypeFloat, FieldTypeBool, FieldTypeBytes, FieldTypeVector,
	FieldTypeUUID, FieldTypeTimeId, FieldTypeObject, FieldTypeAny,
}

type FieldType string

const (
	FieldTypeInt    FieldType = "Int"
	FieldTypeString FieldType = "String"
	FieldTypeDate   FieldType = "Date"
	FieldTypeFloat  FieldType = "Float"
	FieldTypeBool   FieldType = "Bool"
	FieldTypeBytes  FieldType = "Bytes"
	FieldTypeVector FieldType = "Vector"
	// random uuid (v4) string
	FieldTypeUUID FieldType = "UUID"
	// time ordered uuid (v7) string, sorts by creation time
	FieldTypeTimeId FieldType = "TimeId"
	FieldTypeObject FieldType = "Object"
	FieldTypeAny    FieldType = "Any"
)

func (t FieldType) IsValid() bool { return slices.Contains(VALID_BUILTIN_TYPES, t) }

func (t FieldType) IsNumeric() bool { return t == FieldTypeInt || t == FieldTypeFloat }

// CanBePrimaryKey reports whether rows of a table can be keyed by a column of
// this type.
func (t FieldType) CanBePrimaryKey() bool {
	switch t {
	case FieldTypeInt, FieldTypeFloat, FieldTypeString, FieldTypeUUID, FieldTypeTimeId:
		return true
	}
	return false
}

// CanGenerate reports whether an adapter can produce a key of this type when
// a row is written without one.
func (t FieldType) CanGenerate() bool {
	return t == FieldTypeInt || t == FieldTypeUUID || t == FieldTypeTimeId
}

// CanIndex reports whether a column of this type can carry a secondary index.
func (t FieldType) CanIndex() bool {
	switch t {
	case FieldTypeBytes, FieldTypeObject:
		return false
	}
	return true
}
