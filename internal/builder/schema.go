package builder

import (
	"fmt"

	"github.com/tobsdb/tdb/internal/parser"
	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
)

type ColumnDef struct {
	Name  string                     `json:"name"`
	Type  types.FieldType            `json:"type"`
	Props map[props.FieldProp]string `json:"props,omitempty"`
}

// TableDef is the declarative form of a table, either decoded from a
// `create table` query or read from the schema language.
type TableDef struct {
	Name       string      `json:"name"`
	Columns    []ColumnDef `json:"columns"`
	JSONSchema string      `json:"jsonSchema,omitempty"`
}

func DefFromParser(t *parser.Table) TableDef {
	def := TableDef{Name: t.Name, JSONSchema: t.JSONSchema, Columns: make([]ColumnDef, len(t.Fields))}
	for i, f := range t.Fields {
		def.Columns[i] = ColumnDef{Name: f.Name, Type: f.BuiltinType, Props: f.Properties}
	}
	return def
}

// ParseSchema reads every table declared in schema_data and checks the
// relations between them.
func ParseSchema(schema_data string) ([]*Table, error) {
	parsed, err := parser.ParseSchema(schema_data)
	if err != nil {
		return nil, invalidSchemaError("%s", err.Error())
	}

	tables := make([]*Table, 0, len(parsed))
	by_name := map[string]*Table{}
	for _, p := range parsed {
		t, err := NewTable(DefFromParser(p))
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
		by_name[t.Name] = t
	}

	lookup := func(name string) *Table { return by_name[name] }
	for _, t := range tables {
		if err := ValidateRelations(t, lookup); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// ValidateRelations allows relations to be defined with non-unique fields.
//
// This logic means that relations defined with unique fields are 1-to-1
// relations, while relations defined with non-unique fields are 1-to-many.
//
// vector -> non-vector type relations are one-to-many;
// non-vector -> vector type relations are many-to-one;
// vector -> vector type relations are many-to-many;
//
// it is assumed that a vector field that is a relation is a vector of
// individual relations and not a relation as a vector itself
func ValidateRelations(table *Table, lookup func(string) *Table) error {
	for _, field := range table.References() {
		rel := field.Relation
		invalidRelationError := ThrowInvalidRelationError(table.Name, rel.Table, field.Key)

		rel_table := lookup(rel.Table)
		if rel.Table == table.Name {
			rel_table = table
		}
		if rel_table == nil {
			return invalidRelationError(fmt.Sprintf("\"%s\" is not a valid table", rel.Table))
		}

		rel_field := rel_table.Column(rel.Field)
		if rel_field == nil {
			return invalidRelationError(
				fmt.Sprintf("\"%s\" is not a valid field on table %s", rel.Field, rel.Table),
			)
		}

		if rel.OnDelete == props.OnDeleteSetNull && !field.Optional {
			return invalidRelationError("onDelete setNull requires an optional field")
		}

		if rel_field.Type != field.Type {
			// check vector <-> non-vector relations
			if field.Type == types.FieldTypeVector {
				if field.VectorLevel > 1 {
					return invalidRelationError("nested vector fields cannot be relations")
				}
				if rel_field.Type != field.VectorType {
					return invalidRelationError("field types must match")
				}
			} else if rel_field.Type == types.FieldTypeVector {
				if field.Type != rel_field.VectorType {
					return invalidRelationError("field types must match")
				}
			} else {
				return invalidRelationError("field types must match")
			}
		}

		// check vector types & levels are the same
		if field.Type == types.FieldTypeVector && rel_field.Type == types.FieldTypeVector {
			if field.VectorType != rel_field.VectorType || field.VectorLevel != rel_field.VectorLevel {
				return invalidRelationError("field types must match")
			}
		}
	}

	return nil
}

func ThrowInvalidRelationError(table_name, rel_table_name, field_name string) func(string) error {
	return func(reason string) error {
		return invalidSchemaError(
			"Invalid relation between %s and %s in field %s; %s",
			table_name, rel_table_name, field_name, reason,
		)
	}
}
