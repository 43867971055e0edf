package generate

import (
	"strings"

	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/types"
)

func toPascalCase(t string) string {
	res := ""
	for _, v := range strings.FieldsFunc(t, func(r rune) bool { return r == '_' || r == '.' }) {
		res += strings.ToUpper(v[0:1]) + v[1:]
	}
	return res
}

type (
	ParsedTable struct {
		Name   string        `json:"name"`
		Fields []ParsedField `json:"fields"`
	}

	ParsedField struct {
		Name        string          `json:"name"`
		Type        types.FieldType `json:"type"`
		VectorType  types.FieldType `json:"vectorType,omitempty"`
		VectorLevel int             `json:"vectorLevel,omitempty"`
		Primary     bool            `json:"primary,omitempty"`
		Unique      bool            `json:"unique,omitempty"`
		Optional    bool            `json:"optional,omitempty"`
		Default     string          `json:"default,omitempty"`
		HasDefault  bool            `json:"hasDefault,omitempty"`
		Relation    string          `json:"relation,omitempty"`
	}
)

func schemaDestructure(tables []*builder.Table) []ParsedTable {
	res := []ParsedTable{}
	for _, t := range tables {
		fields := []ParsedField{}
		for _, c := range t.Columns.Values() {
			f := ParsedField{
				Name:        c.Key,
				Type:        c.Type,
				VectorType:  c.VectorType,
				VectorLevel: c.VectorLevel,
				Primary:     c.Primary,
				Unique:      c.Unique,
				Optional:    c.Optional,
				Default:     c.Default,
				HasDefault:  c.HasDefault,
			}
			if c.Relation != nil {
				f.Relation = c.Relation.Table + "." + c.Relation.Field
			}
			fields = append(fields, f)
		}
		res = append(res, ParsedTable{t.Name, fields})
	}
	return res
}

// elemType is the field one level down a vector field.
func (f ParsedField) elemType() ParsedField {
	if f.VectorLevel > 1 {
		return ParsedField{Type: types.FieldTypeVector, VectorType: f.VectorType, VectorLevel: f.VectorLevel - 1}
	}
	return ParsedField{Type: f.VectorType}
}
