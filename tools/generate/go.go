package generate

import (
	"fmt"

	"github.com/tobsdb/tdb/internal/types"
)

func SchemaToGo(s []ParsedTable) []byte {
	res := `package schema

import . "github.com/tobsdb/tdb/pkg/client"
`

	for _, t := range s {
		table := fmt.Sprintf("\ntype %s struct {\n%s\n}\n",
			toPascalCase(t.Name), fieldsToGo(t.Fields))
		res += table
	}

	return []byte(res)
}

func fieldsToGo(fields []ParsedField) string {
	res := ""
	for i, f := range fields {
		res += fmt.Sprintf("\t%s %s `json:\"%s,omitempty\"`", toPascalCase(f.Name), tdbTypeToGo(f), f.Name)
		if i < len(fields)-1 {
			res += "\n"
		}
	}
	return res
}

func tdbTypeToGo(f ParsedField) string {
	switch f.Type {
	case types.FieldTypeInt:
		return "TdbInt"
	case types.FieldTypeFloat:
		return "TdbFloat"
	case types.FieldTypeString, types.FieldTypeUUID, types.FieldTypeTimeId:
		return "TdbString"
	case types.FieldTypeBool:
		return "TdbBool"
	case types.FieldTypeDate:
		return "TdbDate"
	case types.FieldTypeBytes:
		return "TdbBytes"
	case types.FieldTypeObject:
		return "TdbObject"
	case types.FieldTypeVector:
		return fmt.Sprintf("TdbVector[%s]", tdbTypeToGo(f.elemType()))
	}
	return "any"
}
