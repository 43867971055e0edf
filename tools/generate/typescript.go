package generate

import (
	"fmt"

	"github.com/tobsdb/tdb/internal/types"
)

func SchemaToTypescript(s []ParsedTable) []byte {
	res := `import { PrimaryKey, Unique, Default } from "tobsdb";

export type Schema = {
`
	for _, t := range s {
		table := fmt.Sprintf("\t%s: {\n%s\n\t};\n", t.Name, fieldsToTypescript(t.Fields))
		res += table
	}
	res += "}"
	return []byte(res)
}

func fieldsToTypescript(fields []ParsedField) string {
	res := ""
	for i, f := range fields {
		optional := ""
		if f.Optional {
			optional = "?"
		}
		res += fmt.Sprintf("\t\t%s%s: %s;", f.Name, optional, wrapTypescript(f))
		if i < len(fields)-1 {
			res += "\n"
		}
	}
	return res
}

func wrapTypescript(f ParsedField) string {
	res := tdbTypeToTypescript(f)
	if f.Primary {
		res = fmt.Sprintf("PrimaryKey<%s>", res)
	}
	if f.Unique {
		res = fmt.Sprintf("Unique<%s>", res)
	}
	if f.HasDefault {
		res = fmt.Sprintf("Default<%s>", res)
	}
	return res
}

func tdbTypeToTypescript(f ParsedField) string {
	switch f.Type {
	case types.FieldTypeInt, types.FieldTypeFloat:
		return "number"
	case types.FieldTypeString, types.FieldTypeUUID, types.FieldTypeTimeId:
		return "string"
	case types.FieldTypeBool:
		return "boolean"
	case types.FieldTypeDate:
		return "Date"
	case types.FieldTypeBytes:
		return "Buffer"
	case types.FieldTypeObject:
		return "Record<string, unknown>"
	case types.FieldTypeVector:
		return fmt.Sprintf("%s[]", tdbTypeToTypescript(f.elemType()))
	}
	return "unknown"
}
