package generate

import (
	"fmt"

	"github.com/tobsdb/tdb/internal/types"
)

func SchemaToRust(s []ParsedTable) []byte {
	res := `use tobsdb::types::*;
use serde::{Deserialize, Serialize};
`

	for _, t := range s {
		table := fmt.Sprintf("\n#[derive(Serialize, Deserialize)]\npub struct %s {\n%s\n}\n",
			toPascalCase(t.Name), fieldsToRust(t.Fields))
		res += table
	}

	return []byte(res)
}

func fieldsToRust(fields []ParsedField) string {
	res := ""
	for i, f := range fields {
		typ := tdbTypeToRust(f)
		if f.HasDefault || f.Optional {
			typ = fmt.Sprintf("Option<%s>", typ)
		}
		res += fmt.Sprintf("\tpub %s: %s;", f.Name, typ)
		if i < len(fields)-1 {
			res += "\n"
		}
	}
	return res
}

func tdbTypeToRust(f ParsedField) string {
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
	case types.FieldTypeVector:
		return fmt.Sprintf("TdbVector<%s>", tdbTypeToRust(f.elemType()))
	}
	return "serde_json::Value"
}
