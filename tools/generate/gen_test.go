package generate_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tobsdb/tdb/internal/builder"
	gen "github.com/tobsdb/tdb/tools/generate"
	"gotest.tools/assert"
)

func createSimpleSchema(t *testing.T) []*builder.Table {
	tables, err := builder.ParseSchema(`
$TABLE a {
    id Int key(primary)
    b  String default("hello")
    c  Bytes optional(true)
    d  String unique(true)
    e  Vector vector(Int, 2)
}`)
	assert.NilError(t, err)
	return tables
}

func TestSimpleSchemaToTypescript(t *testing.T) {
	res, err := gen.SchemaToLang(createSimpleSchema(t), "ts")
	assert.NilError(t, err)

	assert.Equal(t, string(res), fmt.Sprint(`import { PrimaryKey, Unique, Default } from "tobsdb";

export type Schema = {`,
		"\n\ta: {\n",
		"\t\tid: PrimaryKey<number>;\n",
		"\t\tb: Default<string>;\n",
		"\t\tc?: Buffer;\n",
		"\t\td: Unique<string>;\n",
		"\t\te: number[][];\n",
		"\t};\n",
		"}"))
}

func TestSimpleSchemaToRust(t *testing.T) {
	res, err := gen.SchemaToLang(createSimpleSchema(t), "rs")
	assert.NilError(t, err)

	assert.Equal(t, string(res), fmt.Sprint(`use tobsdb::types::*;
use serde::{Deserialize, Serialize};
`, "\n#[derive(Serialize, Deserialize)]\npub struct A {\n",
		"\tpub id: TdbInt;\n",
		"\tpub b: Option<TdbString>;\n",
		"\tpub c: Option<TdbBytes>;\n",
		"\tpub d: TdbString;\n",
		"\tpub e: TdbVector<TdbVector<TdbInt>>;\n",
		"}\n"))
}

func TestSimpleSchemaToGo(t *testing.T) {
	res, err := gen.SchemaToLang(createSimpleSchema(t), "go")
	assert.NilError(t, err)

	assert.Equal(t, string(res), fmt.Sprint(`package schema

import . "github.com/tobsdb/tdb/pkg/client"
`, "\ntype A struct {\n",
		"\tId TdbInt `json:\"id,omitempty\"`\n",
		"\tB TdbString `json:\"b,omitempty\"`\n",
		"\tC TdbBytes `json:\"c,omitempty\"`\n",
		"\tD TdbString `json:\"d,omitempty\"`\n",
		"\tE TdbVector[TdbVector[TdbInt]] `json:\"e,omitempty\"`\n",
		"}\n"))
}

func TestSchemaToJson(t *testing.T) {
	res, err := gen.SchemaToLang(createSimpleSchema(t), "json")
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(res), `"vectorLevel": 2`))

	_, err = gen.SchemaToLang(createSimpleSchema(t), "cobol")
	assert.ErrorContains(t, err, "Unsupported Language: cobol")
}

func TestLanguage(t *testing.T) {
	for alias, name := range map[string]string{"golang": "go", "GO": "go", "rs": "rust", "ts": "typescript", "json": "json"} {
		got, err := gen.Language(alias)
		assert.NilError(t, err)
		assert.Equal(t, got, name, alias)
	}
	_, err := gen.Language("cobol")
	assert.ErrorContains(t, err, "Unsupported Language: cobol")

	assert.Equal(t, gen.LanguageNames(), "go (golang), json, rust (rs), typescript (ts)")

	by_alias, err := gen.SchemaToLang(createSimpleSchema(t), "golang")
	assert.NilError(t, err)
	by_name, err := gen.SchemaToLang(createSimpleSchema(t), "go")
	assert.NilError(t, err)
	assert.Equal(t, string(by_alias), string(by_name))
}
