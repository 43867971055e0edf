package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/tools/generate"
)

func fail(v ...any) {
	fmt.Fprintln(os.Stderr, v...)
	os.Exit(1)
}

func main() {
	var schema_path, schema, out, lang string

	flag.StringVar(&schema_path, "path", "", "Path to schema file")
	flag.StringVar(&schema, "schema", "", "Schema string. Preferred over -path")
	flag.StringVar(&out, "out", "", "Output file. Prints to stdout when empty")
	flag.StringVar(&lang, "lang", "json", "Output language. Options: "+generate.LanguageNames())
	flag.Parse()

	// reject an unknown language before reading anything
	if _, err := generate.Language(lang); err != nil {
		fail(err)
	}

	if schema == "" {
		if schema_path == "" {
			fail("Must specify either -path or -schema")
		}
		data, err := os.ReadFile(schema_path)
		if err != nil {
			fail(err)
		}
		schema = string(data)
	}

	tables, err := builder.ParseSchema(schema)
	if err != nil {
		fail("Invalid schema;", err)
	}

	data, err := generate.SchemaToLang(tables, lang)
	if err != nil {
		fail(err)
	}

	if out == "" {
		fmt.Println(string(data))
		return
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		fail(err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "Generated %s types for %d tables in %s\n", lang, len(tables), out)
}
