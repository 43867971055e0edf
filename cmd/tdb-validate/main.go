package main

import (
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/tobsdb/tdb/internal/builder"
)

func main() {
	verbose := flag.Bool("v", false, "print the parsed tables")
	flag.Parse()

	schema_path := "./schema.tdb"
	if flag.NArg() > 0 {
		schema_path = flag.Arg(0)
	}
	if !path.IsAbs(schema_path) {
		cwd, _ := os.Getwd()
		schema_path = path.Join(cwd, schema_path)
	}

	fmt.Printf("Checking %s for errors\n", schema_path)

	schema_data, err := os.ReadFile(schema_path)
	if err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}

	tables, err := builder.ParseSchema(string(schema_data))
	if err != nil {
		fmt.Printf("Invalid schema; %s\n", err.Error())
		os.Exit(1)
	}

	if *verbose {
		for _, t := range tables {
			fmt.Printf("$TABLE %s (%d indexes)\n", t.Name, len(t.Indexes))
			for _, c := range t.Columns.Values() {
				fmt.Printf("    %s\n", c.Describe())
			}
		}
	}

	fmt.Printf("Schema checks successful: %d tables are valid\n", len(tables))
}
