// Package parser reads the `$TABLE name { ... }` schema language into
// table and field declarations. It knows nothing about storage; the builder
// package turns declarations into live tables.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/pkg"
)

type Table struct {
	Name   string
	Fields []*Field
	// raw JSON schema from a `$SCHEMA` line inside the table block
	JSONSchema string
}

func (t *Table) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type Field struct {
	Name        string
	BuiltinType types.FieldType
	Properties  map[props.FieldProp]string
}

type LineParserState int

const (
	ParserStateTableStart LineParserState = iota
	ParserStateTableEnd
	ParserStateNewField
	ParserStateJSONSchema
	ParserStateIdle
)

type ParserData struct {
	Name         string
	Builtin_type types.FieldType
	Properties   map[props.FieldProp]string
}

const (
	table_prefix      = "$TABLE "
	table_prefix_len  = len(table_prefix)
	schema_prefix     = "$SCHEMA "
	schema_prefix_len = len(schema_prefix)
)

var (
	table_name_regex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// nested columns are declared with dotted paths
	field_name_regex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)
)

func LineParser(line string) (LineParserState, *ParserData, error) {
	if strings.HasPrefix(line, table_prefix) {
		line := strings.TrimSpace(line[table_prefix_len:])
		name_end := strings.Index(line, " ")
		if name_end <= 0 {
			return ParserStateIdle, nil, errors.New("Invalid line")
		}

		open_bracket := strings.TrimSpace(line[name_end:])
		if open_bracket != "{" {
			return ParserStateIdle, nil, errors.New("Table name cannot include space")
		}
		name := line[:name_end]
		if !table_name_regex.MatchString(name) {
			return ParserStateIdle, nil, errors.New("Table name contains invalid characters")
		}
		return ParserStateTableStart, &ParserData{Name: name}, nil
	}

	if line == "}" {
		return ParserStateTableEnd, nil, nil
	}

	if strings.HasPrefix(line, schema_prefix) {
		return ParserStateJSONSchema, &ParserData{Name: strings.TrimSpace(line[schema_prefix_len:])}, nil
	}

	if strings.HasPrefix(line, "$") {
		return ParserStateIdle, nil, errors.New("Invalid line")
	}

	splits := strings.Split(line, " ")
	splits = pkg.Filter(splits, func(s string) bool { return len(s) > 0 })
	if !field_name_regex.MatchString(splits[0]) {
		return ParserStateIdle, nil, errors.New("Field name contains invalid characters")
	}
	if len(splits) < 2 {
		return ParserStateIdle, nil, fmt.Errorf("Field %s does not have a type", splits[0])
	}

	builtin_type := types.FieldType(splits[1])
	if !builtin_type.IsValid() {
		return ParserStateIdle, nil, fmt.Errorf("Invalid field type: %s", builtin_type)
	}

	field_props, err := parseRawFieldProps(strings.Join(splits[2:], " "))
	if err != nil {
		return ParserStateIdle, nil, err
	}

	return ParserStateNewField, &ParserData{
		Name:         splits[0],
		Builtin_type: builtin_type,
		Properties:   field_props,
	}, nil
}

// ParseSchema reads every table block in schema_data. Structural checks
// that need the whole table (primary keys, relations) are left to the
// builder.
func ParseSchema(schema_data string) ([]*Table, error) {
	tables := []*Table{}
	seen := pkg.Map[string, bool]{}

	scanner := bufio.NewScanner(strings.NewReader(schema_data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line_idx := 0

	var current_table *Table

	for scanner.Scan() {
		line_idx++
		line := strings.TrimSpace(scanner.Text())

		// Ignore empty lines & comments
		if len(line) == 0 || strings.HasPrefix(line, "//") {
			continue
		}

		state, data, err := LineParser(line)
		if err != nil {
			return nil, ParseLineError(line_idx, err.Error())
		}

		switch state {
		case ParserStateTableStart:
			if current_table != nil {
				return nil, ParseLineError(line_idx, fmt.Sprintf("Table %s is not closed", current_table.Name))
			}
			if seen.Has(data.Name) {
				return nil, ParseLineError(line_idx, fmt.Sprintf("Duplicate table %s", data.Name))
			}
			seen.Set(data.Name, true)
			current_table = &Table{Name: data.Name, Fields: []*Field{}}
		case ParserStateTableEnd:
			if current_table == nil {
				return nil, ParseLineError(line_idx, "Unexpected }")
			}
			tables = append(tables, current_table)
			current_table = nil
		case ParserStateJSONSchema:
			if current_table == nil {
				return nil, ParseLineError(line_idx, "$SCHEMA outside of a table")
			}
			current_table.JSONSchema = data.Name
		case ParserStateNewField:
			if current_table == nil {
				return nil, ParseLineError(line_idx, "Field declared outside of a table")
			}
			if current_table.Field(data.Name) != nil {
				return nil, ParseLineError(line_idx, fmt.Sprintf("Duplicate field %s", data.Name))
			}
			current_table.Fields = append(current_table.Fields, &Field{
				Name:        data.Name,
				BuiltinType: data.Builtin_type,
				Properties:  data.Properties,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if current_table != nil {
		return nil, fmt.Errorf("Table %s is not closed", current_table.Name)
	}

	return tables, nil
}

func ParseLineError(line int, reason string) error {
	return fmt.Errorf("Error parsing line %d: %s", line, reason)
}
