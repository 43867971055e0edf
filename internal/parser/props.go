package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tobsdb/tdb/internal/props"
)

var field_prop_regex = regexp.MustCompile(`(\w+)\(([^)]*)\)`)

func parseRawFieldProps(raw string) (map[props.FieldProp]string, error) {
	field_props := make(map[props.FieldProp]string)

	for _, match := range field_prop_regex.FindAllStringSubmatch(raw, -1) {
		prop, value := props.FieldProp(match[1]), strings.TrimSpace(match[2])
		if !prop.IsValid() {
			return nil, fmt.Errorf("Invalid field prop: %s", prop)
		}
		if len(value) == 0 {
			return nil, fmt.Errorf("No value for prop: %s", prop)
		}
		if err := validateProp(prop, value); err != nil {
			return nil, err
		}
		field_props[prop] = value
	}

	return field_props, nil
}

func validateProp(prop props.FieldProp, value string) error {
	switch prop {
	case props.FieldPropOptional, props.FieldPropUnique, props.FieldPropIndex, props.FieldPropImmutable:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s(%s) is not a valid prop", prop, value)
		}
	case props.FieldPropKey:
		if value != props.KeyPropPrimary {
			return fmt.Errorf("%s(%s) is not a valid prop", prop, value)
		}
	case props.FieldPropVector:
		_, _, err := props.ParseVectorPropSafe(value)
		return err
	case props.FieldPropRelation:
		_, err := props.ParseRelationPropSafe(value)
		return err
	case props.FieldPropMin, props.FieldPropMax:
		_, err := props.ParseBoundPropSafe(prop, value)
		return err
	}
	return nil
}

// BoolProp reads a true/false prop, false when absent.
func (f *Field) BoolProp(prop props.FieldProp) bool {
	v, ok := f.Properties[prop]
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}
