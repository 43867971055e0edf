package props

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tobsdb/tdb/internal/types"
)

type Relation struct {
	Table    string
	Field    string
	OnDelete OnDelete
}

// ParseRelationPropSafe parses `table.field` with an optional `, onDelete`
// policy. The policy defaults to restrict.
func ParseRelationPropSafe(relation string) (Relation, error) {
	target, policy, has_policy := strings.Cut(relation, ",")
	parsed_rel := strings.Split(target, ".")
	if len(parsed_rel) != 2 {
		return Relation{}, fmt.Errorf("Invalid syntax: relation(%s)", relation)
	}
	table, field := strings.TrimSpace(parsed_rel[0]), strings.TrimSpace(parsed_rel[1])
	if len(table) == 0 || len(field) == 0 {
		return Relation{}, fmt.Errorf("Invalid syntax: relation(%s)", relation)
	}

	on_delete := OnDeleteRestrict
	if has_policy {
		on_delete = OnDelete(strings.TrimSpace(policy))
		if !on_delete.IsValid() {
			return Relation{}, fmt.Errorf("relation(%s) is not a valid prop; unknown onDelete policy %s", relation, on_delete)
		}
	}
	return Relation{Table: table, Field: field, OnDelete: on_delete}, nil
}

func ParseVectorPropSafe(value string) (types.FieldType, int, error) {
	parsed_val := strings.Split(value, ",")

	if len(parsed_val) == 0 || len(parsed_val) > 2 {
		return "", 0, fmt.Errorf("Invalid syntax: vector(%s)", value)
	}

	v_type := types.FieldType(strings.TrimSpace(parsed_val[0]))
	if !v_type.IsValid() {
		return "", 0, fmt.Errorf("vector(%s) is not a valid prop; %s is not a valid type", value, v_type)
	}

	if len(parsed_val) < 2 {
		return v_type, 1, nil
	}

	v_level, err := strconv.ParseInt(strings.TrimSpace(parsed_val[1]), 10, 0)
	if err != nil {
		return "", 0, fmt.Errorf("vector(%s) is not a valid prop; %s", value, err.Error())
	} else if v_level < 1 {
		return "", 0, fmt.Errorf("vector(%s) is not a valid prop; level must be >= 1", value)
	}

	return v_type, int(v_level), nil
}

func ParseBoundPropSafe(prop FieldProp, value string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s(%s) is not a valid prop; %s", prop, value, err.Error())
	}
	return v, nil
}
