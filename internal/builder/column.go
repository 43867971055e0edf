package builder

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/props"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
)

type Column struct {
	// dotted path of the value inside a row
	Key  string
	Path []string
	Type types.FieldType

	// element type and nesting depth of Vector columns
	VectorType  types.FieldType
	VectorLevel int

	Default    string
	HasDefault bool
	Optional   bool
	Primary    bool
	Unique     bool
	Indexed    bool
	Immutable  bool
	Min, Max   *float64
	Relation   *props.Relation

	IncrementTracker atomic.Int64
}

func newColumn(def ColumnDef) (*Column, error) {
	c := &Column{Key: def.Name, Path: path.Split(def.Name), Type: def.Type}
	p := def.Props

	boolProp := func(prop props.FieldProp) bool {
		b, _ := strconv.ParseBool(p[prop])
		return b
	}
	c.Optional = boolProp(props.FieldPropOptional)
	c.Unique = boolProp(props.FieldPropUnique)
	c.Indexed = boolProp(props.FieldPropIndex)
	c.Immutable = boolProp(props.FieldPropImmutable)
	c.Primary = p[props.FieldPropKey] == props.KeyPropPrimary
	c.Default, c.HasDefault = p[props.FieldPropDefault]

	if v, ok := p[props.FieldPropVector]; ok {
		v_type, v_level, err := props.ParseVectorPropSafe(v)
		if err != nil {
			return nil, err
		}
		c.VectorType, c.VectorLevel = v_type, v_level
	} else if c.Type == types.FieldTypeVector {
		c.VectorType, c.VectorLevel = types.FieldTypeAny, 1
	}

	for _, prop := range []props.FieldProp{props.FieldPropMin, props.FieldPropMax} {
		v, ok := p[prop]
		if !ok {
			continue
		}
		bound, err := props.ParseBoundPropSafe(prop, v)
		if err != nil {
			return nil, err
		}
		if prop == props.FieldPropMin {
			c.Min = &bound
		} else {
			c.Max = &bound
		}
	}

	if v, ok := p[props.FieldPropRelation]; ok {
		rel, err := props.ParseRelationPropSafe(v)
		if err != nil {
			return nil, err
		}
		c.Relation = &rel
	}

	if err := c.checkRules(); err != nil {
		return nil, err
	}
	return c, nil
}

// column local rules:
// - primary key type must be usable as a storage key
// - can't have key primary and optional prop true
// - can't have Vector/Bytes/Object type and default prop
// - can't have Vector type and unique prop true
// - can't have vector prop on non-vector type
// - generated defaults must match the column type
func (c *Column) checkRules() error {
	if c.Primary {
		if !c.Type.CanBePrimaryKey() {
			return invalidSchemaError("field(%s %s key(primary)) cannot be a primary key", c.Key, c.Type)
		}
		if c.Optional {
			return invalidSchemaError("field(%s %s key(primary)) cannot be optional", c.Key, c.Type)
		}
	}

	switch c.Type {
	case types.FieldTypeVector, types.FieldTypeBytes, types.FieldTypeObject:
		if c.HasDefault {
			return invalidSchemaError("field(%s %s) cannot have default prop", c.Key, c.Type)
		}
	}

	if c.Type == types.FieldTypeVector && c.Unique {
		return invalidSchemaError("field(%s %s) cannot have unique prop", c.Key, c.Type)
	}

	if c.VectorLevel > 0 && c.Type != types.FieldTypeVector {
		return invalidSchemaError("field(%s %s) cannot have vector prop", c.Key, c.Type)
	}

	if (c.Unique || c.Indexed) && !c.Type.CanIndex() {
		return invalidSchemaError("field(%s %s) cannot be indexed", c.Key, c.Type)
	}
	if (c.Unique || c.Indexed) && c.Type == types.FieldTypeVector && c.VectorLevel > 1 {
		return invalidSchemaError("field(%s %s) nested vectors cannot be indexed", c.Key, c.Type)
	}

	if c.HasDefault {
		switch c.Default {
		case props.DefaultPropAutoIncrement:
			if c.Type != types.FieldTypeInt {
				return invalidSchemaError("field(%s %s) default(autoincrement) requires type Int", c.Key, c.Type)
			}
		case props.DefaultPropNow:
			if c.Type != types.FieldTypeDate {
				return invalidSchemaError("field(%s %s) default(now) requires type Date", c.Key, c.Type)
			}
		case props.DefaultPropUUID:
			if c.Type != types.FieldTypeUUID && c.Type != types.FieldTypeString {
				return invalidSchemaError("field(%s %s) default(uuid) requires type UUID or String", c.Key, c.Type)
			}
		default:
			if _, err := c.parseDefault(); err != nil {
				return invalidSchemaError("field(%s %s) default(%s) is not valid; %s", c.Key, c.Type, c.Default, err.Error())
			}
		}
	}

	return nil
}

// GeneratedKey reports whether the storage adapter fills this primary key
// in when a row is written without it.
func (c *Column) GeneratedKey() bool {
	if !c.Primary {
		return false
	}
	switch c.Type {
	case types.FieldTypeUUID, types.FieldTypeTimeId:
		return true
	case types.FieldTypeInt:
		return c.HasDefault && c.Default == props.DefaultPropAutoIncrement
	}
	return false
}

func (c *Column) AutoIncrement() int {
	return int(c.IncrementTracker.Add(1))
}

// SeedIncrement moves the autoincrement tracker past v.
func (c *Column) SeedIncrement(v any) {
	n := int64(pkg.NumToInt(v))
	for {
		cur := c.IncrementTracker.Load()
		if n <= cur || c.IncrementTracker.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (c *Column) parseDefault() (any, error) {
	switch c.Type {
	case types.FieldTypeInt:
		v, err := strconv.ParseInt(c.Default, 10, 0)
		return int(v), err
	case types.FieldTypeFloat:
		return strconv.ParseFloat(c.Default, 64)
	case types.FieldTypeBool:
		return strconv.ParseBool(c.Default)
	case types.FieldTypeString, types.FieldTypeUUID, types.FieldTypeTimeId, types.FieldTypeAny:
		// we assume the user's text starts and ends with " or '
		if len(c.Default) >= 2 && (c.Default[0] == '"' || c.Default[0] == '\'') && c.Default[len(c.Default)-1] == c.Default[0] {
			return c.Default[1 : len(c.Default)-1], nil
		}
		return c.Default, nil
	case types.FieldTypeDate:
		ts, ok := values.Timestamp(c.Default)
		if !ok {
			return nil, fmt.Errorf("cannot parse %s as a date", c.Default)
		}
		return time.UnixMilli(ts).UTC(), nil
	}
	return nil, fmt.Errorf("type %s has no defaults", c.Type)
}

// DefaultValue produces the value stored when the column is absent. ok is
// false when the column has no default, or when the value is left for the
// storage adapter to generate (primary keys).
func (c *Column) DefaultValue() (any, bool) {
	if !c.HasDefault {
		return nil, false
	}
	switch c.Default {
	case props.DefaultPropAutoIncrement:
		if c.GeneratedKey() {
			return nil, false
		}
		return c.AutoIncrement(), true
	case props.DefaultPropNow:
		return time.Now().UTC(), true
	case props.DefaultPropUUID:
		if c.GeneratedKey() {
			return nil, false
		}
		return uuid.NewString(), true
	}
	v, err := c.parseDefault()
	return v, err == nil
}

// Validate checks input against the column's type and bounds and returns
// the stored representation. A nil input yields nil for optional columns
// and generated keys, and an error otherwise.
func (c *Column) Validate(input any) (any, error) {
	if input == nil {
		if c.Optional || c.GeneratedKey() {
			return nil, nil
		}
		return nil, invalidColumnError("Missing value for %s", c.Key)
	}

	v, err := validateType(c.Key, c.Type, c.VectorType, c.VectorLevel, input)
	if err != nil {
		return nil, err
	}
	if err := c.checkBounds(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Column) checkBounds(v any) error {
	if c.Min == nil && c.Max == nil {
		return nil
	}

	var n float64
	switch v := v.(type) {
	case string:
		n = float64(utf8.RuneCountInString(v))
	case []byte:
		n = float64(len(v))
	case []any:
		n = float64(len(v))
	default:
		f, ok := values.ToFloat(v)
		if !ok {
			return nil
		}
		n = f
	}

	if c.Min != nil && n < *c.Min {
		return invalidColumnError("Value for %s must be at least %v", c.Key, *c.Min)
	}
	if c.Max != nil && n > *c.Max {
		return invalidColumnError("Value for %s must be at most %v", c.Key, *c.Max)
	}
	return nil
}

func validateType(name string, t types.FieldType, v_type types.FieldType, v_level int, input any) (any, error) {
	switch t {
	case types.FieldTypeInt:
		return validateTypeInt(name, input)
	case types.FieldTypeFloat:
		return validateTypeFloat(name, input)
	case types.FieldTypeString:
		return validateTypeString(name, input)
	case types.FieldTypeUUID, types.FieldTypeTimeId:
		return validateTypeUUID(name, input)
	case types.FieldTypeDate:
		return validateTypeDate(name, input)
	case types.FieldTypeBool:
		return validateTypeBool(name, input)
	case types.FieldTypeVector:
		return validateTypeVector(name, v_type, v_level, input)
	case types.FieldTypeBytes:
		return validateTypeBytes(name, input)
	case types.FieldTypeObject:
		return validateTypeObject(name, input)
	case types.FieldTypeAny:
		return input, nil
	}
	// if schema validation is working properly this error should never occur
	return nil, invalidColumnError("Unsupported field type for %s: %s", name, t)
}

func invalidFieldTypeError(input any, field_name string) error {
	return invalidColumnError("Invalid field type for %s: %T", field_name, input)
}

func validateTypeInt(name string, input any) (any, error) {
	if f, ok := values.ToFloat(input); ok {
		if f != float64(int64(f)) {
			return nil, invalidColumnError("Invalid value for %s: %v is not an integer", name, input)
		}
		return int(f), nil
	}
	return nil, invalidFieldTypeError(input, name)
}

func validateTypeFloat(name string, input any) (any, error) {
	if f, ok := values.ToFloat(input); ok {
		return f, nil
	}
	return nil, invalidFieldTypeError(input, name)
}

func validateTypeString(name string, input any) (any, error) {
	if s, ok := input.(string); ok {
		return s, nil
	}
	return nil, invalidFieldTypeError(input, name)
}

func validateTypeUUID(name string, input any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return nil, invalidFieldTypeError(input, name)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, invalidColumnError("Invalid value for %s: %s", name, err.Error())
	}
	return id.String(), nil
}

func validateTypeDate(name string, input any) (any, error) {
	switch input := input.(type) {
	case time.Time:
		return input, nil
	case string, int, int64, float64:
		ts, ok := values.Timestamp(input)
		if !ok {
			return nil, invalidColumnError("Invalid value for %s: cannot parse %v as a date", name, input)
		}
		return time.UnixMilli(ts).UTC(), nil
	}
	return nil, invalidFieldTypeError(input, name)
}

func validateTypeBool(name string, input any) (any, error) {
	switch input := input.(type) {
	case bool:
		return input, nil
	case string:
		val, err := strconv.ParseBool(input)
		if err != nil {
			return nil, invalidFieldTypeError(input, name)
		}
		return val, nil
	}
	return nil, invalidFieldTypeError(input, name)
}

func validateTypeVector(name string, v_type types.FieldType, v_level int, input any) (any, error) {
	list, ok := values.ToSlice(input)
	if !ok {
		return nil, invalidFieldTypeError(input, name)
	}

	out := make([]any, len(list))
	for i, e := range list {
		e_name := fmt.Sprintf("%s[%d]", name, i)
		if e == nil {
			continue
		}
		var err error
		if v_level > 1 {
			out[i], err = validateTypeVector(e_name, v_type, v_level-1, e)
		} else {
			out[i], err = validateType(e_name, v_type, "", 0, e)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validateTypeBytes(name string, input any) (any, error) {
	switch input := input.(type) {
	case []byte:
		return input, nil
	case string:
		return []byte(input), nil
	}
	return nil, invalidFieldTypeError(input, name)
}

func validateTypeObject(name string, input any) (any, error) {
	switch input := input.(type) {
	case map[string]any:
		return input, nil
	case pkg.Map[string, any]:
		return map[string]any(input), nil
	}
	return nil, invalidFieldTypeError(input, name)
}

// Describe renders the column the way it is declared in a schema.
func (c *Column) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", c.Key, c.Type)
	if c.Primary {
		b.WriteString(" key(primary)")
	}
	if c.VectorLevel > 0 {
		fmt.Fprintf(&b, " vector(%s, %d)", c.VectorType, c.VectorLevel)
	}
	if c.HasDefault {
		fmt.Fprintf(&b, " default(%s)", c.Default)
	}
	if c.Optional {
		b.WriteString(" optional(true)")
	}
	if c.Unique {
		b.WriteString(" unique(true)")
	}
	if c.Indexed {
		b.WriteString(" index(true)")
	}
	if c.Immutable {
		b.WriteString(" immutable(true)")
	}
	if c.Min != nil {
		fmt.Fprintf(&b, " min(%v)", *c.Min)
	}
	if c.Max != nil {
		fmt.Fprintf(&b, " max(%v)", *c.Max)
	}
	if c.Relation != nil {
		fmt.Fprintf(&b, " relation(%s.%s, %s)", c.Relation.Table, c.Relation.Field, c.Relation.OnDelete)
	}
	return b.String()
}
