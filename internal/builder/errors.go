package builder

import "github.com/pkg/errors"

var (
	ErrMalformedClause     = errors.New("malformed clause")
	ErrUnknownFunction     = errors.New("unknown function")
	ErrMissingPrimaryKey   = errors.New("missing primary key")
	ErrUniqueConstraint    = errors.New("unique constraint violation")
	ErrForeignKeyRestraint = errors.New("foreign key restraint")
	ErrInvalidColumn       = errors.New("invalid column value")
	ErrUnknownTable        = errors.New("table does not exist")
	ErrInvalidSchema       = errors.New("invalid schema")
)

func invalidColumnError(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidColumn, format, args...)
}

func invalidSchemaError(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidSchema, format, args...)
}
