package query

import (
	"context"
	"errors"
	"net/http"

	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/builder"
)

type QueryError struct {
	msg    string
	status int
}

func NewQueryError(status int, msg string) *QueryError {
	return &QueryError{msg: msg, status: status}
}

func (e QueryError) Error() string { return e.msg }
func (e QueryError) Status() int   { return e.status }

// StatusOf maps an engine error to the status reported to clients.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Status()
	}
	switch {
	case errors.Is(err, builder.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, builder.ErrUniqueConstraint), errors.Is(err, builder.ErrForeignKeyRestraint):
		return http.StatusConflict
	case errors.Is(err, builder.ErrMalformedClause), errors.Is(err, builder.ErrUnknownFunction),
		errors.Is(err, builder.ErrMissingPrimaryKey), errors.Is(err, builder.ErrInvalidColumn),
		errors.Is(err, builder.ErrInvalidSchema):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case adapter.IsAdapterError(err):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// joinErrors combines the per-row errors of a batch. nil when errs is empty.
func joinErrors(errs []error) error { return errors.Join(errs...) }
