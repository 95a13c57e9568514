package httperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

type BadRequestError struct {
	msg string
}

func (e *BadRequestError) Error() string { return e.msg }

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

func IsBadRequest(err error) bool {
	_, ok := errors.AsType[*BadRequestError](err)
	return ok
}

// Status maps an engine error to an HTTP status and a stable machine code.
func Status(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case IsBadRequest(err), types.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case types.IsForbidden(err):
		return http.StatusForbidden, "forbidden"
	case types.IsNotFound(err):
		return http.StatusNotFound, "conflict_not_found"
	case types.IsState(err):
		return http.StatusConflict, "conflict_not_pending"
	case types.IsStale(err):
		return http.StatusConflict, "conflict_changed"
	case types.IsWriteFailure(err):
		return http.StatusBadGateway, "canonical_write_failed"
	case types.IsSourceUnavailable(err):
		return http.StatusBadGateway, "source_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
