package http

import (
	"context"
	"errors"
	"net/http"

	"kasa/internal/auth"
	"kasa/internal/core"
	"kasa/internal/log"
	"kasa/internal/services"
	"kasa/internal/storage"
)

// errorResponse maps an error returned by the services to its API response.
// Anything unrecognised is a 500 and its details stay in the log.
func errorResponse(err error) *JSONResponseBuilder {
	var precondition *core.PreconditionError
	var itemErr *core.ItemError

	switch {
	case errors.As(err, &precondition):
		return NewJSONResponse().Status(http.StatusConflict).
			Body(ErrorBody{Error: precondition.Error(), Field: precondition.Field})
	case errors.Is(err, core.ErrPrecondition):
		return ConflictError(err.Error())
	case errors.As(err, &itemErr):
		return NewJSONResponse().Status(http.StatusUnprocessableEntity).
			Body(ErrorBody{Error: itemErr.Error(), Field: itemErr.List, ID: itemErr.ID})
	case errors.Is(err, services.ErrValidation):
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, services.ErrInvalidItemKind):
		return NotFoundError(err.Error())
	case errors.Is(err, services.ErrItemNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return NotFoundError("user not found")
	case errors.Is(err, services.ErrUserExists):
		return ConflictError(err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return UnauthorizedError(err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		return UnauthorizedError("invalid or expired token")
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse(http.StatusGatewayTimeout, "request timed out")
	default:
		return InternalServerError("internal error")
	}
}

// writeError logs err at a level matching its status and writes the response.
func writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	resp := errorResponse(err)
	logger := log.FromContext(r.Context())

	if resp.statusCode >= http.StatusInternalServerError {
		fields := log.NewFields()
		fields[log.FieldStatusCode] = resp.statusCode
		log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, operation, fields)
	} else {
		logger.InfoContext(r.Context(), "Request rejected",
			log.FieldOperation, operation,
			log.FieldStatusCode, resp.statusCode,
			log.FieldError, err)
	}
	resp.Write(w)
}
