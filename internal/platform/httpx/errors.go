// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/armslicense/armslicense/internal/applications"
	"github.com/armslicense/armslicense/internal/assignment"
	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/queues"
	"github.com/armslicense/armslicense/internal/routing"
	"github.com/armslicense/armslicense/internal/shared"
	"github.com/armslicense/armslicense/internal/workflow"
)

// Sentinel errors for the HTTP layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

const actionNotAvailable = "action not available"

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, routing.ErrPermissionDenied),
		errors.Is(err, routing.ErrIllegalHierarchyEdge):
		Problem(w, http.StatusForbidden, "Forbidden", actionNotAvailable)
	case errors.Is(err, routing.ErrConcurrentModification):
		Problem(w, http.StatusConflict, "Conflict", "please refresh and retry")
	case errors.Is(err, workflow.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrNotFound),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, assignment.ErrNotFound),
		errors.Is(err, applications.ErrNotFound),
		errors.Is(err, catalog.ErrUnknownRole),
		errors.Is(err, queues.ErrUnknownQueue):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation),
		errors.Is(err, routing.ErrInvalidRequest),
		errors.Is(err, applications.ErrInvalidInput):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized), errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
