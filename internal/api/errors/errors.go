// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"errors"
	"net/http"

	"github.com/signetlabs/signet/internal/api/dto"
	"github.com/signetlabs/signet/pkg/composite"
	"github.com/signetlabs/signet/pkg/fga"
	"github.com/signetlabs/signet/pkg/store"
	"github.com/signetlabs/signet/pkg/tsa"
	"github.com/signetlabs/signet/pkg/workflow"
)

// Error kinds for API responses. A single taxonomy flows through every
// endpoint; handlers never invent codes of their own.
const (
	CodeValidation   = "validation_error"
	CodeConflict     = "conflict"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeDependency   = "dependency_unavailable"
	CodeIntegrity    = "integrity_error"
	CodePolicy       = "policy_error"
	CodeInternal     = "internal_error"
)

// MapError maps an internal error to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	switch {
	// Validation: malformed definitions, command input, state machine
	// refusals. Not retryable.
	case errors.Is(err, workflow.ErrValidation),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrDelegationNotAllowed),
		errors.Is(err, workflow.ErrDefinitionFrozen):
		return http.StatusBadRequest, &dto.APIError{
			Code:    CodeValidation,
			Message: err.Error(),
		}

	// Conflict: version CAS lost its race. Retryable by reload.
	case errors.Is(err, workflow.ErrConflict),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict, &dto.APIError{
			Code:    CodeConflict,
			Message: err.Error(),
		}

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, fga.ErrPolicyNotFound):
		return http.StatusNotFound, &dto.APIError{
			Code:    CodeNotFound,
			Message: err.Error(),
		}

	// Deny and Indeterminate both land here: closed world.
	case errors.Is(err, workflow.ErrUnauthorized):
		return http.StatusForbidden, &dto.APIError{
			Code:    CodeUnauthorized,
			Message: err.Error(),
		}

	// Integrity: tampered content, broken chain, inconsistent times.
	// Fatal for the operation.
	case errors.Is(err, workflow.ErrIntegrity),
		errors.Is(err, composite.ErrHashMismatch),
		errors.Is(err, composite.ErrTemporalInconsistency),
		errors.Is(err, composite.ErrCertValidity),
		errors.Is(err, composite.ErrInvalidArtifact):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeIntegrity,
			Message: err.Error(),
		}

	// Policy authoring faults: unknown operator, malformed tree.
	case errors.Is(err, fga.ErrMalformedPolicy),
		errors.Is(err, fga.ErrMalformedCondition),
		errors.Is(err, fga.ErrUnknownOperator):
		return http.StatusBadRequest, &dto.APIError{
			Code:    CodePolicy,
			Message: err.Error(),
		}

	// Downstream dependency down: store, TSA chain. Retryable with
	// backoff; long operations are deferred instead.
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, tsa.ErrAllProvidersFailed),
		errors.Is(err, tsa.ErrUnavailable):
		return http.StatusServiceUnavailable, &dto.APIError{
			Code:    CodeDependency,
			Message: err.Error(),
		}
	}

	// Unknown errors are internal; do not leak details.
	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
}
