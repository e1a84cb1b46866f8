package connections

import (
	"errors"

	"github.com/Checker-Finance/agent-connections/internal/access"
	"github.com/Checker-Finance/agent-connections/internal/keypath"
	"github.com/Checker-Finance/agent-connections/internal/secrets"
)

// Error taxonomy of the service. Callers match with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrMalformedIdentifier = keypath.ErrMalformedIdentifier
	ErrForbidden           = access.ErrForbidden
	ErrNotFound            = errors.New("connection not found")
	ErrStorageFailure      = secrets.ErrStorageFailure
	ErrBackendDisabled     = errors.New("secret backend integration is disabled")
	ErrInternal            = errors.New("internal error")
)

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrMalformedIdentifier):
		return "malformed_id"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	case errors.Is(err, ErrBackendDisabled):
		return "disabled"
	default:
		return "internal"
	}
}
