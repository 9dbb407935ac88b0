// Package errs defines the typed failures surfaced by coordinator
// operations. Call sites wrap these sentinels with context using
// errors.Wrap; transports match them with errors.Is to pick a status code.
package errs

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrUnauthenticated is returned when a request carries no caller
	// identity.
	ErrUnauthenticated = errors.New("no authenticated identity")
	// ErrPermissionDenied is returned when the caller lacks the role an
	// operation requires.
	ErrPermissionDenied = errors.New("caller lacks the required role")
	// ErrInvalidArgument is returned on missing or malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrFailedPrecondition is returned when a state-machine guard rejects
	// the operation.
	ErrFailedPrecondition = errors.New("operation not permitted in the current state")
	// ErrNotFound is returned when a target document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrNoPendingContribution is returned when verification finds no
	// unlinked contribution entry for the participant.
	ErrNoPendingContribution = errors.New("no pending contribution entry")
	// ErrConfiguration is returned when a required configuration value is
	// missing or unusable.
	ErrConfiguration = errors.New("missing or invalid configuration")
	// ErrVMUnavailable is returned when a verifier instance does not reach
	// the running state within the retry budget.
	ErrVMUnavailable = errors.New("verifier instance failed to reach running state")
	// ErrVMCommandAborted is returned when a remote verification command
	// ends in a terminal non-success status.
	ErrVMCommandAborted = errors.New("verifier command ended in a non-success status")
	// ErrStorageFailure is returned when a blob storage operation does not
	// succeed.
	ErrStorageFailure = errors.New("blob storage operation failed")
)

// HTTPStatus maps a typed operation error onto the HTTP status code the API
// responds with. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrFailedPrecondition), errors.Is(err, ErrNoPendingContribution):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrVMUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrVMCommandAborted), errors.Is(err, ErrStorageFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
