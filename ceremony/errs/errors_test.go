package errs

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/zkmpc/ceremonyd/testing/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrPermissionDenied, http.StatusForbidden},
		{ErrInvalidArgument, http.StatusBadRequest},
		{ErrFailedPrecondition, http.StatusPreconditionFailed},
		{ErrNoPendingContribution, http.StatusPreconditionFailed},
		{ErrNotFound, http.StatusNotFound},
		{ErrVMUnavailable, http.StatusServiceUnavailable},
		{ErrVMCommandAborted, http.StatusBadGateway},
		{ErrStorageFailure, http.StatusBadGateway},
		{ErrConfiguration, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "status for %v", tt.err)
	}
}

func TestHTTPStatusSeesThroughWrapping(t *testing.T) {
	err := errors.Wrapf(ErrNotFound, "ceremony %q", "c-123")
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
	assert.StringContains(t, "c-123", err.Error())
}
