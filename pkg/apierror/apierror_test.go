package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "BAD_REQUEST: prompt is required", BadRequest("prompt is required").Error())
	assert.Equal(t, "UPSTREAM: failed (timeout)", New("UPSTREAM", "failed", "timeout", 500).Error())

	var nilErr *APIError
	assert.Equal(t, "", nilErr.Error())
}

func TestWrap_KeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, "UPSTREAM_ERROR", "Internal Server Error", cause.Error(), http.StatusInternalServerError)

	assert.ErrorIs(t, err, cause)

	var apiErr *APIError
	assert.True(t, errors.As(error(err), &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatus)
}
