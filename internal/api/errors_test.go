package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApiErrorJson(t *testing.T) {
	data, err := json.Marshal(NewBadRequestError().WithDetail("content is required"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status_code":400,"message":"bad request","detail":"content is required"}`, string(data))

	// detail is omitted when unset
	data, err = json.Marshal(NewNotFoundError())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status_code":404,"message":"not found"}`, string(data))
}

func TestApiErrorWrapsCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	apiErr := NewInternalServerError(cause)

	assert.ErrorIs(t, apiErr, cause)
	assert.Contains(t, apiErr.Error(), "pq: connection refused")

	// the cause never leaks into the response body
	data, err := json.Marshal(apiErr)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "pq:")
}
