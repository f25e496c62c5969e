package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
)

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "net" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

func TestFixtureError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *FixtureError
		expected string
	}{
		{
			name:     "schema error with statement",
			err:      NewSchemaError("DROP TABLE x", errors.New("boom")),
			expected: "schema_error: statement failed [statement: DROP TABLE x]: boom",
		},
		{
			name:     "provision error",
			err:      NewProvisionError("failed to start cassandra", errors.New("no such image")),
			expected: "provision_error: failed to start cassandra: no such image",
		},
		{
			name:     "state error without cause",
			err:      NewStateError("cannot inject fault in NotStarted"),
			expected: "state_error: cannot inject fault in NotStarted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestFixtureError_Is(t *testing.T) {
	cause := errors.New("docker not found")
	err := fmt.Errorf("setup: %w", NewRuntimeUnavailableError(cause))

	assert.True(t, errors.Is(err, ErrRuntimeUnavailable))
	assert.True(t, IsRuntimeUnavailable(err))
	assert.False(t, errors.Is(err, ErrProvision))
	assert.True(t, errors.Is(err, cause), "cause must stay reachable")
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed timeout", NewTimeoutError("INSERT", nil), true},
		{"driver no response", gocql.ErrTimeoutNoResponse, true},
		{"wrapped driver timeout", fmt.Errorf("insert: %w", gocql.ErrTimeoutNoResponse), true},
		{"context deadline", context.DeadlineExceeded, true},
		{"net timeout", fakeNetError{timeout: true}, true},
		{"net non-timeout", fakeNetError{timeout: false}, false},
		{"schema error", NewSchemaError("CREATE", errors.New("syntax")), false},
		{"plain error", errors.New("other"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTimeout(tt.err))
		})
	}
}

func TestFixtureError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  *FixtureError
		want int
	}{
		{NewInvalidRequestError("bad toxic", nil), http.StatusBadRequest},
		{NewStateError("closed"), http.StatusConflict},
		{NewFaultError("toxiproxy down", nil), http.StatusBadGateway},
		{NewTimeoutError("", nil), http.StatusGatewayTimeout},
		{NewRuntimeUnavailableError(nil), http.StatusServiceUnavailable},
		{NewSchemaError("", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatusCode())
		})
	}
}

func TestFixtureError_ToJSON(t *testing.T) {
	err := NewFaultError("failed to add toxic", errors.New("HTTP 409: toxic already exists"))
	assert.Equal(t, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    ErrorTypeFault,
			"message": "failed to add toxic: HTTP 409: toxic already exists",
		},
	}, err.ToJSON())
}
