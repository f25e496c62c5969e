package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		adminKey       string
		path           string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "no admin key configured - allows request",
			path:           "/toxics",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "valid admin key - allows request",
			adminKey:       "secret-key-123",
			path:           "/toxics",
			authHeader:     "Bearer secret-key-123",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "skipped path - allows request",
			adminKey:       "secret-key-123",
			path:           "/health",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "missing authorization header - denies request",
			adminKey:       "secret-key-123",
			path:           "/toxics",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"missing authorization header","type":"authentication_error"}}`,
		},
		{
			name:           "invalid authorization format - denies request",
			adminKey:       "secret-key-123",
			path:           "/toxics",
			authHeader:     "secret-key-123",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"invalid authorization header format, expected 'Bearer <token>'","type":"authentication_error"}}`,
		},
		{
			name:           "invalid admin key - denies request",
			adminKey:       "secret-key-123",
			path:           "/toxics",
			authHeader:     "Bearer wrong-key",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"invalid admin key","type":"authentication_error"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			handler := AuthMiddleware(tt.adminKey, []string{"/health"})(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			require.NoError(t, handler(c))
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.expectedBody, rec.Body.String())
			} else {
				assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			}
		})
	}
}
