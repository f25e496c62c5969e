package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware requires "Authorization: Bearer <adminKey>" on every path
// except skipPaths. An empty adminKey disables the check.
func AuthMiddleware(adminKey string, skipPaths []string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if adminKey == "" {
				return next(c)
			}
			if _, ok := skip[c.Request().URL.Path]; ok {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return authError(c, "missing authorization header")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return authError(c, "invalid authorization header format, expected 'Bearer <token>'")
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) != 1 {
				return authError(c, "invalid admin key")
			}

			return next(c)
		}
	}
}

func authError(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "authentication_error",
			"message": message,
		},
	})
}
