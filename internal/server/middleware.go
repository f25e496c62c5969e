package server

import (
	"github.com/labstack/echo/v4"

	"cqlfixture/internal/core"
)

// RequestContext copies the request id chosen by the RequestID middleware into
// the request context so fault controller logs can be correlated with
// admin calls. It must run after RequestID.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			ctx := core.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
