package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"

	"cqlfixture/internal/core"
)

func TestRequestContext(t *testing.T) {
	e := echo.New()
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: func() string { return "generated" }}))
	e.Use(RequestContext())

	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = core.GetRequestID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	t.Run("generated id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "generated", seen)
	})

	t.Run("client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderXRequestID, "from-client")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, "from-client", seen)
		assert.Equal(t, "from-client", rec.Header().Get(echo.HeaderXRequestID))
	})
}
