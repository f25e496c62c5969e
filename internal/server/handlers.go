// Package server exposes the running fixture over a small admin HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"cqlfixture/config"
	"cqlfixture/internal/core"
	"cqlfixture/internal/faults"
	"cqlfixture/internal/fixture"
	"cqlfixture/internal/provision"
)

// Fixture is the part of *fixture.Fixture the handlers use.
type Fixture interface {
	State() fixture.State
	Config() *config.Config
	Environment() *provision.Environment
	AddToxic(ctx context.Context, t faults.Toxic) error
	RemoveToxic(ctx context.Context, name string) error
	Toxics(ctx context.Context) ([]faults.Toxic, error)
	ResetFaults(ctx context.Context) error
}

// Handler holds the HTTP handlers
type Handler struct {
	fixture Fixture
}

// NewHandler creates a new handler for f
func NewHandler(f Fixture) *Handler {
	return &Handler{fixture: f}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string        `json:"status"`
	State     fixture.State `json:"state"`
	Keyspace  string        `json:"keyspace"`
	Cassandra string        `json:"cassandra,omitempty"`
	Proxied   string        `json:"proxied,omitempty"`
	ProxyAPI  string        `json:"proxy_api,omitempty"`
	Network   string        `json:"network,omitempty"`
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	state := h.fixture.State()
	resp := HealthResponse{
		Status:   "ok",
		State:    state,
		Keyspace: h.fixture.Config().Cassandra.Keyspace,
	}
	if env := h.fixture.Environment(); env != nil {
		resp.Cassandra = env.Cassandra.String()
		if env.FaultInjection() {
			resp.Proxied = env.Proxied.String()
			resp.ProxyAPI = env.ProxyAPI
		}
		resp.Network = env.Network
	}

	switch state {
	case fixture.SchemaReady, fixture.FaultInjected, fixture.Asserted:
		return c.JSON(http.StatusOK, resp)
	default:
		resp.Status = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
}

// ListToxics handles GET /toxics
func (h *Handler) ListToxics(c echo.Context) error {
	toxics, err := h.fixture.Toxics(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"toxics": toxics})
}

// AddToxic handles POST /toxics
func (h *Handler) AddToxic(c echo.Context) error {
	var toxic faults.Toxic
	if err := c.Bind(&toxic); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	if err := toxic.Validate(); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid toxic", err))
	}

	if err := h.fixture.AddToxic(c.Request().Context(), toxic); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, toxic)
}

// RemoveToxic handles DELETE /toxics/:name
func (h *Handler) RemoveToxic(c echo.Context) error {
	if err := h.fixture.RemoveToxic(c.Request().Context(), c.Param("name")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ResetToxics handles POST /toxics/reset
func (h *Handler) ResetToxics(c echo.Context) error {
	if err := h.fixture.ResetFaults(c.Request().Context()); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleError converts fixture errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var fixtureErr *core.FixtureError
	if errors.As(err, &fixtureErr) {
		return c.JSON(fixtureErr.HTTPStatusCode(), fixtureErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
