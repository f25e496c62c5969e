package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// bodySizeLimit bounds POST /toxics bodies.
const bodySizeLimit = "64K"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	AdminKey       string              // Optional: bearer token required on /toxics
	MetricsEnabled bool                // Whether to expose the Prometheus metrics endpoint
	Gatherer       prometheus.Gatherer // Source for /metrics (default: prometheus.DefaultGatherer)
}

// New creates a new HTTP server
func New(f Fixture, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(f)

	// Global middleware stack (order matters)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(RequestContext())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				slog.Warn("admin request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("admin request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodySizeLimit))

	if cfg != nil && cfg.AdminKey != "" {
		e.Use(AuthMiddleware(cfg.AdminKey, []string{"/health", "/metrics"}))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// Fault injection routes
	e.GET("/toxics", handler.ListToxics)
	e.POST("/toxics", handler.AddToxic)
	e.POST("/toxics/reset", handler.ResetToxics)
	e.DELETE("/toxics/:name", handler.RemoveToxic)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
