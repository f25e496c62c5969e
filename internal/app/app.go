// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the cqlfixture admin process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"cqlfixture/config"
	"cqlfixture/internal/fixture"
	"cqlfixture/internal/metrics"
	"cqlfixture/internal/server"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config  *config.Config
	logger  *slog.Logger
	fixture *fixture.Fixture
	server  *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	AppConfig *config.Config
	Logger    *slog.Logger

	// Registry receives the fixture collectors and backs /metrics.
	// Nil uses a fresh registry.
	Registry *prometheus.Registry
}

// New starts the fixture and builds the admin server around it.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	appCfg := cfg.AppConfig

	app := &App{
		config: appCfg,
		logger: logger,
	}

	f, err := fixture.Start(ctx, fixture.Options{
		Config:  appCfg,
		Logger:  logger,
		Metrics: metrics.New(registry),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start fixture: %w", err)
	}
	app.fixture = f

	app.logStartupInfo()

	if appCfg.Server.AdminKey == "" {
		logger.Warn("FIXTURE_ADMIN_KEY not set - toxic endpoints accept unauthenticated requests")
	}

	app.server = server.New(f, &server.Config{
		AdminKey:       appCfg.Server.AdminKey,
		MetricsEnabled: appCfg.Server.MetricsEnabled,
		Gatherer:       registry,
	})

	return app, nil
}

// Fixture returns the running fixture.
func (a *App) Fixture() *fixture.Fixture {
	return a.fixture
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, then closes the fixture, which drops the
// table, closes the session and terminates the containers.
//
// Shutdown is idempotent. It attempts every step and returns the joined errors.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.fixture != nil {
		if err := a.fixture.Close(ctx); err != nil {
			a.logger.Error("fixture close error", "error", err)
			errs = append(errs, fmt.Errorf("fixture close: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.logger.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs where the environment can be reached.
func (a *App) logStartupInfo() {
	attrs := []any{
		"state", a.fixture.State().String(),
		"keyspace", a.config.Cassandra.Keyspace,
		"request_timeout_ms", a.config.Cassandra.RequestTimeoutMS,
	}
	if env := a.fixture.Environment(); env != nil {
		attrs = append(attrs, "cassandra", env.Cassandra.String())
		if env.FaultInjection() {
			attrs = append(attrs, "proxied", env.Proxied.String(), "toxiproxy_api", env.ProxyAPI)
		}
		if env.Network != "" {
			attrs = append(attrs, "network", env.Network)
		}
	}
	a.logger.Info("environment ready", attrs...)
}
