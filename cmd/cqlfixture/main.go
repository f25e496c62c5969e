// Package main runs a disposable Cassandra environment, optionally behind
// Toxiproxy, and serves an admin API for injecting faults until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cqlfixture/config"
	"cqlfixture/internal/app"
	"cqlfixture/internal/core"
	"cqlfixture/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides FIXTURE_CONFIG_FILE)")
	faultInjection := flag.Bool("faults", false, "Start Toxiproxy in front of Cassandra")
	flag.Parse()

	if *configFile != "" {
		_ = os.Setenv("FIXTURE_CONFIG_FILE", *configFile)
	}
	if *faultInjection {
		_ = os.Setenv("FIXTURE_FAULT_INJECTION", "true")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := logging.New(cfg.Log.Format, cfg.Log.Level, os.Stdout)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	startCtx, cancelStart := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancelStart()
	}()

	application, err := app.New(startCtx, app.Config{
		AppConfig: cfg,
		Logger:    logger,
		Registry:  registry,
	})
	if err != nil {
		if core.IsRuntimeUnavailable(err) {
			slog.Error("no container runtime available; start Docker or set CASSANDRA_CONTACT_POINTS", "error", err)
		} else {
			slog.Error("failed to initialize application", "error", err)
		}
		os.Exit(1)
	}

	// Handle graceful shutdown; containers are terminated before main returns
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-startCtx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("application failed", "error", err)
		cancelStart()
		<-done
		os.Exit(1)
	}
	<-done
}
