//go:build integration

package toxic

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"cqlfixture/config"
	"cqlfixture/internal/core"
	"cqlfixture/internal/fixture"
	"cqlfixture/internal/logging"
)

var (
	fx *fixture.Fixture

	// Test context
	testCtx    context.Context
	cancelFunc context.CancelFunc
)

// TestMain starts Cassandra behind Toxiproxy on a shared network.
func TestMain(m *testing.M) {
	testCtx, cancelFunc = context.WithTimeout(context.Background(), 10*time.Minute)

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		cancelFunc()
		os.Exit(1)
	}
	cfg.Cassandra.ContactPoints = nil
	cfg.Containers.FaultInjection = true
	cfg.Fixture.Seed = false

	log.Println("Starting Cassandra and Toxiproxy fixture...")
	fx, err = fixture.Start(testCtx, fixture.Options{
		Config: cfg,
		Logger: logging.New(cfg.Log.Format, cfg.Log.Level, os.Stderr),
	})
	if err != nil {
		cancelFunc()
		if core.IsRuntimeUnavailable(err) {
			log.Printf("Skipping Toxiproxy integration tests: %v", err)
			os.Exit(0)
		}
		log.Printf("Fixture setup failed: %v", err)
		os.Exit(1)
	}
	log.Printf("Fixture ready, proxied endpoint %s", fx.Environment().Proxied)

	code := m.Run()

	cleanup()
	cancelFunc()
	os.Exit(code)
}

// cleanup removes toxics, closes the sessions and terminates the containers.
func cleanup() {
	log.Println("Cleaning up test resources...")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := fx.Close(ctx); err != nil {
		log.Printf("Failed to close fixture: %v", err)
	}

	log.Println("Cleanup complete")
}
