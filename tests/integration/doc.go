// Package integration groups the Docker-backed suites. Each subpackage starts
// its own fixture in TestMain and exits cleanly when no container runtime is
// available.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration
