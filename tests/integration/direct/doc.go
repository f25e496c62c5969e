// Package direct runs the Cassandra scenarios over a direct connection:
// schema bootstrap, seeding, insert-then-select and tolerant drops.
//
// Run with: go test -tags=integration ./tests/integration/direct/...
package direct
