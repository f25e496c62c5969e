// Package toxic runs the fault-path scenario: the session connects through
// Toxiproxy, and upstream latency longer than the client request timeout
// must surface as a timeout without the write becoming visible.
//
// Run with: go test -tags=integration ./tests/integration/toxic/...
package toxic
