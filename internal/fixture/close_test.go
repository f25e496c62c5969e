package fixture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cqlfixture/internal/faults"
	"cqlfixture/internal/schema"
)

// teardownLog records proxy and session calls in the order they happen.
type teardownLog struct {
	mu     sync.Mutex
	events []string
}

func (l *teardownLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *teardownLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type loggingSession struct {
	log      *teardownLog
	keyspace string
}

func (s *loggingSession) Exec(_ context.Context, stmt string, _ ...any) error {
	s.log.add(stmt)
	return nil
}

func (s *loggingSession) Select(context.Context, string, []any, func(gocql.Scanner) error) error {
	return nil
}

func (s *loggingSession) Use(keyspace string) error {
	s.keyspace = keyspace
	return nil
}

func (s *loggingSession) Keyspace() string { return s.keyspace }

// toxiproxyWithLatency serves a proxy named cassandra holding one latency toxic.
func toxiproxyWithLatency(t *testing.T, log *teardownLog) string {
	t.Helper()
	var (
		mu     sync.Mutex
		active = true
	)
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /proxies/cassandra", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"name": "cassandra", "listen": "[::]:8666", "upstream": "cassandra:9042", "enabled": true,
		})
	})
	mux.HandleFunc("GET /proxies/cassandra/toxics", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		toxics := []map[string]any{}
		if active {
			toxics = append(toxics, map[string]any{
				"name": "extra_latency", "type": "latency", "stream": "upstream",
				"toxicity": 1, "attributes": map[string]any{"latency": 13000},
			})
		}
		writeJSON(w, toxics)
	})
	mux.HandleFunc("DELETE /proxies/cassandra/toxics/{toxic}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		active = false
		mu.Unlock()
		log.add("remove toxic " + r.PathValue("toxic"))
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestFixture_CloseResetsToxicsBeforeDrop(t *testing.T) {
	ctx := context.Background()
	log := &teardownLog{}

	proxy, err := faults.NewController(toxiproxyWithLatency(t, log)).Proxy(ctx, "cassandra")
	require.NoError(t, err)

	f := fixtureIn(FaultInjected, nil)
	f.proxy = proxy
	f.schema = schema.New(&loggingSession{log: log, keyspace: "test"}, nil)

	require.NoError(t, f.Close(ctx))

	assert.Equal(t, []string{
		"remove toxic extra_latency",
		schema.DropTableStatement("test", schema.TableName),
	}, log.list())
	assert.Equal(t, Closed, f.State())
}

func TestFixture_CloseKeepsTableWhenConfigured(t *testing.T) {
	log := &teardownLog{}

	f := fixtureIn(SchemaReady, nil)
	f.cfg.Fixture.DropOnClose = false
	f.schema = schema.New(&loggingSession{log: log, keyspace: "test"}, nil)

	require.NoError(t, f.Close(context.Background()))
	assert.Empty(t, log.list())
}
