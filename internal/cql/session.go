// Package cql wraps a gocql session with the fixture's timeouts, error
// taxonomy, logging and metrics.
package cql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"cqlfixture/internal/core"
	"cqlfixture/internal/metrics"
)

// Options configures a Session.
type Options struct {
	// Hosts are the contact points; Port applies to all of them.
	Hosts           []string
	Port            int
	LocalDatacenter string

	// RequestTimeout bounds each statement round trip.
	RequestTimeout time.Duration
	// SchemaTimeout bounds waiting for schema agreement after DDL.
	SchemaTimeout time.Duration
	// ConnectTimeout bounds connection initialization.
	ConnectTimeout time.Duration

	// Consistency defaults to ONE, which is all a single-node fixture offers.
	Consistency gocql.Consistency

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

func (o Options) validate() error {
	if len(o.Hosts) == 0 {
		return errors.New("at least one contact point is required")
	}
	if o.Port <= 0 {
		return fmt.Errorf("invalid port %d", o.Port)
	}
	if o.LocalDatacenter == "" {
		return errors.New("local datacenter is required")
	}
	return nil
}

// clusterConfig translates Options into a gocql cluster configuration.
func (o Options) clusterConfig() *gocql.ClusterConfig {
	cluster := gocql.NewCluster(o.Hosts...)
	cluster.Port = o.Port
	cluster.NumConns = 1
	cluster.Timeout = o.RequestTimeout
	cluster.ConnectTimeout = o.ConnectTimeout
	cluster.MaxWaitSchemaAgreement = o.SchemaTimeout
	cluster.Consistency = o.Consistency
	if cluster.Consistency == 0 {
		cluster.Consistency = gocql.One
	}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(o.LocalDatacenter))

	// Peers advertise container-internal addresses; only the contact points
	// (direct or proxied) are reachable from the test process.
	cluster.DisableInitialHostLookup = true
	cluster.Events.DisableTopologyEvents = true

	if o.Logger != nil {
		cluster.Logger = driverLogger{logger: o.Logger}
	}
	return cluster
}

// Session is a single live connection to Cassandra. Statements are expected
// to be issued sequentially by the caller.
type Session struct {
	session *gocql.Session
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Collector

	mu       sync.RWMutex
	keyspace string
}

// Open connects to the cluster described by opts.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, core.NewProvisionError("invalid session options", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cql")

	began := time.Now()
	s, err := opts.clusterConfig().CreateSession()
	if err != nil {
		if core.IsTimeout(err) {
			return nil, core.NewTimeoutError("", fmt.Errorf("connect to %v:%d: %w", opts.Hosts, opts.Port, err))
		}
		return nil, core.NewProvisionError(fmt.Sprintf("failed to connect to %v:%d", opts.Hosts, opts.Port), err)
	}

	logger.Info("session opened",
		"hosts", opts.Hosts,
		"port", opts.Port,
		"local_datacenter", opts.LocalDatacenter,
		"request_timeout", opts.RequestTimeout,
		"took", time.Since(began).Round(time.Millisecond),
	)

	return &Session{session: s, opts: opts, logger: logger, metrics: opts.Metrics}, nil
}

// Options returns the options the session was opened with.
func (s *Session) Options() Options {
	return s.opts
}

// Exec runs a statement that returns no rows.
func (s *Session) Exec(ctx context.Context, stmt string, args ...any) error {
	began := time.Now()
	err := s.session.Query(stmt, args...).WithContext(ctx).Exec()
	return s.observe(stmt, began, err)
}

// Select runs a query and calls scan for every row.
func (s *Session) Select(ctx context.Context, stmt string, args []any, scan func(gocql.Scanner) error) error {
	began := time.Now()
	scanner := s.session.Query(stmt, args...).WithContext(ctx).Iter().Scanner()
	for scanner.Next() {
		if err := scan(scanner); err != nil {
			// Drain so the iterator releases its frame.
			_ = scanner.Err()
			return s.observe(stmt, began, err)
		}
	}
	return s.observe(stmt, began, scanner.Err())
}

// KeyspaceExists reports whether the keyspace is present in schema metadata.
func (s *Session) KeyspaceExists(name string) (bool, error) {
	_, err := s.session.KeyspaceMetadata(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gocql.ErrKeyspaceDoesNotExist):
		return false, nil
	default:
		return false, classify("keyspace metadata "+name, err)
	}
}

// TableExists reports whether keyspace.table is present in schema metadata.
func (s *Session) TableExists(keyspace, table string) (bool, error) {
	md, err := s.session.KeyspaceMetadata(keyspace)
	if errors.Is(err, gocql.ErrKeyspaceDoesNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify("keyspace metadata "+keyspace, err)
	}
	_, ok := md.Tables[strings.ToLower(table)]
	return ok, nil
}

// Use selects the keyspace unqualified statements refer to. gocql rejects
// USE statements, so the selection is tracked here after checking the
// keyspace exists.
func (s *Session) Use(name string) error {
	ok, err := s.KeyspaceExists(name)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewSchemaError("USE "+name, gocql.ErrKeyspaceDoesNotExist)
	}
	s.mu.Lock()
	s.keyspace = name
	s.mu.Unlock()
	return nil
}

// Keyspace returns the keyspace selected by Use.
func (s *Session) Keyspace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyspace
}

// Close releases the connection.
func (s *Session) Close() {
	if s == nil || s.session == nil {
		return
	}
	s.session.Close()
	s.logger.Info("session closed")
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s == nil || s.session == nil || s.session.Closed()
}

func (s *Session) observe(stmt string, began time.Time, err error) error {
	took := time.Since(began)
	kind := statementKind(stmt)
	if err == nil {
		s.metrics.ObserveStatement(kind, metrics.OutcomeOK, took)
		s.logger.Debug("statement executed", "kind", kind, "took", took)
		return nil
	}

	mapped := classify(stmt, err)
	outcome := metrics.OutcomeError
	if errors.Is(mapped, core.ErrTimeout) {
		outcome = metrics.OutcomeTimeout
	}
	s.metrics.ObserveStatement(kind, outcome, took)
	s.logger.Warn("statement failed", "kind", kind, "outcome", outcome, "took", took, "error", err)
	return mapped
}

// classify maps driver errors onto the fixture taxonomy.
func classify(stmt string, err error) error {
	var fe *core.FixtureError
	if errors.As(err, &fe) {
		return err
	}
	var writeTimeout *gocql.RequestErrWriteTimeout
	var readTimeout *gocql.RequestErrReadTimeout
	if core.IsTimeout(err) || errors.As(err, &writeTimeout) || errors.As(err, &readTimeout) {
		return core.NewTimeoutError(stmt, err)
	}
	return core.NewSchemaError(stmt, err)
}

// statementKind returns the lower-cased leading keyword of stmt.
func statementKind(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

// driverLogger routes gocql's internal logging into slog at debug level.
type driverLogger struct {
	logger *slog.Logger
}

func (l driverLogger) Print(v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprint(v...)), "source", "gocql")
}

func (l driverLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "source", "gocql")
}

func (l driverLogger) Println(v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)), "source", "gocql")
}
