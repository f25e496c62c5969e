// Package fixture wires the provisioner, session, schema bootstrapper and
// fault controller into one lifecycle that integration suites drive.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cqlfixture/config"
	"cqlfixture/internal/core"
	"cqlfixture/internal/cql"
	"cqlfixture/internal/faults"
	"cqlfixture/internal/metrics"
	"cqlfixture/internal/provision"
	"cqlfixture/internal/retry"
	"cqlfixture/internal/schema"
)

const defaultCQLPort = 9042

// Options configures Start.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector
	// Provisioner is shared between fixtures that want cached environments.
	// Nil creates one owned by the fixture.
	Provisioner *provision.Provisioner
}

// Fixture owns one environment and the single session tests issue statements on.
type Fixture struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	state    State
	env      *provision.Environment
	session  *cql.Session
	observer *cql.Session
	schema   *schema.Bootstrapper
	proxy    *faults.Proxy
}

func newFixture(opts Options) *Fixture {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fixture{
		cfg:     opts.Config,
		logger:  logger.With("component", "fixture"),
		metrics: opts.Metrics,
		state:   NotStarted,
	}
}

// ProvisionConfig derives the provisioner settings from cfg.
func ProvisionConfig(cfg *config.Config) provision.Config {
	pc := provision.Config{
		CassandraImage: cfg.Containers.CassandraImage,
		ProxyImage:     cfg.Containers.ToxiproxyImage,
		FaultInjection: cfg.Containers.FaultInjection,
		Reuse:          cfg.Containers.Reuse,
		NetworkName:    cfg.Containers.Network,
		StartupTimeout: cfg.Containers.StartupTimeout,
	}
	if cfg.Cassandra.LocalDatacenter != config.DefaultLocalDatacenter {
		pc.Datacenter = cfg.Cassandra.LocalDatacenter
	}
	return pc
}

// Start brings the fixture to SchemaReady: it checks the container runtime,
// provisions the environment, opens the session, ensures the schema and
// seeds the user table. When contact points are configured the existing
// cluster is used and nothing is provisioned.
//
// A core.ErrRuntimeUnavailable error means the caller should skip.
func Start(ctx context.Context, opts Options) (f *Fixture, err error) {
	if opts.Config == nil {
		return nil, core.NewStateError("fixture needs a configuration")
	}
	f = newFixture(opts)

	defer func() {
		if err != nil {
			if cerr := f.Close(context.Background()); cerr != nil {
				f.logger.Warn("cleanup after failed start", "error", cerr)
			}
		}
	}()

	endpoint, err := f.startEnvironment(ctx, opts.Provisioner)
	if err != nil {
		return f, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.transition(EnvironmentReady); err != nil {
		return f, err
	}

	f.session, err = cql.Open(ctx, f.sessionOptions(endpoint))
	if err != nil {
		return f, err
	}
	f.schema = schema.New(f.session, f.logger)

	cc := f.cfg.Cassandra
	if err := f.schema.EnsureSchema(ctx, cc.Keyspace, cc.ReplicationFactor); err != nil {
		return f, err
	}
	if err := f.seed(ctx); err != nil {
		return f, err
	}
	if err := f.transition(SchemaReady); err != nil {
		return f, err
	}

	if f.env != nil && f.env.FaultInjection() {
		controller := faults.NewController(f.env.ProxyAPI,
			faults.WithLogger(f.logger),
			faults.WithMetrics(f.metrics),
			faults.WithEndpoint(f.env.ProxyName, f.env.Proxied.String()),
		)
		if f.proxy, err = controller.Proxy(ctx, f.env.ProxyName); err != nil {
			return f, err
		}
	}

	f.logger.Info("fixture ready", "endpoint", endpoint.String(), "keyspace", cc.Keyspace, "fault_injection", f.proxy != nil)
	return f, nil
}

// startEnvironment provisions containers, or resolves the configured cluster.
func (f *Fixture) startEnvironment(ctx context.Context, shared *provision.Provisioner) (provision.Endpoint, error) {
	cc := f.cfg.Cassandra
	if len(cc.ContactPoints) > 0 {
		port := cc.Port
		if port == 0 {
			port = defaultCQLPort
		}
		f.logger.Info("using configured cluster", "contact_points", cc.ContactPoints, "port", port)
		return provision.Endpoint{Host: cc.ContactPoints[0], Port: port}, nil
	}

	if err := provision.RuntimeAvailable(ctx); err != nil {
		return provision.Endpoint{}, err
	}

	p := shared
	if p == nil {
		p = provision.New(ProvisionConfig(f.cfg), f.logger, f.metrics)
	}

	env, err := p.Start(ctx)
	if err != nil {
		return provision.Endpoint{}, err
	}
	f.mu.Lock()
	f.env = env
	f.mu.Unlock()

	return env.ClientEndpoint(), nil
}

func (f *Fixture) sessionOptions(endpoint provision.Endpoint) cql.Options {
	cc := f.cfg.Cassandra
	hosts := []string{endpoint.Host}
	if len(cc.ContactPoints) > 0 {
		hosts = cc.ContactPoints
	}
	return cql.Options{
		Hosts:           hosts,
		Port:            endpoint.Port,
		LocalDatacenter: cc.LocalDatacenter,
		RequestTimeout:  cc.RequestTimeout(),
		SchemaTimeout:   cc.SchemaTimeout(),
		ConnectTimeout:  cc.ConnectTimeout(),
		Logger:          f.logger,
		Metrics:         f.metrics,
	}
}

func (f *Fixture) seed(ctx context.Context) error {
	fc := f.cfg.Fixture
	if !fc.Seed {
		return nil
	}
	users := schema.DefaultUsers()
	if fc.SeedFile != "" {
		var err error
		if users, err = schema.LoadUsersFile(fc.SeedFile); err != nil {
			return core.NewSchemaError("", err)
		}
	}
	return f.schema.Seed(ctx, users)
}

// transition must be called with f.mu held.
func (f *Fixture) transition(next State) error {
	if !f.state.CanTransition(next) {
		return core.NewStateError(fmt.Sprintf("cannot move from %s to %s", f.state, next))
	}
	if f.state != next {
		f.logger.Debug("state changed", "from", f.state, "to", next)
	}
	f.state = next
	return nil
}

// State returns the current lifecycle stage.
func (f *Fixture) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Config returns the configuration the fixture was started with.
func (f *Fixture) Config() *config.Config {
	return f.cfg
}

// Environment returns the provisioned environment; nil for a configured cluster.
func (f *Fixture) Environment() *provision.Environment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.env
}

// Session returns the test session.
func (f *Fixture) Session() *cql.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Schema returns the bootstrapper bound to the test session.
func (f *Fixture) Schema() *schema.Bootstrapper {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schema
}

// Faults returns the proxy in front of Cassandra; nil without fault injection.
func (f *Fixture) Faults() *faults.Proxy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proxy
}

// Observer returns a bootstrapper on a second session connected straight to
// Cassandra, bypassing the proxy. Toxics hold writes back rather than
// dropping them, so only a path around the proxy can see the table as it is
// while a toxic is active. Open it before injecting faults.
func (f *Fixture) Observer(ctx context.Context) (*schema.Bootstrapper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.observer == nil {
		if f.env == nil {
			return nil, core.NewStateError("observer needs a provisioned environment")
		}
		if f.state < SchemaReady || f.state == Closed {
			return nil, core.NewStateError(fmt.Sprintf("observer unavailable in state %s", f.state))
		}
		session, err := cql.Open(ctx, f.sessionOptions(f.env.Cassandra))
		if err != nil {
			return nil, err
		}
		if err := session.Use(f.cfg.Cassandra.Keyspace); err != nil {
			session.Close()
			return nil, err
		}
		f.observer = session
	}
	return schema.New(f.observer, f.logger.With("session", "observer")), nil
}

// InjectLatency delays traffic in direction dir by d.
func (f *Fixture) InjectLatency(ctx context.Context, name string, dir faults.Direction, d time.Duration) error {
	return f.AddToxic(ctx, faults.LatencyToxic(name, dir, d))
}

// AddToxic installs a toxic on the proxy and moves to FaultInjected.
func (f *Fixture) AddToxic(ctx context.Context, t faults.Toxic) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.state.CanTransition(FaultInjected) {
		return core.NewStateError(fmt.Sprintf("cannot inject faults in state %s", f.state))
	}
	if f.proxy == nil {
		return core.NewFaultError("fault injection is disabled", nil)
	}
	if err := f.proxy.AddToxic(ctx, t); err != nil {
		return err
	}
	return f.transition(FaultInjected)
}

// RemoveToxic removes one toxic. The state is left unchanged.
func (f *Fixture) RemoveToxic(ctx context.Context, name string) error {
	proxy, err := f.requireProxy()
	if err != nil {
		return err
	}
	return proxy.RemoveToxic(ctx, name)
}

// Toxics lists the active toxics.
func (f *Fixture) Toxics(ctx context.Context) ([]faults.Toxic, error) {
	proxy, err := f.requireProxy()
	if err != nil {
		return nil, err
	}
	return proxy.Toxics(ctx)
}

func (f *Fixture) requireProxy() (*faults.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.proxy == nil {
		return nil, core.NewFaultError("fault injection is disabled", nil)
	}
	return f.proxy, nil
}

// ResetFaults removes every toxic. The state is left unchanged.
func (f *Fixture) ResetFaults(ctx context.Context) error {
	f.mu.Lock()
	proxy := f.proxy
	f.mu.Unlock()

	if proxy == nil {
		return nil
	}
	return proxy.Reset(ctx)
}

// RetryPolicy builds the configured fixed-delay policy.
func (f *Fixture) RetryPolicy() retry.Policy {
	return retry.Fixed(f.cfg.Retry.MaxAttempts, f.cfg.Retry.Delay())
}

// Assert runs op under policy and moves to Asserted whatever the outcome.
// It must not be called concurrently with other fixture methods that change
// state.
func (f *Fixture) Assert(ctx context.Context, policy retry.Policy, op func(ctx context.Context) error) error {
	f.mu.Lock()
	if !f.state.CanTransition(Asserted) {
		state := f.state
		f.mu.Unlock()
		return core.NewStateError(fmt.Sprintf("cannot assert in state %s", state))
	}
	f.mu.Unlock()

	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, next time.Duration) {
		f.metrics.RetryAttempt()
		f.logger.Info("retrying assertion", "attempt", attempt, "next", next, "error", err)
		if onRetry != nil {
			onRetry(attempt, err, next)
		}
	}
	err := policy.Do(ctx, op)

	f.mu.Lock()
	defer f.mu.Unlock()
	if terr := f.transition(Asserted); terr != nil {
		return errors.Join(err, terr)
	}
	return err
}

// Close removes every toxic, drops the user table when configured, closes the
// sessions and terminates the environment. Toxics go first so teardown
// statements are not delayed by them. It always attempts every step and is
// safe to call more than once. Cached environments are only released; the
// provisioner decides when they stop.
func (f *Fixture) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Closed {
		return nil
	}

	var errs []error
	if f.proxy != nil {
		if err := f.proxy.Reset(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reset proxy: %w", err))
		}
	}
	if f.cfg.Fixture.DropOnClose && f.schema != nil && f.schema.Keyspace() != "" {
		if err := f.schema.DropTable(ctx, schema.TableName); err != nil {
			errs = append(errs, fmt.Errorf("drop table: %w", err))
		}
	}

	f.observer.Close()
	f.session.Close()

	if f.env != nil {
		if err := f.env.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate environment: %w", err))
		}
	}
	f.state = Closed
	f.logger.Info("fixture closed", "errors", len(errs))
	return errors.Join(errs...)
}
