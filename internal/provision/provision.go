// Package provision starts disposable Cassandra environments, optionally
// fronted by a Toxiproxy instance on a shared Docker network.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/cassandra"
	"github.com/testcontainers/testcontainers-go/modules/toxiproxy"
	"github.com/testcontainers/testcontainers-go/network"

	"cqlfixture/internal/core"
	"cqlfixture/internal/metrics"
)

const (
	// CQLPort is the native protocol port inside the Cassandra container.
	CQLPort = 9042
	// ProxyListenPort is the first port the Toxiproxy module exposes for proxies.
	ProxyListenPort = 8666
	// ProxyName is the name of the proxy fronting Cassandra.
	ProxyName = "cassandra"

	cassandraAlias = "cassandra"
	toxiproxyAlias = "toxiproxy"
)

// Config describes the environment to start. It is passed explicitly to New;
// nothing is read from process-wide state.
type Config struct {
	CassandraImage string
	ProxyImage     string
	// Datacenter names the Cassandra data center. Empty keeps the image default.
	Datacenter string
	// FaultInjection starts a Toxiproxy container in front of Cassandra.
	FaultInjection bool
	// Reuse returns a running environment with the same configuration instead
	// of starting a new one.
	Reuse bool
	// NetworkName attaches the containers to an existing Docker network.
	// Empty creates a private network owned by the environment.
	NetworkName    string
	StartupTimeout time.Duration
}

// Key fingerprints the configuration; environments with equal keys are interchangeable.
func (c Config) Key() string {
	h := xxhash.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%t|%s", c.CassandraImage, c.ProxyImage, c.Datacenter, c.FaultInjection, c.NetworkName)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Endpoint is a host/port pair reachable from the test process.
type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint parses "host:port".
func ParseEndpoint(hostport string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid port in endpoint %q", hostport)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// String renders the endpoint as host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// RuntimeAvailable reports whether a container runtime can be reached.
// Callers should skip their suite when it returns an error.
func RuntimeAvailable(ctx context.Context) (err error) {
	// Provider construction panics when no Docker host can be found.
	defer func() {
		if r := recover(); r != nil {
			err = core.NewRuntimeUnavailableError(fmt.Errorf("%v", r))
		}
	}()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return core.NewRuntimeUnavailableError(err)
	}
	defer func() { _ = provider.Close() }()

	if err := provider.Health(ctx); err != nil {
		return core.NewRuntimeUnavailableError(err)
	}
	return nil
}

// Provisioner starts environments and caches reusable ones.
type Provisioner struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	cache map[string]*Environment
}

// New creates a Provisioner. logger and m may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.Collector) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		cfg:     cfg,
		logger:  logger.With("component", "provision"),
		metrics: m,
		cache:   make(map[string]*Environment),
	}
}

// Start brings up the configured environment and blocks until Cassandra
// accepts CQL connections. With Reuse set, a cached environment for the same
// configuration is returned instead.
func (p *Provisioner) Start(ctx context.Context) (*Environment, error) {
	key := p.cfg.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Reuse {
		if env := p.cached(ctx, key); env != nil {
			env.refs++
			p.logger.Info("reusing environment", "key", key, "cassandra", env.Cassandra.String())
			return env, nil
		}
	}

	if p.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StartupTimeout)
		defer cancel()
	}

	env, err := p.start(ctx, key)
	if err != nil {
		return nil, err
	}

	if p.cfg.Reuse {
		env.refs = 1
		env.release = func(ctx context.Context) error { return p.release(ctx, env) }
		p.cache[key] = env
	}
	return env, nil
}

// cached returns the running environment cached under key. A cached
// environment that stopped is terminated and evicted. p.mu must be held.
func (p *Provisioner) cached(ctx context.Context, key string) *Environment {
	env, ok := p.cache[key]
	if !ok {
		return nil
	}
	if env.Running(ctx) {
		return env
	}
	delete(p.cache, key)
	p.logger.Warn("cached environment stopped; starting a new one", "key", key)
	if err := env.terminate(ctx); err != nil {
		p.logger.Warn("failed to clean up stopped environment", "key", key, "error", err)
	}
	return nil
}

// release drops one reference to env. When the last reference goes and the
// containers cannot be found again by name, the environment is terminated.
func (p *Provisioner) release(ctx context.Context, env *Environment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if env.refs > 0 {
		env.refs--
	}
	if env.refs > 0 || p.reuseByName() {
		return nil
	}
	if p.cache[env.Key] == env {
		delete(p.cache, env.Key)
	}
	return env.terminate(ctx)
}

func (p *Provisioner) start(ctx context.Context, key string) (env *Environment, err error) {
	env = &Environment{Key: key}

	// Best-effort cleanup of whatever did start.
	defer func() {
		if err != nil {
			if terr := env.terminate(context.Background()); terr != nil {
				p.logger.Warn("cleanup after failed start", "error", terr)
			}
		}
	}()

	var netOpt testcontainers.CustomizeRequestOption
	var proxyNetOpt testcontainers.CustomizeRequestOption
	switch {
	case p.cfg.NetworkName != "":
		env.Network = p.cfg.NetworkName
		netOpt = network.WithNetworkName([]string{cassandraAlias}, p.cfg.NetworkName)
		proxyNetOpt = network.WithNetworkName([]string{toxiproxyAlias}, p.cfg.NetworkName)
	case p.cfg.FaultInjection:
		nw, nerr := network.New(ctx, network.WithLabels(map[string]string{"cqlfixture.key": key}))
		if nerr != nil {
			return env, core.NewProvisionError("failed to create network", nerr)
		}
		env.network = nw
		env.Network = nw.Name
		netOpt = network.WithNetwork([]string{cassandraAlias}, nw)
		proxyNetOpt = network.WithNetwork([]string{toxiproxyAlias}, nw)
	}

	opts := []testcontainers.ContainerCustomizer{}
	if netOpt != nil {
		opts = append(opts, netOpt)
	}
	if p.cfg.Datacenter != "" {
		opts = append(opts, testcontainers.WithEnv(map[string]string{
			"CASSANDRA_ENDPOINT_SNITCH": "GossipingPropertyFileSnitch",
			"CASSANDRA_DC":              p.cfg.Datacenter,
		}))
	}
	if p.reuseByName() {
		opts = append(opts, testcontainers.WithReuseByName("cqlfixture-cassandra-"+key))
	}

	p.logger.Info("starting cassandra container", "image", p.cfg.CassandraImage, "network", env.Network)
	began := time.Now()
	ctr, err := cassandra.Run(ctx, p.cfg.CassandraImage, opts...)
	if ctr != nil {
		env.cassandra = ctr
	}
	if err != nil {
		return env, core.NewProvisionError("failed to start cassandra container", err)
	}
	p.metrics.ObserveProvision("cassandra", time.Since(began))

	hostport, err := ctr.ConnectionHost(ctx)
	if err != nil {
		return env, core.NewProvisionError("failed to resolve cassandra endpoint", err)
	}
	if env.Cassandra, err = ParseEndpoint(hostport); err != nil {
		return env, core.NewProvisionError("failed to resolve cassandra endpoint", err)
	}
	p.logger.Info("cassandra container ready", "endpoint", env.Cassandra.String(), "took", time.Since(began).Round(time.Millisecond))

	if !p.cfg.FaultInjection {
		return env, nil
	}

	proxyOpts := []testcontainers.ContainerCustomizer{
		proxyNetOpt,
		toxiproxy.WithProxy(ProxyName, net.JoinHostPort(cassandraAlias, strconv.Itoa(CQLPort))),
	}
	if p.reuseByName() {
		proxyOpts = append(proxyOpts, testcontainers.WithReuseByName("cqlfixture-toxiproxy-"+key))
	}

	p.logger.Info("starting toxiproxy container", "image", p.cfg.ProxyImage)
	began = time.Now()
	proxy, err := toxiproxy.Run(ctx, p.cfg.ProxyImage, proxyOpts...)
	if proxy != nil {
		env.proxy = proxy
	}
	if err != nil {
		return env, core.NewProvisionError("failed to start toxiproxy container", err)
	}
	p.metrics.ObserveProvision("toxiproxy", time.Since(began))

	host, port, err := proxy.ProxiedEndpoint(ProxyListenPort)
	if err != nil {
		return env, core.NewProvisionError("failed to resolve proxied endpoint", err)
	}
	if env.Proxied, err = ParseEndpoint(net.JoinHostPort(host, port)); err != nil {
		return env, core.NewProvisionError("failed to resolve proxied endpoint", err)
	}
	if env.ProxyAPI, err = proxy.URI(ctx); err != nil {
		return env, core.NewProvisionError("failed to resolve toxiproxy api", err)
	}
	env.ProxyName = ProxyName

	p.logger.Info("toxiproxy container ready", "proxied", env.Proxied.String(), "api", env.ProxyAPI)
	return env, nil
}

// reuseByName reports whether containers may be shared across processes.
// A generated network cannot be found again by a later process, so
// cross-process reuse of a proxied environment needs a named network.
func (p *Provisioner) reuseByName() bool {
	return p.cfg.Reuse && (!p.cfg.FaultInjection || p.cfg.NetworkName != "")
}

// Close terminates every cached environment.
func (p *Provisioner) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, env := range p.cache {
		if err := env.terminate(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(p.cache, key)
	}
	return errors.Join(errs...)
}

// Environment is a running Cassandra instance and, when fault injection is
// enabled, the proxy in front of it.
type Environment struct {
	// Cassandra is the host-mapped CQL endpoint, bypassing the proxy.
	Cassandra Endpoint
	// Proxied is the host-mapped proxy endpoint; zero without fault injection.
	Proxied Endpoint
	// ProxyAPI is the Toxiproxy control API URI.
	ProxyAPI  string
	ProxyName string
	Network   string
	Key       string

	cassandra *cassandra.CassandraContainer
	proxy     *toxiproxy.Container
	network   *testcontainers.DockerNetwork

	refs    int
	release func(ctx context.Context) error
}

// FaultInjection reports whether a proxy fronts Cassandra.
func (e *Environment) FaultInjection() bool {
	return !e.Proxied.IsZero()
}

// ClientEndpoint is the endpoint sessions should connect to: the proxy when
// present, Cassandra otherwise.
func (e *Environment) ClientEndpoint() Endpoint {
	if e.FaultInjection() {
		return e.Proxied
	}
	return e.Cassandra
}

// Running reports whether the Cassandra container (and proxy, if any) are running.
func (e *Environment) Running(ctx context.Context) bool {
	if e == nil || e.cassandra == nil {
		return false
	}
	state, err := e.cassandra.State(ctx)
	if err != nil || !state.Running {
		return false
	}
	if e.proxy != nil {
		state, err = e.proxy.State(ctx)
		if err != nil || !state.Running {
			return false
		}
	}
	return true
}

// Terminate stops the environment. A cached environment is only released;
// it stops with its last holder, unless its containers are reusable by name
// from later processes, in which case Provisioner.Close stops them.
func (e *Environment) Terminate(ctx context.Context) error {
	if e.release != nil {
		return e.release(ctx)
	}
	return e.terminate(ctx)
}

// terminate stops proxy, Cassandra and network in that order.
func (e *Environment) terminate(ctx context.Context) error {
	var errs []error
	if e.proxy != nil {
		if err := e.proxy.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate toxiproxy: %w", err))
		}
		e.proxy = nil
	}
	if e.cassandra != nil {
		if err := e.cassandra.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate cassandra: %w", err))
		}
		e.cassandra = nil
	}
	if e.network != nil {
		if err := e.network.Remove(ctx); err != nil {
			errs = append(errs, fmt.Errorf("remove network: %w", err))
		}
		e.network = nil
	}
	return errors.Join(errs...)
}
