// Package faults drives a Toxiproxy instance to perturb the network path
// between the test session and Cassandra.
package faults

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	toxiproxy "github.com/Shopify/toxiproxy/v2/client"

	"cqlfixture/internal/core"
	"cqlfixture/internal/metrics"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records toxic counts on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEndpoint records the address clients reach proxy name on. Toxiproxy only
// knows its in-container listen address, which is not reachable from the host.
func WithEndpoint(name, hostport string) Option {
	return func(c *Controller) { c.endpoints[name] = hostport }
}

// Controller talks to the Toxiproxy HTTP API. The client API has no context
// support, so ctx is only checked before each request.
type Controller struct {
	client    *toxiproxy.Client
	apiURI    string
	logger    *slog.Logger
	metrics   *metrics.Collector
	endpoints map[string]string
}

// NewController creates a Controller for the API at apiURI (host:port or http URL).
func NewController(apiURI string, opts ...Option) *Controller {
	c := &Controller{
		client:    toxiproxy.NewClient(apiURI),
		apiURI:    apiURI,
		logger:    slog.Default(),
		endpoints: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "faults")
	return c
}

// APIURI returns the Toxiproxy API address.
func (c *Controller) APIURI() string {
	return c.apiURI
}

// Proxy looks up an existing proxy by name.
func (c *Controller) Proxy(ctx context.Context, name string) (*Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.client.Proxy(name)
	if err != nil {
		return nil, core.NewFaultError(fmt.Sprintf("failed to look up proxy %q", name), err)
	}
	return c.wrap(p), nil
}

// CreateProxy creates a proxy listening on listen (inside the Toxiproxy
// container) and forwarding to upstream.
func (c *Controller) CreateProxy(ctx context.Context, name, listen, upstream string) (*Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.client.CreateProxy(name, listen, upstream)
	if err != nil {
		return nil, core.NewFaultError(fmt.Sprintf("failed to create proxy %q", name), err)
	}
	c.logger.Info("proxy created", "proxy", name, "listen", listen, "upstream", upstream)
	return c.wrap(p), nil
}

func (c *Controller) wrap(p *toxiproxy.Proxy) *Proxy {
	endpoint, ok := c.endpoints[p.Name]
	if !ok {
		endpoint = p.Listen
	}
	return &Proxy{
		proxy:    p,
		endpoint: endpoint,
		logger:   c.logger.With("proxy", p.Name),
		metrics:  c.metrics,
	}
}

// Proxy is one named Toxiproxy proxy. Toxics apply to new and existing
// connections immediately and stay until removed; several toxics stack.
type Proxy struct {
	proxy    *toxiproxy.Proxy
	endpoint string
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu sync.Mutex
}

// Name returns the proxy name.
func (p *Proxy) Name() string {
	return p.proxy.Name
}

// Upstream returns the address the proxy forwards to.
func (p *Proxy) Upstream() string {
	return p.proxy.Upstream
}

// Endpoint returns the address clients connect to.
func (p *Proxy) Endpoint() string {
	return p.endpoint
}

// AddToxic installs t on the proxy.
func (p *Proxy) AddToxic(ctx context.Context, t Toxic) error {
	if err := t.Validate(); err != nil {
		return core.NewFaultError("invalid toxic", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.proxy.AddToxic(t.Name, string(t.Kind), string(t.Direction), t.toxicity(), t.Attributes()); err != nil {
		return core.NewFaultError(fmt.Sprintf("failed to add toxic %q", t.Name), err)
	}
	p.metrics.ToxicAdded(string(t.Kind))
	p.logFor(ctx).Info("toxic added",
		"toxic", t.Name,
		"kind", t.Kind,
		"direction", t.Direction,
		"magnitude", t.Magnitude,
		"toxicity", t.toxicity(),
	)
	return nil
}

// AddLatency delays every packet in direction dir by d.
func (p *Proxy) AddLatency(ctx context.Context, name string, dir Direction, d time.Duration) error {
	return p.AddToxic(ctx, LatencyToxic(name, dir, d))
}

// RemoveToxic removes the named toxic, releasing any data it was holding back.
func (p *Proxy) RemoveToxic(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.proxy.RemoveToxic(name); err != nil {
		return core.NewFaultError(fmt.Sprintf("failed to remove toxic %q", name), err)
	}
	p.metrics.ToxicsRemoved(1)
	p.logFor(ctx).Info("toxic removed", "toxic", name)
	return nil
}

// Toxics lists the active toxics ordered by name.
func (p *Proxy) Toxics(ctx context.Context) ([]Toxic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := p.proxy.Toxics()
	if err != nil {
		return nil, core.NewFaultError("failed to list toxics", err)
	}
	toxics := make([]Toxic, 0, len(raw))
	for _, t := range raw {
		toxics = append(toxics, fromClient(t))
	}
	sort.Slice(toxics, func(i, j int) bool { return toxics[i].Name < toxics[j].Name })
	return toxics, nil
}

// Reset removes every toxic from the proxy.
func (p *Proxy) Reset(ctx context.Context) error {
	toxics, err := p.Toxics(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	removed := 0
	for _, t := range toxics {
		if err := p.proxy.RemoveToxic(t.Name); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", t.Name, err))
			continue
		}
		removed++
	}
	p.metrics.ToxicsRemoved(removed)
	if len(errs) > 0 {
		return core.NewFaultError("failed to reset proxy", errors.Join(errs...))
	}
	if removed > 0 {
		p.logFor(ctx).Info("proxy reset", "removed", removed)
	}
	return nil
}

func (p *Proxy) logFor(ctx context.Context) *slog.Logger {
	if id := core.GetRequestID(ctx); id != "" {
		return p.logger.With("request_id", id)
	}
	return p.logger
}
