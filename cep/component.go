package cep

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/fxsml/gopipe-cep/message"
)

// Scheme is the URI scheme of CEP endpoints, e.g.
//
//	cep:orders?query=select+*+from+Order+where+event.amount+>+100&mapEvents=true
const Scheme = "cep"

// URI parameters.
const (
	ParamPattern   = "pattern"
	ParamQuery     = "query"
	ParamEQL       = "eql" // alias of ParamQuery
	ParamMapEvents = "mapEvents"
)

// ComponentConfig configures a Component.
type ComponentConfig struct {
	// Logger is passed to endpoints that do not set their own
	// (default: slog.Default()).
	Logger message.Logger
	// Metrics is passed to endpoints that do not set their own (optional).
	Metrics *Metrics
}

// Component creates endpoints on a shared engine. Endpoints are singletons
// per name: every lookup of a name returns the same *Endpoint.
type Component struct {
	engine Engine
	cfg    ComponentConfig

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	closed    bool
}

// NewComponent creates a component for engine.
//
// Panics if engine is nil.
func NewComponent(engine Engine, cfg ComponentConfig) *Component {
	if engine == nil {
		panic("cep: engine cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Component{
		engine:    engine,
		cfg:       cfg,
		endpoints: make(map[string]*Endpoint),
	}
}

// Engine returns the shared engine.
func (c *Component) Engine() Engine { return c.engine }

// Endpoint resolves a URI to an endpoint. A URI carrying only a name
// returns the endpoint already registered under that name.
func (c *Component) Endpoint(uri string) (*Endpoint, error) {
	cfg, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if cfg.Pattern == "" && cfg.Query == "" {
		if ep, ok := c.Lookup(cfg.Name); ok {
			return ep, nil
		}
	}
	return c.Register(cfg)
}

// Register returns the endpoint named cfg.Name, creating it if needed.
// Registering an existing name with a different expression or MapEvents
// setting returns ErrConfig.
func (c *Component) Register(cfg EndpointConfig) (*Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: component closed", ErrEndpointClosed)
	}

	if ep, ok := c.endpoints[cfg.Name]; ok {
		expr, err := NewExpression(cfg.Pattern, cfg.Query)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", cfg.Name, err)
		}
		if expr != ep.expr || cfg.MapEvents != ep.mapEvents {
			return nil, fmt.Errorf("%w: endpoint %q already registered with a different configuration", ErrConfig, cfg.Name)
		}
		return ep, nil
	}

	if cfg.Logger == nil {
		cfg.Logger = c.cfg.Logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = c.cfg.Metrics
	}
	ep, err := NewEndpoint(c.engine, cfg)
	if err != nil {
		return nil, err
	}
	c.endpoints[cfg.Name] = ep
	return ep, nil
}

// Lookup returns the endpoint registered under name.
func (c *Component) Lookup(name string) (*Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.endpoints[name]
	return ep, ok
}

// Endpoints returns all registered endpoints sorted by name.
func (c *Component) Endpoints() []*Endpoint {
	c.mu.Lock()
	eps := make([]*Endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		eps = append(eps, ep)
	}
	c.mu.Unlock()

	sort.Slice(eps, func(i, j int) bool { return eps[i].name < eps[j].name })
	return eps
}

// Close closes every endpoint and rejects further registrations.
func (c *Component) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var err error
	for _, ep := range c.Endpoints() {
		err = multierr.Append(err, ep.Close())
	}
	return err
}

// ParseURI parses an endpoint URI of the form
//
//	cep:<name>?pattern=<expr>|query=<expr>[&mapEvents=true]
//
// "cep://<name>" is accepted as well, and eql is an alias of query.
// The expression is not validated here; a URI without one is valid for
// looking up registered endpoints.
func ParseURI(uri string) (EndpointConfig, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return EndpointConfig{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if u.Scheme != Scheme {
		return EndpointConfig{}, fmt.Errorf("%w: scheme %q, want %q", ErrConfig, u.Scheme, Scheme)
	}

	name := u.Opaque
	if name == "" {
		name = u.Host + strings.TrimSuffix(u.Path, "/")
	}
	if name == "" {
		return EndpointConfig{}, fmt.Errorf("%w: endpoint name is required in %q", ErrConfig, uri)
	}

	params := u.Query()
	for key := range params {
		switch key {
		case ParamPattern, ParamQuery, ParamEQL, ParamMapEvents:
		default:
			return EndpointConfig{}, fmt.Errorf("%w: unknown parameter %q", ErrConfig, key)
		}
	}

	cfg := EndpointConfig{
		Name:    name,
		Pattern: params.Get(ParamPattern),
		Query:   params.Get(ParamQuery),
	}
	if eql := params.Get(ParamEQL); eql != "" {
		if cfg.Query != "" {
			return EndpointConfig{}, fmt.Errorf("%w: %s and %s are aliases, set one", ErrConfig, ParamQuery, ParamEQL)
		}
		cfg.Query = eql
	}
	if v := params.Get(ParamMapEvents); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return EndpointConfig{}, fmt.Errorf("%w: %s: %w", ErrConfig, ParamMapEvents, err)
		}
		cfg.MapEvents = b
	}
	return cfg, nil
}
