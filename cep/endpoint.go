package cep

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/fxsml/gopipe-cep/message"
)

// Attribute keys set on messages translated from query events.
const (
	AttrEndpointName    = "endpoint-name"
	AttrQueryHandle     = "query-handle"
	AttrPattern         = "pattern"
	AttrQueryExpression = "query-expression"
	AttrMapEvents       = "map-events"
)

// EventType is the CloudEvents type of translated query events.
const EventType = "cep.event"

// EndpointConfig configures an Endpoint.
type EndpointConfig struct {
	// Name identifies the endpoint. Required.
	Name string
	// Pattern is a pattern expression. Mutually exclusive with Query.
	Pattern string
	// Query is a query-language statement. Mutually exclusive with Pattern.
	Query string
	// MapEvents makes producers send map events (attributes plus "body")
	// and marks translated messages so payloads are flattened to maps.
	MapEvents bool
	// Logger for lifecycle events (default: slog.Default()).
	Logger message.Logger
	// Metrics records lifecycle counters (optional).
	Metrics *Metrics
}

func (c EndpointConfig) parse() EndpointConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Endpoint owns at most one engine query and shares it between all attached
// consumers. The query is created on the first Attach and stopped and
// destroyed when the last consumer detaches.
type Endpoint struct {
	name      string
	expr      Expression
	mapEvents bool
	engine    Engine
	logger    message.Logger
	metrics   *Metrics

	// mu guards consumers and query as one unit.
	mu        sync.Mutex
	consumers int
	query     Query
	closed    bool
}

// NewEndpoint creates an endpoint. No query is created until the first Attach.
// Returns ErrConfig if the name is empty, the engine is nil, or not exactly
// one of Pattern and Query is set.
func NewEndpoint(engine Engine, cfg EndpointConfig) (*Endpoint, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrConfig)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: endpoint name is required", ErrConfig)
	}
	expr, err := NewExpression(cfg.Pattern, cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", cfg.Name, err)
	}
	cfg = cfg.parse()
	return &Endpoint{
		name:      cfg.Name,
		expr:      expr,
		mapEvents: cfg.MapEvents,
		engine:    engine,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Name returns the endpoint identity.
func (e *Endpoint) Name() string { return e.name }

// Expression returns the configured expression.
func (e *Endpoint) Expression() Expression { return e.expr }

// MapEvents reports whether map events are enabled.
func (e *Endpoint) MapEvents() bool { return e.mapEvents }

// Engine returns the engine queries are created on.
func (e *Endpoint) Engine() Engine { return e.engine }

// Consumers returns the number of attached consumers.
func (e *Endpoint) Consumers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumers
}

// ActiveQuery returns the live query, or nil if none is attached.
func (e *Endpoint) ActiveQuery() Query {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.query
}

// Attach registers a consumer and returns the shared query, creating it on
// the engine if no consumer is attached yet. If the engine rejects the
// expression, ErrQueryCreation is returned and the consumer count is
// unchanged.
func (e *Endpoint) Attach() (Query, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: %q", ErrEndpointClosed, e.name)
	}

	if e.query == nil {
		q, err := e.expr.create(e.engine)
		if err == nil && q == nil {
			err = errors.New("engine returned no query")
		}
		if err != nil {
			e.metrics.queryError(e.name, "create")
			e.logger.Error("Failed to create query",
				"component", "endpoint",
				"endpoint", e.name,
				"expression", e.expr.String(),
				"error", err)
			return nil, fmt.Errorf("%w: endpoint %q: %w", ErrQueryCreation, e.name, err)
		}
		e.query = q
		e.metrics.queryCreated(e.name)
		e.logger.Debug("Query created",
			"component", "endpoint",
			"endpoint", e.name,
			"query", q.ID())
	}

	e.consumers++
	e.metrics.setConsumers(e.name, e.consumers)
	return e.query, nil
}

// Detach unregisters a consumer. When the last consumer detaches, the query
// is stopped, destroyed and forgotten so that the next Attach creates a new
// one.
//
// Detach without a matching Attach leaves the count at zero and returns
// ErrProtocolMisuse. Teardown errors are returned wrapped in ErrTeardown,
// after the endpoint has already released the query.
func (e *Endpoint) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.consumers == 0 {
		e.metrics.queryError(e.name, "misuse")
		e.logger.Warn("Detach without matching attach",
			"component", "endpoint",
			"endpoint", e.name)
		return fmt.Errorf("%w: detach without attach on endpoint %q", ErrProtocolMisuse, e.name)
	}

	e.consumers--
	e.metrics.setConsumers(e.name, e.consumers)
	if e.consumers > 0 || e.query == nil {
		return nil
	}

	q := e.query
	e.query = nil
	return e.teardown(q)
}

// Close tears down the live query regardless of attached consumers and
// rejects further Attach calls. Consumers still attached may Detach
// afterwards without error.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.query == nil {
		return nil
	}
	q := e.query
	e.query = nil
	if e.consumers > 0 {
		e.logger.Info("Closing endpoint with attached consumers",
			"component", "endpoint",
			"endpoint", e.name,
			"consumers", e.consumers)
	}
	return e.teardown(q)
}

// teardown stops then destroys q. Must be called with e.mu held.
func (e *Endpoint) teardown(q Query) error {
	err := multierr.Append(q.Stop(), q.Destroy())
	if err != nil {
		e.metrics.queryError(e.name, "teardown")
		e.logger.Error("Failed to tear down query",
			"component", "endpoint",
			"endpoint", e.name,
			"query", q.ID(),
			"error", err)
		return fmt.Errorf("%w: endpoint %q: %w", ErrTeardown, e.name, err)
	}
	e.metrics.queryDestroyed(e.name)
	e.logger.Debug("Query destroyed",
		"component", "endpoint",
		"endpoint", e.name,
		"query", q.ID())
	return nil
}

// TranslateEvent wraps an event emitted by q into a message. The message data
// is the event itself; attributes name the endpoint, the query and the
// configured expression.
func (e *Endpoint) TranslateEvent(q Query, ev EventBean) (*message.Message, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event on endpoint %q", ErrMalformedEvent, e.name)
	}

	attrs := message.Attributes{
		message.AttrID:          message.NewID(),
		message.AttrSpecVersion: "1.0",
		message.AttrType:        EventType,
		message.AttrSource:      "cep:" + e.name,
		message.AttrSubject:     ev.EventType(),
		message.AttrTime:        time.Now().UTC().Format(time.RFC3339),
		AttrEndpointName:        e.name,
		AttrQueryHandle:         q,
	}
	switch e.expr.Kind {
	case KindPattern:
		attrs[AttrPattern] = e.expr.Value
	case KindQuery:
		attrs[AttrQueryExpression] = e.expr.Value
	}
	if e.mapEvents {
		attrs[AttrMapEvents] = true
	}

	return message.New(ev, attrs), nil
}
