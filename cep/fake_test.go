package cep

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

var errSyntax = errors.New("syntax error")

type fakeEngine struct {
	mu      sync.Mutex
	queries []*fakeQuery
	sent    []sentEvent

	created   atomic.Int64
	destroyed atomic.Int64

	// failCreates makes the next n creations fail.
	failCreates atomic.Int64
	// failTeardown makes Stop and Destroy of new queries fail.
	failTeardown bool
}

type sentEvent struct {
	eventType string
	event     any
}

func (e *fakeEngine) CreatePattern(expr string) (Query, error) {
	return e.create("pattern", expr)
}

func (e *fakeEngine) CreateStatement(expr string) (Query, error) {
	return e.create("statement", expr)
}

func (e *fakeEngine) create(kind, expr string) (Query, error) {
	if expr == "malformed" {
		return nil, errSyntax
	}
	if expr == "vanish" {
		return nil, nil
	}
	if e.failCreates.Load() > 0 {
		e.failCreates.Add(-1)
		return nil, errSyntax
	}
	n := e.created.Add(1)
	q := &fakeQuery{
		id:        fmt.Sprintf("%s-%d", kind, n),
		expr:      expr,
		engine:    e,
		listeners: make(map[int]Listener),
		failStop:  e.failTeardown,
	}
	e.mu.Lock()
	e.queries = append(e.queries, q)
	e.mu.Unlock()
	return q, nil
}

func (e *fakeEngine) SendEvent(eventType string, event any) error {
	if eventType == "rejected" {
		return errors.New("rejected event type")
	}
	e.mu.Lock()
	e.sent = append(e.sent, sentEvent{eventType: eventType, event: event})
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) lastSent() sentEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent[len(e.sent)-1]
}

func (e *fakeEngine) sentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

type fakeQuery struct {
	id     string
	expr   string
	engine *fakeEngine

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	ops       []string
	stopped   bool
	destroyed bool
	failStop  bool
}

func (q *fakeQuery) ID() string { return q.id }

func (q *fakeQuery) Subscribe(l Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = l
	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

func (q *fakeQuery) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, "stop")
	q.stopped = true
	if q.failStop {
		return errors.New("stop refused")
	}
	return nil
}

func (q *fakeQuery) Destroy() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, "destroy")
	if q.destroyed {
		return errors.New("already destroyed")
	}
	q.destroyed = true
	q.engine.destroyed.Add(1)
	return nil
}

// emit delivers ev to a snapshot of the listeners, outside the lock.
func (q *fakeQuery) emit(ev EventBean) {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return
	}
	for _, l := range q.snapshot() {
		l(ev)
	}
}

func (q *fakeQuery) snapshot() []Listener {
	q.mu.Lock()
	defer q.mu.Unlock()
	ls := make([]Listener, 0, len(q.listeners))
	for _, l := range q.listeners {
		ls = append(ls, l)
	}
	return ls
}

func (q *fakeQuery) listenerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.listeners)
}

type fakeBean struct {
	typ   string
	props map[string]any
}

func (b *fakeBean) EventType() string { return b.typ }

func (b *fakeBean) Get(p string) (any, bool) {
	v, ok := b.props[p]
	return v, ok
}

func (b *fakeBean) Properties() map[string]any { return b.props }

func (b *fakeBean) Underlying() any { return b.props }

func newBean(typ string, kv ...any) *fakeBean {
	props := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		props[kv[i].(string)] = kv[i+1]
	}
	return &fakeBean{typ: typ, props: props}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

func newTestEndpoint(t testing.TB, engine Engine, cfg EndpointConfig) *Endpoint {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "orders"
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger{}
	}
	ep, err := NewEndpoint(engine, cfg)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	return ep
}
