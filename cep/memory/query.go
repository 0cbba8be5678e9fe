package memory

import (
	"fmt"
	"sync"

	"github.com/fxsml/gopipe-cep/cep"
)

// Query is a statement or pattern running on an Engine.
type Query struct {
	id      string
	expr    string
	engine  *Engine
	matcher matcher

	// mu guards matcher state along with the fields below.
	mu        sync.Mutex
	listeners map[uint64]cep.Listener
	nextID    uint64
	stopped   bool
	destroyed bool
}

var _ cep.Query = (*Query)(nil)

// ID implements cep.Query.
func (q *Query) ID() string { return q.id }

// Expression returns the source expression.
func (q *Query) Expression() string { return q.expr }

// Subscribe implements cep.Query. Subscribing to a destroyed query is a
// no-op.
func (q *Query) Subscribe(l cep.Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed || l == nil {
		return func() {}
	}
	id := q.nextID
	q.nextID++
	q.listeners[id] = l
	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Stop halts matching and emission. Stopping twice is allowed.
func (q *Query) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return fmt.Errorf("%w: %s", ErrDestroyed, q.id)
	}
	q.stopped = true
	return nil
}

// Start resumes a stopped query.
func (q *Query) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return fmt.Errorf("%w: %s", ErrDestroyed, q.id)
	}
	q.stopped = false
	return nil
}

// Destroy removes the query from its engine and drops all listeners.
func (q *Query) Destroy() error {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDestroyed, q.id)
	}
	q.destroyed = true
	q.stopped = true
	q.listeners = nil
	q.mu.Unlock()

	q.engine.remove(q.id)
	return nil
}

// Stopped reports whether the query is stopped or destroyed.
func (q *Query) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

func (q *Query) process(eventType string, props map[string]any, raw any) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	out := q.matcher.match(eventType, props, raw)
	if len(out) == 0 || len(q.listeners) == 0 {
		q.mu.Unlock()
		return
	}
	listeners := make([]cep.Listener, 0, len(q.listeners))
	for _, l := range q.listeners {
		listeners = append(listeners, l)
	}
	q.mu.Unlock()

	for _, ev := range out {
		for _, l := range listeners {
			l(ev)
		}
	}
}
