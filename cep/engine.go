package cep

// Engine is the continuous-query engine an Endpoint runs its query on.
// Implementations own matching, correlation and windowing; the endpoint only
// creates, subscribes to and tears down queries.
type Engine interface {
	// CreatePattern creates a query from a pattern expression.
	CreatePattern(expr string) (Query, error)
	// CreateStatement creates a query from a query-language statement.
	CreateStatement(expr string) (Query, error)
	// SendEvent feeds an event of the given type into the engine.
	SendEvent(eventType string, event any) error
}

// Query is a handle to a query running inside an Engine.
//
// Stop and Destroy are not required to be idempotent; an Endpoint calls each
// at most once per created query.
type Query interface {
	// ID identifies the query within its engine.
	ID() string
	// Subscribe registers a listener invoked for every event the query emits.
	// The returned function removes the listener.
	Subscribe(l Listener) (unsubscribe func())
	// Stop halts event emission.
	Stop() error
	// Destroy releases the query. The handle is unusable afterwards.
	Destroy() error
}

// Listener receives events emitted by a Query. Engines may invoke listeners
// from any goroutine, concurrently with Attach and Detach.
type Listener func(EventBean)

// EventBean is an event emitted by a query.
type EventBean interface {
	// EventType names the event's type within the engine.
	EventType() string
	// Get returns a single property.
	Get(property string) (any, bool)
	// Properties returns all properties as a map.
	Properties() map[string]any
	// Underlying returns the engine's native representation of the event.
	Underlying() any
}
