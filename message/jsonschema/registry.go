// Package jsonschema validates message payloads against JSON Schema
// definitions registered per event type.
//
// Schemas are the data contract of events fed into an engine: validation
// rejects events with missing or mistyped properties before any query sees
// them.
//
//	registry := jsonschema.NewRegistry()
//	registry.MustRegister("Order", `{"type":"object","required":["id","amount"]}`)
//	producer := cep.NewProducer(ep, cep.ProducerConfig{Validate: registry.ValidateMessage})
//
// Schema serving:
//
//	w.Header().Set("Content-Type", "application/schema+json")
//	w.Write(registry.Schemas())
package jsonschema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/fxsml/gopipe-cep/message"
)

var (
	// ErrInvalidSchema is returned when a schema cannot be compiled.
	ErrInvalidSchema = errors.New("jsonschema: invalid schema")

	// ErrValidation is returned when data does not conform to its schema.
	ErrValidation = errors.New("jsonschema: validation failed")
)

// Registry validates payloads by event type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*entry
}

type entry struct {
	compiled *gojsonschema.Schema
	raw      []byte
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*entry)}
}

// Register compiles schemaJSON and stores it for eventType, replacing any
// earlier schema.
func (r *Registry) Register(eventType, schemaJSON string) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("%w for %q: %w", ErrInvalidSchema, eventType, err)
	}

	r.mu.Lock()
	r.schemas[eventType] = &entry{compiled: compiled, raw: []byte(schemaJSON)}
	r.mu.Unlock()
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(eventType, schemaJSON string) {
	if err := r.Register(eventType, schemaJSON); err != nil {
		panic(err)
	}
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// Validate checks data, a decoded JSON value or Go struct, against the
// schema of eventType. Types without a schema pass.
func (r *Registry) Validate(eventType string, data any) error {
	r.mu.RLock()
	e, ok := r.schemas[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	result, err := e.compiled.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("%w for %q: %w", ErrValidation, eventType, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("%w for %q: %s", ErrValidation, eventType, strings.Join(errs, "; "))
	}
	return nil
}

// ValidateMessage validates msg.Data against the schema of the message's
// type attribute.
func (r *Registry) ValidateMessage(msg *message.Message) error {
	if msg == nil {
		return message.ErrNilMessage
	}
	eventType, _ := msg.Attributes.Type()
	return r.Validate(eventType, msg.Data)
}

// Schema returns the raw schema of eventType, or nil.
func (r *Registry) Schema(eventType string) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.schemas[eventType]; ok {
		return e.raw
	}
	return nil
}

// Schemas returns a JSON Schema document holding every registered schema
// under "definitions", keyed by event type.
func (r *Registry) Schemas() []byte {
	r.mu.RLock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)

	var b strings.Builder
	b.WriteString(`{"$schema":"http://json-schema.org/draft-07/schema#","definitions":{`)
	for i, t := range types {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:%s", t, r.schemas[t].raw)
	}
	b.WriteString("}}")
	r.mu.RUnlock()
	return []byte(b.String())
}
