package cep

import (
	"fmt"
	"sync/atomic"

	"github.com/fxsml/gopipe-cep/message"
)

// Processor handles a message translated from a query event.
type Processor func(msg *message.Message) error

// ErrorHandler is called when an event cannot be translated or processed.
// msg is nil for translation failures.
type ErrorHandler func(msg *message.Message, err error)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// ErrorHandler receives translation and processing failures
	// (default: log at error level via the endpoint logger).
	ErrorHandler ErrorHandler
}

func (c ConsumerConfig) parse(ep *Endpoint) ConsumerConfig {
	if c.ErrorHandler == nil {
		c.ErrorHandler = func(msg *message.Message, err error) {
			args := []any{
				"component", "consumer",
				"endpoint", ep.name,
				"error", err,
			}
			if msg != nil {
				args = append(args, "attributes", msg.Attributes)
			}
			ep.logger.Error("Failed to process query event", args...)
		}
	}
	return c
}

// Consumer is one subscriber's claim on an endpoint's query. It is attached
// on creation and detaches exactly once on Dispose.
type Consumer struct {
	endpoint    *Endpoint
	query       Query
	unsubscribe func()
	disposed    atomic.Bool
}

// NewConsumer attaches to ep and delivers every event of the shared query to
// proc. Returns the Attach error, typically ErrQueryCreation.
//
// Panics if ep or proc is nil.
func NewConsumer(ep *Endpoint, proc Processor, cfg ConsumerConfig) (*Consumer, error) {
	if ep == nil {
		panic("cep: endpoint cannot be nil")
	}
	if proc == nil {
		panic("cep: processor cannot be nil")
	}
	cfg = cfg.parse(ep)

	q, err := ep.Attach()
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		endpoint: ep,
		query:    q,
	}
	c.unsubscribe = q.Subscribe(listener(ep, q, proc, cfg.ErrorHandler))
	return c, nil
}

// listener binds the query and processor at subscribe time, so delivery never
// reads the endpoint's mutable query field and survives a concurrent teardown.
// Processor panics reach onError as *RecoveryError.
func listener(ep *Endpoint, q Query, proc Processor, onError ErrorHandler) Listener {
	proc = recoverProcessor(proc)
	return func(ev EventBean) {
		msg, err := ep.TranslateEvent(q, ev)
		if err != nil {
			onError(nil, err)
			return
		}
		ep.metrics.eventTranslated(ep.name)
		if err := proc(msg); err != nil {
			onError(msg, err)
		}
	}
}

// Endpoint returns the endpoint the consumer is attached to.
func (c *Consumer) Endpoint() *Endpoint { return c.endpoint }

// Query returns the query captured on attach.
func (c *Consumer) Query() Query { return c.query }

// Disposed reports whether Dispose was called.
func (c *Consumer) Disposed() bool { return c.disposed.Load() }

// Dispose unsubscribes and detaches from the endpoint. Only the first call
// detaches; later calls return ErrProtocolMisuse.
func (c *Consumer) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: consumer on endpoint %q already disposed", ErrProtocolMisuse, c.endpoint.name)
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.endpoint.Detach()
}
