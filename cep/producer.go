package cep

import (
	"context"
	"fmt"

	"github.com/fxsml/gopipe-cep/message"
)

// BodyKey is the map-event key holding the message data.
const BodyKey = "body"

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	// Logger for send failures in Produce (default: the endpoint logger).
	Logger message.Logger
	// Validate rejects messages before they reach the engine (optional).
	// Rejected messages are nacked with an error wrapping ErrRejected.
	Validate func(msg *message.Message) error
}

// Producer sends messages into the endpoint's engine as events.
type Producer struct {
	endpoint *Endpoint
	logger   message.Logger
	validate func(msg *message.Message) error
}

// NewProducer creates a producer for ep. Producers never attach; they only
// feed events to the engine.
//
// Panics if ep is nil.
func NewProducer(ep *Endpoint, cfg ProducerConfig) *Producer {
	if ep == nil {
		panic("cep: endpoint cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = ep.logger
	}
	return &Producer{
		endpoint: ep,
		logger:   cfg.Logger,
		validate: cfg.Validate,
	}
}

// Send converts msg into an engine event and sends it. The message is acked
// on success and nacked on failure.
//
// With map events the event is a map of all attributes plus BodyKey holding
// the data, sent under the endpoint name. Otherwise the data is sent as is,
// typed by the message's type attribute or, if absent, the endpoint name.
func (p *Producer) Send(ctx context.Context, msg *message.Message) error {
	if msg == nil {
		return message.ErrNilMessage
	}
	if err := ctx.Err(); err != nil {
		msg.Nack(err)
		return err
	}

	if p.validate != nil {
		if err := p.validate(msg); err != nil {
			err = fmt.Errorf("%w by endpoint %q: %w", ErrRejected, p.endpoint.name, err)
			msg.Nack(err)
			return err
		}
	}

	eventType, event := p.event(msg)
	if err := p.endpoint.engine.SendEvent(eventType, event); err != nil {
		err = fmt.Errorf("cep: send %q event to endpoint %q: %w", eventType, p.endpoint.name, err)
		msg.Nack(err)
		return err
	}
	msg.Ack()
	return nil
}

func (p *Producer) event(msg *message.Message) (string, any) {
	if p.endpoint.mapEvents {
		ev := make(map[string]any, len(msg.Attributes)+1)
		for k, v := range msg.Attributes {
			ev[k] = v
		}
		ev[BodyKey] = msg.Data
		return p.endpoint.name, ev
	}
	if t, ok := msg.Attributes.Type(); ok && t != "" {
		return t, msg.Data
	}
	return p.endpoint.name, msg.Data
}

// Produce sends every message from msgs until msgs is closed or ctx is done.
// Failures are logged and do not stop the loop. The returned channel closes
// when Produce returns.
func (p *Producer) Produce(ctx context.Context, msgs <-chan *message.Message) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := p.Send(ctx, msg); err != nil {
					p.logger.Error("Failed to send event",
						"component", "producer",
						"endpoint", p.endpoint.name,
						"error", err)
				}
			}
		}
	}()
	return done
}
