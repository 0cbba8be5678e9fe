package cloudevents

import (
	"context"
	"fmt"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/fxsml/gopipe-cep/message"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Marshaler encodes event data (default: JSON).
	Marshaler message.Marshaler
	// Payload selects the value to encode (default: msg.Data).
	Payload func(msg *message.Message) any
	// Headers renders the attributes to send (default: msg.Attributes.Strings()).
	Headers func(msg *message.Message) map[string]string
	// Logger for send failures (default: slog.Default()).
	Logger message.Logger
}

func (c PublisherConfig) parse() PublisherConfig {
	if c.Marshaler == nil {
		c.Marshaler = message.NewJSONMarshaler()
	}
	if c.Payload == nil {
		c.Payload = func(msg *message.Message) any { return msg.Data }
	}
	if c.Headers == nil {
		c.Headers = func(msg *message.Message) map[string]string { return msg.Attributes.Strings() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Publisher sends messages as CloudEvents through a CloudEvents client.
type Publisher struct {
	client cloudevents.Client
	cfg    PublisherConfig
}

// NewPublisher creates a publisher on client.
//
// Panics if client is nil.
func NewPublisher(client cloudevents.Client, cfg PublisherConfig) *Publisher {
	if client == nil {
		panic("cloudevents: client cannot be nil")
	}
	return &Publisher{client: client, cfg: cfg.parse()}
}

// NewHTTPPublisher creates a publisher posting events to target in binary
// content mode.
func NewHTTPPublisher(target string, cfg PublisherConfig) (*Publisher, error) {
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	return NewPublisher(client, cfg), nil
}

// Publish converts msg and sends it. The message is acked when the receiver
// acknowledges the event and nacked otherwise.
func (p *Publisher) Publish(ctx context.Context, msg *message.Message) error {
	if msg == nil {
		return message.ErrNilMessage
	}
	event, err := toEvent(p.cfg.Payload(msg), p.cfg.Headers(msg), p.cfg.Marshaler)
	if err != nil {
		msg.Nack(err)
		return err
	}

	if result := p.client.Send(ctx, *event); !cloudevents.IsACK(result) {
		err := fmt.Errorf("send event %s: %w", event.ID(), result)
		msg.Nack(err)
		return err
	}
	msg.Ack()
	return nil
}

// PublishAll publishes messages until msgs is closed or ctx is done.
// Failures are logged and do not stop the loop.
func (p *Publisher) PublishAll(ctx context.Context, msgs <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, msg); err != nil {
				p.cfg.Logger.Error("Message send failed",
					"component", "publisher",
					"transport", "cloudevents",
					"error", err)
			}
		}
	}
}
