// Package adapters holds what the broker publishers share: payload
// encoding and the publish loop.
//
// Each broker lives in its own subpackage. Publishers send query results,
// encoding cep.Payload as the body and cep.Headers as broker headers:
//
//	pub := nats.NewPublisher(nats.PublisherConfig{URL: "nats://localhost:4222"})
//	if err := pub.Connect(ctx); err != nil {
//	    return err
//	}
//	defer pub.Close()
//	msgs, _ := endpoint.Subscribe(ctx, cep.SubscribeConfig{})
//	pub.PublishAll(ctx, "alerts.large-orders", msgs)
package adapters

import (
	"context"
	"fmt"

	"github.com/fxsml/gopipe-cep/cep"
	"github.com/fxsml/gopipe-cep/message"
)

// Encode renders msg for a broker: the body is the marshaled cep.Payload,
// headers are cep.Headers.
func Encode(msg *message.Message, marshaler message.Marshaler) ([]byte, map[string]string, error) {
	if msg == nil {
		return nil, nil, message.ErrNilMessage
	}
	if marshaler == nil {
		marshaler = message.NewJSONMarshaler()
	}
	body, err := marshaler.Marshal(cep.Payload(msg))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	headers := cep.Headers(msg)
	if _, ok := headers[message.AttrDataContentType]; !ok {
		headers[message.AttrDataContentType] = marshaler.DataContentType()
	}
	return body, headers, nil
}

// PublishFunc publishes one message to topic.
type PublishFunc func(ctx context.Context, topic string, msg *message.Message) error

// PublishAll publishes every message from msgs to topic until msgs is closed
// or ctx is done. Messages are acked after a successful publish and nacked
// otherwise; failures are logged and do not stop the loop.
func PublishAll(ctx context.Context, topic string, msgs <-chan *message.Message, publish PublishFunc, logger message.Logger, transport string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := publish(ctx, topic, msg); err != nil {
				msg.Nack(err)
				logger.Error("Failed to publish message",
					"component", "publisher",
					"transport", transport,
					"topic", topic,
					"error", err)
				continue
			}
			msg.Ack()
			logger.Debug("Published message",
				"component", "publisher",
				"transport", transport,
				"topic", topic)
		}
	}
}
