// Package rabbitmq publishes query results to RabbitMQ exchanges.
//
// The topic passed to Publish is the routing key; the exchange is fixed per
// publisher.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"github.com/fxsml/gopipe-cep/adapters"
	"github.com/fxsml/gopipe-cep/message"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// URL is an amqp:// or amqps:// URL.
	URL string

	// Exchange receives every publish; empty means the default exchange.
	Exchange string

	// ExchangeType, with Exchange, makes Connect declare the exchange,
	// durable when Durable is set.
	ExchangeType string
	Durable      bool

	// Mandatory asks the broker to return unroutable results.
	Mandatory bool

	// DeliveryMode is amqp.Transient or amqp.Persistent (default).
	DeliveryMode uint8

	// Marshaler encodes payloads. Default is JSON.
	Marshaler message.Marshaler

	// Logger defaults to slog.Default().
	Logger message.Logger

	// Retry retries failed publishes in PublishAll (default: no retries).
	Retry *adapters.RetryConfig
}

func (c PublisherConfig) applyDefaults() PublisherConfig {
	if c.DeliveryMode == 0 {
		c.DeliveryMode = amqp.Persistent
	}
	if c.Marshaler == nil {
		c.Marshaler = message.NewJSONMarshaler()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Publisher writes query results to one exchange.
type Publisher struct {
	cfg PublisherConfig

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher. Publish fails until Connect succeeds.
func NewPublisher(cfg PublisherConfig) *Publisher {
	return &Publisher{cfg: cfg.applyDefaults()}
}

// Connect dials URL, opens a channel and declares the exchange when
// ExchangeType is set.
func (p *Publisher) Connect(ctx context.Context) error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if err := p.declare(ch); err != nil {
		_ = multierr.Combine(ch.Close(), conn.Close())
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.ch = ch
	p.mu.Unlock()
	return nil
}

// Publish publishes a single message with routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg *message.Message) error {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()

	if ch == nil {
		return errNotConnected
	}

	pub, err := p.publishing(msg)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx,
		p.cfg.Exchange,
		routingKey,
		p.cfg.Mandatory,
		false, // immediate (deprecated)
		pub,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", routingKey, err)
	}
	return nil
}

// PublishAll publishes every message from msgs with routingKey until msgs
// is closed or ctx is done.
func (p *Publisher) PublishAll(ctx context.Context, routingKey string, msgs <-chan *message.Message) error {
	return adapters.PublishAll(ctx, routingKey, msgs, adapters.WithRetry(p.Publish, p.cfg.Retry), p.cfg.Logger, "rabbitmq")
}

// Close closes the channel, then the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	if p.ch != nil {
		errs = multierr.Append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = multierr.Append(errs, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return errs
}

var errNotConnected = errors.New("rabbitmq: not connected")

func (p *Publisher) declare(ch *amqp.Channel) error {
	if p.cfg.Exchange == "" || p.cfg.ExchangeType == "" {
		return nil
	}
	const autoDelete, internal, noWait = false, false, false
	err := ch.ExchangeDeclare(p.cfg.Exchange, p.cfg.ExchangeType, p.cfg.Durable, autoDelete, internal, noWait, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: declare exchange %s: %w", p.cfg.Exchange, err)
	}
	return nil
}

func (p *Publisher) publishing(msg *message.Message) (amqp.Publishing, error) {
	body, headers, err := adapters.Encode(msg, p.cfg.Marshaler)
	if err != nil {
		return amqp.Publishing{}, err
	}

	pub := amqp.Publishing{
		DeliveryMode: p.cfg.DeliveryMode,
		Timestamp:    time.Now(),
		MessageId:    headers[message.AttrID],
		Type:         headers[message.AttrType],
		ContentType:  headers[message.AttrDataContentType],
		Body:         body,
		Headers:      make(amqp.Table, len(headers)),
	}
	for k, v := range headers {
		pub.Headers[k] = v
	}
	return pub, nil
}
