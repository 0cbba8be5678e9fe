// Package nats publishes query results to NATS subjects and feeds NATS
// messages into CEP producers.
//
// Subjects support wildcards on the subscribing side: "*" matches a single
// token, ">" matches the rest, e.g. "orders.>".
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fxsml/gopipe-cep/adapters"
	"github.com/fxsml/gopipe-cep/message"
)

// Attribute keys set on received messages.
const (
	AttrNATSSubject = "nats.subject"
	AttrNATSReply   = "nats.reply"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// URL of the server, e.g. "nats://localhost:4222".
	URL string

	// ConnectTimeout bounds the initial dial (default: 5s).
	ConnectTimeout time.Duration

	// FlushTimeout bounds the flush after each publish (default: 1s).
	FlushTimeout time.Duration

	// Marshaler encodes payloads. Default is JSON.
	Marshaler message.Marshaler

	// Logger defaults to slog.Default().
	Logger message.Logger

	// Retry retries failed publishes in PublishAll (default: no retries).
	Retry *adapters.RetryConfig
}

func (c PublisherConfig) applyDefaults() PublisherConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = time.Second
	}
	if c.Marshaler == nil {
		c.Marshaler = message.NewJSONMarshaler()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Publisher writes query results to NATS subjects.
type Publisher struct {
	cfg  PublisherConfig
	mu   sync.Mutex
	conn *nats.Conn
}

// NewPublisher creates a new NATS publisher. Call Connect before publishing.
func NewPublisher(cfg PublisherConfig) *Publisher {
	return &Publisher{cfg: cfg.applyDefaults()}
}

// Connect dials URL. Publish fails until it succeeds.
func (p *Publisher) Connect(ctx context.Context) error {
	conn, err := connect(p.cfg.URL, p.cfg.ConnectTimeout, p.cfg.Logger)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

// Publish publishes a single message to subject and flushes.
func (p *Publisher) Publish(ctx context.Context, subject string, msg *message.Message) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return errNotConnected
	}

	natsMsg, err := toNATSMsg(subject, msg, p.cfg.Marshaler)
	if err != nil {
		return err
	}
	if err := conn.PublishMsg(natsMsg); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}
	if err := conn.FlushTimeout(p.cfg.FlushTimeout); err != nil {
		return fmt.Errorf("nats: flush %s: %w", subject, err)
	}
	return nil
}

// PublishAll publishes every message from msgs to subject until msgs is
// closed or ctx is done.
func (p *Publisher) PublishAll(ctx context.Context, subject string, msgs <-chan *message.Message) error {
	return adapters.PublishAll(ctx, subject, msgs, adapters.WithRetry(p.Publish, p.cfg.Retry), p.cfg.Logger, "nats")
}

// Close drops the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

var errNotConnected = errors.New("nats: not connected")

func connect(url string, timeout time.Duration, logger message.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "url", url, "error", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("NATS reconnected", "url", url)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return conn, nil
}

func toNATSMsg(subject string, msg *message.Message, marshaler message.Marshaler) (*nats.Msg, error) {
	body, headers, err := adapters.Encode(msg, marshaler)
	if err != nil {
		return nil, err
	}
	natsMsg := nats.NewMsg(subject)
	natsMsg.Data = body
	for k, v := range headers {
		natsMsg.Header.Set(k, v)
	}
	return natsMsg, nil
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	URL string

	// Subject may contain wildcards.
	Subject string

	// Queue joins a queue group when set.
	Queue string

	// EventType is the type attribute of received messages that carry no
	// "type" header. Default is the message subject.
	EventType string

	// BufferSize of the delivery channels (default: 256).
	BufferSize int

	// ConnectTimeout bounds the initial dial (default: 5s).
	ConnectTimeout time.Duration

	// Marshaler decodes payloads. Default is JSON.
	Marshaler message.Marshaler

	// Logger defaults to slog.Default().
	Logger message.Logger
}

func (c SubscriberConfig) applyDefaults() SubscriberConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Marshaler == nil {
		c.Marshaler = message.NewJSONMarshaler()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Subscriber turns NATS messages into messages for a cep.Producer.
type Subscriber struct {
	cfg  SubscriberConfig
	mu   sync.Mutex
	conn *nats.Conn
}

// NewSubscriber returns a subscriber; Subscribe connects.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	return &Subscriber{cfg: cfg.applyDefaults()}
}

// Subscribe connects and returns a channel of received messages. The
// channel closes when ctx is done or the subscription ends. Messages whose
// payload cannot be decoded are logged and dropped.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	conn, err := connect(s.cfg.URL, s.cfg.ConnectTimeout, s.cfg.Logger)
	if err != nil {
		return nil, err
	}

	msgCh := make(chan *nats.Msg, s.cfg.BufferSize)
	var sub *nats.Subscription
	if s.cfg.Queue != "" {
		sub, err = conn.ChanQueueSubscribe(s.cfg.Subject, s.cfg.Queue, msgCh)
	} else {
		sub, err = conn.ChanSubscribe(s.cfg.Subject, msgCh)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats: subscribe %s: %w", s.cfg.Subject, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.cfg.Logger.Info("NATS subscription started",
		"subject", s.cfg.Subject,
		"queue", s.cfg.Queue)

	out := make(chan *message.Message, s.cfg.BufferSize)
	go func() {
		defer close(out)
		defer func() {
			_ = sub.Unsubscribe()
			_ = s.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				s.cfg.Logger.Debug("NATS subscription stopped", "subject", s.cfg.Subject)
				return
			case natsMsg, ok := <-msgCh:
				if !ok {
					return
				}
				msg, err := fromNATSMsg(natsMsg, s.cfg)
				if err != nil {
					s.cfg.Logger.Warn("Dropped undecodable message",
						"subject", natsMsg.Subject,
						"error", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close drops the connection. Subscribe closes its channel afterwards.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

func fromNATSMsg(natsMsg *nats.Msg, cfg SubscriberConfig) (*message.Message, error) {
	var data any
	if len(natsMsg.Data) > 0 {
		if err := cfg.Marshaler.Unmarshal(natsMsg.Data, &data); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	attrs := message.Attributes{
		message.AttrSource: cfg.URL,
		AttrNATSSubject:    natsMsg.Subject,
	}
	if natsMsg.Reply != "" {
		attrs[AttrNATSReply] = natsMsg.Reply
	}
	for k := range natsMsg.Header {
		attrs[k] = natsMsg.Header.Get(k)
	}
	if _, ok := attrs[message.AttrType]; !ok {
		typ := cfg.EventType
		if typ == "" {
			typ = natsMsg.Subject
		}
		attrs[message.AttrType] = typ
	}
	return message.New(data, attrs), nil
}
