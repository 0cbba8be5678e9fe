package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxsml/gopipe-cep/adapters"
	"github.com/fxsml/gopipe-cep/adapters/kafka"
	"github.com/fxsml/gopipe-cep/adapters/nats"
	"github.com/fxsml/gopipe-cep/adapters/rabbitmq"
	"github.com/fxsml/gopipe-cep/adapters/redis"
	"github.com/fxsml/gopipe-cep/cep"
	"github.com/fxsml/gopipe-cep/message"
	"github.com/fxsml/gopipe-cep/message/cloudevents"
)

// Sink publishes an endpoint's results until msgs is closed or ctx is done.
type Sink interface {
	PublishAll(ctx context.Context, msgs <-chan *message.Message) error
	Close() error
}

// topicPublisher is implemented by the broker publishers.
type topicPublisher interface {
	PublishAll(ctx context.Context, topic string, msgs <-chan *message.Message) error
	Close() error
}

type topicSink struct {
	pub   topicPublisher
	topic string
}

func (s *topicSink) PublishAll(ctx context.Context, msgs <-chan *message.Message) error {
	return s.pub.PublishAll(ctx, s.topic, msgs)
}

func (s *topicSink) Close() error { return s.pub.Close() }

// newSink creates and connects the sink of an endpoint. stdout receives
// results of stdout sinks.
func newSink(ctx context.Context, endpoint string, cfg SinkConfig, stdout io.Writer, logger message.Logger) (Sink, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = endpoint
	}
	retry := cfg.Retry.config()

	switch cfg.Kind {
	case "", SinkStdout:
		return &writerSink{w: stdout, marshaler: message.NewJSONMarshaler(), logger: logger}, nil

	case SinkNATS:
		pub := nats.NewPublisher(nats.PublisherConfig{URL: cfg.URL, Logger: logger, Retry: retry})
		if err := pub.Connect(ctx); err != nil {
			return nil, err
		}
		return &topicSink{pub: pub, topic: topic}, nil

	case SinkKafka:
		brokers := cfg.Brokers
		if len(brokers) == 0 {
			brokers = []string{cfg.URL}
		}
		pub := kafka.NewPublisher(kafka.PublisherConfig{Brokers: brokers, Logger: logger, Retry: retry})
		return &topicSink{pub: pub, topic: topic}, nil

	case SinkRabbitMQ:
		pub := rabbitmq.NewPublisher(rabbitmq.PublisherConfig{
			URL:          cfg.URL,
			Exchange:     cfg.Exchange,
			ExchangeType: exchangeType(cfg.Exchange),
			Durable:      true,
			Logger:       logger,
			Retry:        retry,
		})
		if err := pub.Connect(ctx); err != nil {
			return nil, err
		}
		return &topicSink{pub: pub, topic: topic}, nil

	case SinkRedis:
		pub := redis.NewPublisher(redis.PublisherConfig{Addr: cfg.URL, Logger: logger, Retry: retry})
		if err := pub.Connect(ctx); err != nil {
			_ = pub.Close()
			return nil, err
		}
		return &topicSink{pub: pub, topic: topic}, nil

	case SinkHTTP:
		pub, err := cloudevents.NewHTTPPublisher(cfg.URL, cloudevents.PublisherConfig{
			Payload: cep.Payload,
			Headers: cep.Headers,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return &cloudEventsSink{pub: pub}, nil

	default:
		return nil, fmt.Errorf("%w: unknown sink kind %q", ErrInvalidConfig, cfg.Kind)
	}
}

func exchangeType(exchange string) string {
	if exchange == "" {
		return ""
	}
	return "topic"
}

func (c RetryConfig) config() *adapters.RetryConfig {
	if c.MaxAttempts == 0 {
		return nil
	}
	cfg := &adapters.RetryConfig{
		MaxAttempts: c.MaxAttempts,
		Timeout:     c.Timeout,
	}
	if c.Backoff > 0 {
		cfg.Backoff = adapters.ExponentialBackoff(c.Backoff, 2, c.MaxBackoff, 0.2)
	}
	return cfg
}

type cloudEventsSink struct {
	pub *cloudevents.Publisher
}

func (s *cloudEventsSink) PublishAll(ctx context.Context, msgs <-chan *message.Message) error {
	return s.pub.PublishAll(ctx, msgs)
}

func (s *cloudEventsSink) Close() error { return nil }

// result is the line written by a writerSink.
type result struct {
	Time     time.Time         `json:"time"`
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers"`
	Payload  any               `json:"payload"`
}

// writerSink writes one JSON line per result.
type writerSink struct {
	mu        sync.Mutex
	w         io.Writer
	marshaler message.Marshaler
	logger    message.Logger
}

func (s *writerSink) PublishAll(ctx context.Context, msgs <-chan *message.Message) error {
	return adapters.PublishAll(ctx, "", msgs, s.publish, s.logger, SinkStdout)
}

func (s *writerSink) publish(_ context.Context, _ string, msg *message.Message) error {
	name, _ := msg.Attributes.String(cep.AttrEndpointName)
	line, err := s.marshaler.Marshal(result{
		Time:     time.Now().UTC(),
		Endpoint: name,
		Headers:  cep.Headers(msg),
		Payload:  cep.Payload(msg),
	})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(line, '\n'))
	return err
}

func (s *writerSink) Close() error { return nil }
