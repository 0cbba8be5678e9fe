// Package kafka publishes query results to Kafka topics.
//
// Kafka has no wildcards; every topic gets its own writer, created on first
// use and kept until Close.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"

	"github.com/fxsml/gopipe-cep/adapters"
	"github.com/fxsml/gopipe-cep/message"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Brokers []string

	// KeyAttribute selects the header used as record key (default:
	// "endpoint-name"); results of one endpoint land on one partition.
	KeyAttribute string

	// BatchSize caps the records per write (default: 100). BatchTimeout is
	// how long a writer waits for a partial batch (default: 10ms).
	BatchSize    int
	BatchTimeout time.Duration

	// RequiredAcks defaults to kafka.RequireAll.
	RequiredAcks kafka.RequiredAcks

	// Marshaler encodes payloads. Default is JSON.
	Marshaler message.Marshaler

	// Logger defaults to slog.Default().
	Logger message.Logger

	// Retry retries failed publishes in PublishAll (default: no retries).
	Retry *adapters.RetryConfig
}

func (c PublisherConfig) applyDefaults() PublisherConfig {
	if c.KeyAttribute == "" {
		c.KeyAttribute = "endpoint-name"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireAll
	}
	if c.Marshaler == nil {
		c.Marshaler = message.NewJSONMarshaler()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// recordWriter is the part of *kafka.Writer the publisher uses.
type recordWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes query results to Kafka topics.
type Publisher struct {
	cfg       PublisherConfig
	newWriter func(topic string) recordWriter

	mu      sync.Mutex
	writers map[string]recordWriter
}

// NewPublisher returns a publisher. Writers connect lazily.
func NewPublisher(cfg PublisherConfig) *Publisher {
	p := &Publisher{
		cfg:     cfg.applyDefaults(),
		writers: make(map[string]recordWriter),
	}
	p.newWriter = p.kafkaWriter
	return p
}

func (p *Publisher) kafkaWriter(topic string) recordWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(p.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    p.cfg.BatchSize,
		BatchTimeout: p.cfg.BatchTimeout,
		RequiredAcks: p.cfg.RequiredAcks,
	}
}

func (p *Publisher) writer(topic string) recordWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.writers[topic]
	if w == nil {
		w = p.newWriter(topic)
		p.writers[topic] = w
	}
	return w
}

// Publish writes a single message to topic.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	return p.PublishBatch(ctx, topic, []*message.Message{msg})
}

// PublishBatch writes msgs to topic in one call. Nothing is written if any
// message fails to encode.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, msgs []*message.Message) error {
	records := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		r, err := p.record(msg)
		if err != nil {
			return err
		}
		records[i] = r
	}
	return p.write(ctx, topic, records)
}

func (p *Publisher) write(ctx context.Context, topic string, records []kafka.Message) error {
	if err := p.writer(topic).WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("kafka: write %s: %w", topic, err)
	}
	return nil
}

// PublishAll writes every message from msgs to topic until msgs is closed
// or ctx is done. Messages already queued on msgs are written together, up
// to BatchSize per call, and acked or nacked together. A message that fails
// to encode is nacked on its own.
func (p *Publisher) PublishAll(ctx context.Context, topic string, msgs <-chan *message.Message) error {
	for {
		batch, open, err := p.nextBatch(ctx, msgs)
		if len(batch) > 0 {
			p.publishBatch(ctx, topic, batch)
		}
		if err != nil || !open {
			return err
		}
	}
}

// nextBatch waits for one message, then takes whatever is already queued.
func (p *Publisher) nextBatch(ctx context.Context, msgs <-chan *message.Message) ([]*message.Message, bool, error) {
	var batch []*message.Message
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case msg, ok := <-msgs:
		if !ok {
			return nil, false, nil
		}
		batch = append(batch, msg)
	}
	for len(batch) < p.cfg.BatchSize {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return batch, false, nil
			}
			batch = append(batch, msg)
		default:
			return batch, true, nil
		}
	}
	return batch, true, nil
}

func (p *Publisher) publishBatch(ctx context.Context, topic string, batch []*message.Message) {
	records := make([]kafka.Message, 0, len(batch))
	encoded := make([]*message.Message, 0, len(batch))
	for _, msg := range batch {
		r, err := p.record(msg)
		if err != nil {
			msg.Nack(err)
			p.cfg.Logger.Error("Failed to encode message",
				"component", "publisher",
				"transport", "kafka",
				"topic", topic,
				"error", err)
			continue
		}
		records = append(records, r)
		encoded = append(encoded, msg)
	}
	if len(records) == 0 {
		return
	}

	write := adapters.WithRetry(func(ctx context.Context, topic string, _ *message.Message) error {
		return p.write(ctx, topic, records)
	}, p.cfg.Retry)
	if err := write(ctx, topic, nil); err != nil {
		for _, msg := range encoded {
			msg.Nack(err)
		}
		p.cfg.Logger.Error("Failed to publish batch",
			"component", "publisher",
			"transport", "kafka",
			"topic", topic,
			"count", len(records),
			"error", err)
		return
	}
	for _, msg := range encoded {
		msg.Ack()
	}
	p.cfg.Logger.Debug("Published batch",
		"component", "publisher",
		"transport", "kafka",
		"topic", topic,
		"count", len(records))
}

// Close flushes and closes every writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for topic, w := range p.writers {
		if cerr := w.Close(); cerr != nil {
			errs = multierr.Append(errs, fmt.Errorf("kafka: close writer %s: %w", topic, cerr))
		}
	}
	clear(p.writers)
	return errs
}

func (p *Publisher) record(msg *message.Message) (kafka.Message, error) {
	body, headers, err := adapters.Encode(msg, p.cfg.Marshaler)
	if err != nil {
		return kafka.Message{}, err
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	record := kafka.Message{
		Key:     []byte(headers[p.cfg.KeyAttribute]),
		Value:   body,
		Time:    time.Now(),
		Headers: make([]kafka.Header, len(keys)),
	}
	for i, k := range keys {
		record.Headers[i] = kafka.Header{Key: k, Value: []byte(headers[k])}
	}
	return record, nil
}
