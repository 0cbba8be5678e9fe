// Package redis publishes query results to Redis streams.
//
// Each message becomes one stream entry: the encoded payload under the
// "data" field and every header as a field of its own.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fxsml/gopipe-cep/adapters"
	"github.com/fxsml/gopipe-cep/message"
)

// DataField is the stream entry field holding the encoded payload.
const DataField = "data"

// PublisherConfig configures the Redis stream publisher.
type PublisherConfig struct {
	// Addr is the Redis server address. Default is "localhost:6379".
	Addr string

	// Password for AUTH, if any.
	Password string

	// DB selects the database.
	DB int

	// MaxLen caps each stream at approximately this many entries.
	// Zero keeps all entries.
	MaxLen int64

	// DialTimeout bounds connecting and the initial ping.
	// Default is 5 seconds.
	DialTimeout time.Duration

	// Marshaler encodes payloads. Default is JSON.
	Marshaler message.Marshaler

	// Logger for operational logging. If nil, uses slog.Default().
	Logger message.Logger

	// Retry retries failed publishes in PublishAll (default: no retries).
	Retry *adapters.RetryConfig
}

func (c PublisherConfig) applyDefaults() PublisherConfig {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Marshaler == nil {
		c.Marshaler = message.NewJSONMarshaler()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Publisher appends messages to Redis streams.
type Publisher struct {
	config PublisherConfig
	client *redis.Client
}

// NewPublisher creates a publisher. Call Connect before publishing.
func NewPublisher(config PublisherConfig) *Publisher {
	config = config.applyDefaults()
	return &Publisher{
		config: config,
		client: redis.NewClient(&redis.Options{
			Addr:        config.Addr,
			Password:    config.Password,
			DB:          config.DB,
			DialTimeout: config.DialTimeout,
		}),
	}
}

// Connect verifies the server is reachable.
func (p *Publisher) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.DialTimeout)
	defer cancel()

	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Publish appends msg to stream and returns nil once Redis assigned the
// entry an ID.
func (p *Publisher) Publish(ctx context.Context, stream string, msg *message.Message) error {
	body, headers, err := adapters.Encode(msg, p.config.Marshaler)
	if err != nil {
		return err
	}

	values := make(map[string]any, len(headers)+1)
	for k, v := range headers {
		values[k] = v
	}
	values[DataField] = body

	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if p.config.MaxLen > 0 {
		args.MaxLen = p.config.MaxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

// PublishAll publishes every message from msgs to stream until msgs is
// closed or ctx is done.
func (p *Publisher) PublishAll(ctx context.Context, stream string, msgs <-chan *message.Message) error {
	return adapters.PublishAll(ctx, stream, msgs, adapters.WithRetry(p.Publish, p.config.Retry), p.config.Logger, "redis")
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
