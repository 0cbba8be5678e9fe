package cloudevents

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"

	"github.com/fxsml/gopipe-cep/message"
)

// Handler processes a received message. A handler returning nil must ack
// or nack the message, possibly later; an error nacks it.
type Handler func(msg *message.Message) error

// SubscriberConfig configures an HTTP Subscriber.
type SubscriberConfig struct {
	// Port to listen on (default: 8080). Ignored when Listener is set.
	Port int
	// Path to receive events on (default: "/").
	Path string
	// Listener to serve on instead of Port.
	Listener net.Listener
	// Marshaler decodes event data (default: JSON).
	Marshaler message.Marshaler
	// Logger for receive failures (default: slog.Default()).
	Logger message.Logger
}

func (c SubscriberConfig) parse() SubscriberConfig {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.Marshaler == nil {
		c.Marshaler = message.NewJSONMarshaler()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Subscriber receives CloudEvents over HTTP.
type Subscriber struct {
	client cloudevents.Client
	cfg    SubscriberConfig
}

// NewHTTPSubscriber creates a subscriber serving the CloudEvents HTTP
// binding.
func NewHTTPSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	cfg = cfg.parse()
	opts := []cehttp.Option{cloudevents.WithPath(cfg.Path)}
	if cfg.Listener != nil {
		opts = append(opts, cloudevents.WithListener(cfg.Listener))
	} else {
		opts = append(opts, cloudevents.WithPort(cfg.Port))
	}
	client, err := cloudevents.NewClientHTTP(opts...)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	return &Subscriber{client: client, cfg: cfg}, nil
}

// Subscribe serves events until ctx is done, passing each to handler. The
// HTTP response waits for the message to be settled: an ack answers 2xx, a
// nack or handler error answers with a failure.
func (s *Subscriber) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		panic("cloudevents: handler cannot be nil")
	}
	return s.client.StartReceiver(ctx, func(ctx context.Context, e cloudevents.Event) cloudevents.Result {
		acking := message.NewAcking(func() {}, func(error) {})
		msg, err := FromCloudEvent(&e, s.cfg.Marshaler, acking)
		if err != nil {
			s.cfg.Logger.Warn("Rejected event",
				"component", "subscriber",
				"transport", "cloudevents",
				"id", e.ID(),
				"error", err)
			return cloudevents.NewHTTPResult(400, "%v", err)
		}

		if err := handler(msg); err != nil {
			msg.Nack(err)
		}
		if err := msg.Wait(ctx); err != nil {
			s.cfg.Logger.Error("Event processing failed",
				"component", "subscriber",
				"transport", "cloudevents",
				"id", e.ID(),
				"error", err)
			return cloudevents.NewHTTPResult(500, "%v", err)
		}
		return cloudevents.ResultACK
	})
}
