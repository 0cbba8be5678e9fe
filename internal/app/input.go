package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fxsml/gopipe-cep/adapters/nats"
	"github.com/fxsml/gopipe-cep/cep"
	"github.com/fxsml/gopipe-cep/message"
	"github.com/fxsml/gopipe-cep/message/cloudevents"
)

// Input feeds events into a producer until its source ends or ctx is done.
type Input interface {
	Run(ctx context.Context, producer *cep.Producer) error
}

// InputFunc adapts a function to Input.
type InputFunc func(ctx context.Context, producer *cep.Producer) error

// Run implements Input.
func (f InputFunc) Run(ctx context.Context, producer *cep.Producer) error {
	return f(ctx, producer)
}

func newInput(cfg InputConfig, stdin io.Reader, logger message.Logger) (Input, error) {
	switch cfg.Kind {
	case "", InputStdin:
		return &lineInput{r: stdin, marshaler: message.NewJSONMarshaler(), logger: logger}, nil

	case InputNATS:
		sub := nats.NewSubscriber(nats.SubscriberConfig{
			URL:     cfg.URL,
			Subject: cfg.Subject,
			Queue:   cfg.Queue,
			Logger:  logger,
		})
		return InputFunc(func(ctx context.Context, producer *cep.Producer) error {
			msgs, err := sub.Subscribe(ctx)
			if err != nil {
				return err
			}
			defer sub.Close()
			<-producer.Produce(ctx, msgs)
			return nil
		}), nil

	case InputHTTP:
		sub, err := cloudevents.NewHTTPSubscriber(cloudevents.SubscriberConfig{
			Port:   cfg.Port,
			Path:   cfg.Path,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return InputFunc(func(ctx context.Context, producer *cep.Producer) error {
			return sub.Subscribe(ctx, func(msg *message.Message) error {
				return producer.Send(ctx, msg)
			})
		}), nil

	case InputNone:
		return InputFunc(func(ctx context.Context, _ *cep.Producer) error {
			<-ctx.Done()
			return nil
		}), nil

	default:
		return nil, fmt.Errorf("%w: unknown input kind %q", ErrInvalidConfig, cfg.Kind)
	}
}

// inputLine is one event read by lineInput, e.g.
//
//	{"type":"Order","data":{"id":1,"amount":150}}
type inputLine struct {
	Type       string         `json:"type"`
	Data       any            `json:"data"`
	Attributes map[string]any `json:"attributes"`
}

// lineInput reads JSON lines. Undecodable lines are logged and skipped.
type lineInput struct {
	r         io.Reader
	marshaler message.Marshaler
	logger    message.Logger
}

func (in *lineInput) Run(ctx context.Context, producer *cep.Producer) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- append([]byte(nil), scanner.Bytes()...):
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for n := 1; ; n++ {
		var line []byte
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			line = l
		}
		if len(line) == 0 {
			continue
		}

		msg, err := in.decode(line)
		if err != nil {
			in.logger.Warn("Skipped input line",
				"component", "input",
				"line", n,
				"error", err)
			continue
		}
		if err := producer.Send(ctx, msg); err != nil {
			in.logger.Error("Failed to send event",
				"component", "input",
				"line", n,
				"error", err)
		}
	}
}

func (in *lineInput) decode(line []byte) (*message.Message, error) {
	var l inputLine
	if err := in.marshaler.Unmarshal(line, &l); err != nil {
		return nil, err
	}
	if l.Type == "" {
		return nil, errors.New("missing type")
	}
	attrs := message.Attributes{}
	for k, v := range l.Attributes {
		attrs[k] = v
	}
	attrs[message.AttrType] = l.Type
	if _, ok := attrs[message.AttrID]; !ok {
		attrs[message.AttrID] = message.NewID()
	}
	return message.New(l.Data, attrs), nil
}
