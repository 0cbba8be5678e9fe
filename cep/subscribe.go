package cep

import (
	"context"
	"sync"

	"github.com/fxsml/gopipe-cep/message"
)

// SubscribeConfig configures Endpoint.Subscribe.
type SubscribeConfig struct {
	// BufferSize is the output channel buffer size (default: 100).
	BufferSize int
	// ErrorHandler receives translation and delivery failures (optional).
	ErrorHandler ErrorHandler
}

func (c SubscribeConfig) parse() SubscribeConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	return c
}

// Subscribe attaches a consumer that emits query events on the returned
// channel. When the buffer is full the engine goroutine blocks until the
// event is received or ctx is done. On ctx done the consumer is disposed and
// the channel closed.
func (e *Endpoint) Subscribe(ctx context.Context, cfg SubscribeConfig) (<-chan *message.Message, error) {
	cfg = cfg.parse()
	out := make(chan *message.Message, cfg.BufferSize)

	// closed is read under the read lock so a late engine callback never sends
	// on a closed channel.
	var mu sync.RWMutex
	closed := false

	proc := func(msg *message.Message) error {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return nil
		}
		select {
		case out <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c, err := NewConsumer(e, proc, ConsumerConfig{ErrorHandler: cfg.ErrorHandler})
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if err := c.Dispose(); err != nil {
			e.logger.Warn("Failed to dispose subscription",
				"component", "consumer",
				"endpoint", e.name,
				"error", err)
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}
