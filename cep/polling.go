package cep

import (
	"context"
	"sync"

	"github.com/fxsml/gopipe-cep/message"
)

// PollingConsumer buffers query events until they are received.
// The queue is unbounded so the engine never blocks on a slow poller.
type PollingConsumer struct {
	consumer *Consumer

	mu     sync.Mutex
	queue  []*message.Message
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewPollingConsumer attaches to ep and queues every event of the shared
// query for Receive.
func NewPollingConsumer(ep *Endpoint, cfg ConsumerConfig) (*PollingConsumer, error) {
	p := &PollingConsumer{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c, err := NewConsumer(ep, p.enqueue, cfg)
	if err != nil {
		return nil, err
	}
	p.consumer = c
	return p, nil
}

func (p *PollingConsumer) enqueue(msg *message.Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()
	p.signal()
	return nil
}

func (p *PollingConsumer) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// ReceiveNoWait returns the oldest queued message, if any.
func (p *PollingConsumer) ReceiveNoWait() (*message.Message, bool) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil, false
	}
	msg := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	remaining := len(p.queue)
	p.mu.Unlock()

	// Pass the wake-up on to other waiting receivers.
	if remaining > 0 {
		p.signal()
	}
	return msg, true
}

// Receive blocks until a message is queued, ctx is done, or the consumer is
// closed and drained (ErrConsumerClosed).
func (p *PollingConsumer) Receive(ctx context.Context) (*message.Message, error) {
	for {
		if msg, ok := p.ReceiveNoWait(); ok {
			return msg, nil
		}
		select {
		case <-p.notify:
		case <-p.done:
			if msg, ok := p.ReceiveNoWait(); ok {
				return msg, nil
			}
			return nil, ErrConsumerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued messages.
func (p *PollingConsumer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Consumer returns the underlying consumer handle.
func (p *PollingConsumer) Consumer() *Consumer { return p.consumer }

// Close stops queueing and disposes the consumer once; later calls return
// the first result. Messages already queued can still be received.
func (p *PollingConsumer) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		p.closeErr = p.consumer.Dispose()
	})
	return p.closeErr
}
