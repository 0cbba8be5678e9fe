package message

import "context"

// Message is the envelope routed between endpoints.
// Data holds the payload as produced by its source; Attributes carries
// CloudEvents context attributes and endpoint-specific headers.
//
// Ack/Nack are mutually exclusive and idempotent. A message created without
// acking returns false from both.
type Message struct {
	Data       any
	Attributes Attributes

	acking *Acking
}

// New creates a message with the given data and attributes.
// Pass nil for attributes if none are needed.
func New(data any, attrs Attributes) *Message {
	if attrs == nil {
		attrs = make(Attributes)
	}
	return &Message{
		Data:       data,
		Attributes: attrs,
	}
}

// NewWithAcking creates a message bound to the given acking.
// A nil acking behaves like New.
func NewWithAcking(data any, attrs Attributes, acking *Acking) *Message {
	msg := New(data, attrs)
	msg.acking = acking
	return msg
}

// Ack acknowledges successful processing of the message.
// Returns true if acknowledgment succeeded or was already performed.
func (m *Message) Ack() bool {
	return m.acking.ack()
}

// Nack negatively acknowledges the message due to a processing error.
// Returns true if negative acknowledgment succeeded or was already performed.
func (m *Message) Nack(err error) bool {
	return m.acking.nack(err)
}

// Done returns a channel that is closed once the message is settled.
// Returns nil if the message has no acking.
func (m *Message) Done() <-chan struct{} {
	return m.acking.done()
}

// Err returns the nack error, or nil if the message is pending or acked.
func (m *Message) Err() error {
	return m.acking.err()
}

// Settled reports whether the message was acked or nacked.
func (m *Message) Settled() bool {
	return m.acking.isSettled()
}

// Wait blocks until the message is settled or ctx is done.
// Messages without acking return immediately with nil.
func (m *Message) Wait(ctx context.Context) error {
	done := m.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
