package message

import "sync"

type ackState uint8

const (
	pending ackState = iota
	acked
	nacked
)

// Acking settles a group of messages exactly once. The ack callback fires
// when every member has acked; a single nack settles the whole group and
// fires the nack callback. Safe for concurrent use.
type Acking struct {
	onAck  func()
	onNack func(error)
	doneCh chan struct{}

	mu        sync.Mutex
	state     ackState
	remaining int
	cause     error
}

// NewAcking returns an Acking for one message, or nil if a callback is nil.
func NewAcking(ack func(), nack func(error)) *Acking {
	return newSharedAcking(ack, nack, 1)
}

// newSharedAcking returns an Acking settled by n acks or one nack.
// It returns nil for n <= 0 or a nil callback.
func newSharedAcking(ack func(), nack func(error), n int) *Acking {
	if n <= 0 || ack == nil || nack == nil {
		return nil
	}
	return &Acking{
		onAck:     ack,
		onNack:    nack,
		doneCh:    make(chan struct{}),
		remaining: n,
	}
}

func (a *Acking) current() (ackState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.cause
}

func (a *Acking) isSettled() bool {
	if a == nil {
		return false
	}
	s, _ := a.current()
	return s != pending
}

func (a *Acking) err() error {
	if a == nil {
		return nil
	}
	_, err := a.current()
	return err
}

func (a *Acking) done() <-chan struct{} {
	if a == nil {
		return nil
	}
	return a.doneCh
}

// settle moves the group to s and reports whether the caller owns the
// transition. Callers that lose the race learn the final state instead.
func (a *Acking) settle(s ackState, cause error) (ackState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != pending {
		return a.state, false
	}
	if s == acked {
		a.remaining--
		if a.remaining > 0 {
			return pending, false
		}
	}
	a.state = s
	a.cause = cause
	return s, true
}

func (a *Acking) ack() bool {
	if a == nil {
		return false
	}
	s, owner := a.settle(acked, nil)
	if !owner {
		return s != nacked
	}
	// Callbacks run unlocked so they may settle sibling messages.
	defer close(a.doneCh)
	a.onAck()
	return true
}

func (a *Acking) nack(err error) bool {
	if a == nil {
		return false
	}
	s, owner := a.settle(nacked, err)
	if !owner {
		return s == nacked
	}
	defer close(a.doneCh)
	a.onNack(err)
	return true
}
