package cep

import (
	"context"
	"testing"
	"time"

	"github.com/fxsml/gopipe-cep/message"
)

func TestEndpoint_Subscribe(t *testing.T) {
	engine := &fakeEngine{}
	ep := newTestEndpoint(t, engine, EndpointConfig{Name: "alerts", Pattern: "every A"})

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := ep.Subscribe(ctx, SubscribeConfig{BufferSize: 1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	q := ep.ActiveQuery().(*fakeQuery)
	go q.emit(newBean("A", "id", 7))

	select {
	case msg := <-msgs:
		if id, _ := msg.Data.(EventBean).Get("id"); id != 7 {
			t.Errorf("expected id 7, got %v", id)
		}
		if msg.Attributes[AttrPattern] != "every A" {
			t.Errorf("expected pattern attribute, got %v", msg.Attributes[AttrPattern])
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	// An engine may still hold listeners it snapshotted before the cancel.
	held := q.snapshot()

	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}

	if n := engine.destroyed.Load(); n != 1 {
		t.Errorf("expected query destroyed after cancel, got %d", n)
	}
	if n := ep.Consumers(); n != 0 {
		t.Errorf("expected 0 consumers, got %d", n)
	}

	// Late events after close are dropped, not sent on the closed channel.
	for _, l := range held {
		l(newBean("A"))
	}
}

func TestEndpoint_SubscribeUnblocksOnCancel(t *testing.T) {
	engine := &fakeEngine{}
	ep := newTestEndpoint(t, engine, EndpointConfig{Query: "select * from A"})

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := ep.Subscribe(ctx, SubscribeConfig{BufferSize: 1, ErrorHandler: func(*message.Message, error) {}})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	q := ep.ActiveQuery().(*fakeQuery)

	// Second emit blocks on the full buffer until cancel.
	done := make(chan struct{})
	go func() {
		q.emit(newBean("A"))
		q.emit(newBean("A"))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine goroutine still blocked after cancel")
	}
	for range msgs {
	}
}

func TestEndpoint_SubscribeAttachError(t *testing.T) {
	engine := &fakeEngine{}
	ep := newTestEndpoint(t, engine, EndpointConfig{Query: "malformed"})

	msgs, err := ep.Subscribe(context.Background(), SubscribeConfig{})
	if err == nil {
		t.Fatal("expected error")
	}
	if msgs != nil {
		t.Error("expected nil channel")
	}
}
