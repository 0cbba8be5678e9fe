package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/gopipe-cep/cep"
)

type collector struct {
	mu     sync.Mutex
	events []cep.EventBean
}

func (c *collector) listen(ev cep.EventBean) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) all() []cep.EventBean {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cep.EventBean(nil), c.events...)
}

func subscribe(t *testing.T, q cep.Query) *collector {
	t.Helper()
	c := &collector{}
	q.Subscribe(c.listen)
	return c
}

type order struct {
	ID     string
	Amount int
}

func TestStatement_SelectAllWithWhere(t *testing.T) {
	e := New(Config{})
	q, err := e.CreateStatement("select * from Order where event.Amount > 100")
	require.NoError(t, err)
	got := subscribe(t, q)

	require.NoError(t, e.SendEvent("Order", order{ID: "a", Amount: 50}))
	require.NoError(t, e.SendEvent("Order", order{ID: "b", Amount: 150}))
	require.NoError(t, e.SendEvent("Payment", order{ID: "c", Amount: 500}))

	events := got.all()
	require.Len(t, events, 1)
	assert.Equal(t, "Order", events[0].EventType())
	id, ok := events[0].Get("ID")
	assert.True(t, ok)
	assert.Equal(t, "b", id)
	assert.Equal(t, order{ID: "b", Amount: 150}, events[0].Underlying())
}

func TestStatement_ProjectionAndAlias(t *testing.T) {
	e := New(Config{})
	q, err := e.CreateStatement(`SELECT id, amount FROM Order AS o WHERE o.region == "eu"`)
	require.NoError(t, err)
	got := subscribe(t, q)

	require.NoError(t, e.SendEvent("Order", map[string]any{"id": 1, "amount": 10, "region": "us"}))
	require.NoError(t, e.SendEvent("Order", map[string]any{"id": 2, "amount": 20, "region": "eu"}))

	events := got.all()
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"id": 2, "amount": 20}, events[0].Properties())
}

func TestStatement_FilterErrorIsNoMatch(t *testing.T) {
	e := New(Config{})
	q, err := e.CreateStatement("select * from Order where event.amount > 100")
	require.NoError(t, err)
	got := subscribe(t, q)

	require.NoError(t, e.SendEvent("Order", map[string]any{"id": 1}))
	require.NoError(t, e.SendEvent("Order", map[string]any{"amount": 101.5}))

	assert.Len(t, got.all(), 1)
}

func TestStatement_ScalarEvent(t *testing.T) {
	e := New(Config{})
	q, err := e.CreateStatement("select * from Tick where event.value >= 3")
	require.NoError(t, err)
	got := subscribe(t, q)

	for i := 1; i <= 4; i++ {
		require.NoError(t, e.SendEvent("Tick", i))
	}
	assert.Len(t, got.all(), 2)
}

func TestCreate_SyntaxErrors(t *testing.T) {
	e := New(Config{})
	statements := []string{
		"",
		"select from Order",
		"select * Order",
		"select * from",
		"select * from Order as",
		"select * from Order where",
		"select a b from Order",
		"select * from Order where event.amount >",
		"select * from Order where 1 + 2",
		"select * from Order where unknown.amount > 1",
	}
	for _, s := range statements {
		_, err := e.CreateStatement(s)
		assert.ErrorIs(t, err, ErrSyntax, "statement %q", s)
	}

	patterns := []string{
		"",
		"every",
		"A ->",
		"A -> A",
		"a=A -> a=B",
		"event=A",
		"A(event.x > 1",
		"A()",
		"a=A -> B(b.x == 1)",
	}
	for _, p := range patterns {
		_, err := e.CreatePattern(p)
		assert.ErrorIs(t, err, ErrSyntax, "pattern %q", p)
	}
	assert.Equal(t, 0, e.Queries())
}

func TestPattern_FollowedByCompletesOnce(t *testing.T) {
	e := New(Config{})
	q, err := e.CreatePattern("a=A -> b=B")
	require.NoError(t, err)
	got := subscribe(t, q)

	send := func(typ string, n int) {
		require.NoError(t, e.SendEvent(typ, map[string]any{"n": n}))
	}
	send("B", 0)
	send("A", 1)
	send("A", 2)
	send("B", 3)
	send("A", 4)
	send("B", 5)

	events := got.all()
	require.Len(t, events, 1)
	assert.Equal(t, PatternEventType, events[0].EventType())
	assert.Equal(t, map[string]any{
		"a": map[string]any{"n": 1},
		"b": map[string]any{"n": 3},
	}, events[0].Properties())
}

func TestPattern_EveryStartsNewMatches(t *testing.T) {
	e := New(Config{})
	q, err := e.CreatePattern("every o=Order -> p=Payment(p.orderId == o.id)")
	require.NoError(t, err)
	got := subscribe(t, q)

	require.NoError(t, e.SendEvent("Order", map[string]any{"id": 1}))
	require.NoError(t, e.SendEvent("Order", map[string]any{"id": 2}))
	require.NoError(t, e.SendEvent("Payment", map[string]any{"orderId": 2}))
	require.NoError(t, e.SendEvent("Payment", map[string]any{"orderId": 2}))
	require.NoError(t, e.SendEvent("Payment", map[string]any{"orderId": 1}))

	events := got.all()
	require.Len(t, events, 2)
	o, _ := events[0].Get("o")
	assert.Equal(t, map[string]any{"id": 2}, o)
	o, _ = events[1].Get("o")
	assert.Equal(t, map[string]any{"id": 1}, o)
}

func TestPattern_UntaggedStepsAndSingleStep(t *testing.T) {
	e := New(Config{})
	q, err := e.CreatePattern("every Login(event.failed) -> Alert(Login.user == event.user)")
	require.NoError(t, err)
	got := subscribe(t, q)

	require.NoError(t, e.SendEvent("Login", map[string]any{"user": "bob", "failed": true}))
	require.NoError(t, e.SendEvent("Alert", map[string]any{"user": "alice"}))
	require.NoError(t, e.SendEvent("Alert", map[string]any{"user": "bob"}))
	require.Len(t, got.all(), 1)
	_, ok := got.all()[0].Get("Login")
	assert.True(t, ok)

	single, err := e.CreatePattern("every Tick")
	require.NoError(t, err)
	ticks := subscribe(t, single)
	require.NoError(t, e.SendEvent("Tick", 1))
	require.NoError(t, e.SendEvent("Tick", 2))
	assert.Len(t, ticks.all(), 2)
}

func TestPattern_MaxPartialsDropsOldest(t *testing.T) {
	e := New(Config{MaxPartials: 2})
	q, err := e.CreatePattern("every a=A -> b=B")
	require.NoError(t, err)
	got := subscribe(t, q)

	for i := 1; i <= 3; i++ {
		require.NoError(t, e.SendEvent("A", map[string]any{"n": i}))
	}
	require.NoError(t, e.SendEvent("B", map[string]any{}))

	events := got.all()
	require.Len(t, events, 2)
	a, _ := events[0].Get("a")
	assert.Equal(t, map[string]any{"n": 2}, a)
	a, _ = events[1].Get("a")
	assert.Equal(t, map[string]any{"n": 3}, a)
}

func TestQuery_Lifecycle(t *testing.T) {
	e := New(Config{})
	cq, err := e.CreateStatement("select * from A")
	require.NoError(t, err)
	q := cq.(*Query)
	got := subscribe(t, q)
	assert.Equal(t, 1, e.Queries())
	assert.Equal(t, "statement-1", q.ID())

	require.NoError(t, q.Stop())
	require.NoError(t, q.Stop())
	assert.True(t, q.Stopped())
	require.NoError(t, e.SendEvent("A", 1))
	assert.Empty(t, got.all())

	require.NoError(t, q.Start())
	require.NoError(t, e.SendEvent("A", 2))
	assert.Len(t, got.all(), 1)

	require.NoError(t, q.Destroy())
	assert.Equal(t, 0, e.Queries())
	assert.ErrorIs(t, q.Destroy(), ErrDestroyed)
	assert.ErrorIs(t, q.Start(), ErrDestroyed)

	require.NoError(t, e.SendEvent("A", 3))
	assert.Len(t, got.all(), 1)
	q.Subscribe(func(cep.EventBean) { t.Error("destroyed query emitted") })()
}

func TestQuery_Unsubscribe(t *testing.T) {
	e := New(Config{})
	q, err := e.CreateStatement("select * from A")
	require.NoError(t, err)

	c := &collector{}
	unsubscribe := q.Subscribe(c.listen)
	require.NoError(t, e.SendEvent("A", 1))
	unsubscribe()
	require.NoError(t, e.SendEvent("A", 2))
	assert.Len(t, c.all(), 1)
}

func TestSendEvent_Invalid(t *testing.T) {
	e := New(Config{})
	assert.ErrorIs(t, e.SendEvent("", 1), ErrInvalidEvent)
	assert.ErrorIs(t, e.SendEvent("A", nil), ErrInvalidEvent)
	var o *order
	assert.ErrorIs(t, e.SendEvent("A", o), ErrInvalidEvent)
}

func TestSendEvent_Concurrent(t *testing.T) {
	e := New(Config{})
	q, err := e.CreatePattern("every A")
	require.NoError(t, err)
	got := subscribe(t, q)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = e.SendEvent("A", j)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, got.all(), 800)
}
