package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/gopipe-cep/cep"
	"github.com/fxsml/gopipe-cep/cep/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func pairsURI() string {
	return "cep:pairs?" + url.Values{
		"pattern":   {"every o=Order -> p=Payment(p.orderId == o.id)"},
		"mapEvents": {"true"},
	}.Encode()
}

const inputLines = `{"type":"Order","data":{"id":1,"amount":50}}
{"type":"Order","data":{"id":2,"amount":150}}

not json
{"data":{"id":3}}
{"type":"Payment","data":{"orderId":2},"attributes":{"source":"test"}}
`

func TestApp_RunStdin(t *testing.T) {
	cfg := &Config{
		Endpoints: []EndpointConfig{
			{Name: "large-orders", Query: "select * from Order where event.amount > 100"},
			{URI: pairsURI()},
		},
	}
	var out bytes.Buffer
	a, err := New(cfg, discard, WithStdio(strings.NewReader(inputLines), &out))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Engine().Queries(), "queries are created on subscribe")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	results := map[string]result{}
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r result
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		results[r.Endpoint] = r
	}
	require.Len(t, results, 2)

	assert.Equal(t, map[string]any{"id": 2.0, "amount": 150.0}, results["large-orders"].Payload)
	assert.Equal(t, "Order", results["large-orders"].Headers["subject"])

	pair, ok := results["pairs"].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": 2.0, "amount": 150.0}, pair["o"])
	assert.Equal(t, "true", results["pairs"].Headers[cep.AttrMapEvents])

	assert.Equal(t, 0, a.Engine().Queries(), "shutdown destroys every query")
	_, err = a.Component().Register(cep.EndpointConfig{Name: "late", Query: "select * from A"})
	assert.ErrorIs(t, err, cep.ErrEndpointClosed)
}

func TestApp_RunRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &Config{
		Endpoints: []EndpointConfig{{
			Name:  "large-orders",
			Query: "select id from Order where event.amount > 100",
			Sink:  SinkConfig{Kind: SinkRedis, URL: mr.Addr(), Topic: "alerts", Retry: RetryConfig{MaxAttempts: 2}},
		}},
	}
	a, err := New(cfg, discard, WithStdio(strings.NewReader(inputLines), io.Discard))
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	entries, err := client.XRange(context.Background(), "alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"id":2}`, entries[0].Values["data"].(string))
	assert.Equal(t, "large-orders", entries[0].Values[cep.AttrEndpointName])
}

func TestApp_RunValidatesInput(t *testing.T) {
	schema := filepath.Join(t.TempDir(), "order.json")
	require.NoError(t, os.WriteFile(schema, []byte(`{"type":"object","required":["id","amount"]}`), 0o600))

	cfg := &Config{
		Endpoints: []EndpointConfig{{Name: "orders", Query: "select id from Order"}},
		Input:     InputConfig{Schemas: []SchemaConfig{{Type: "Order", File: schema}}},
	}
	var out bytes.Buffer
	a, err := New(cfg, discard, WithStdio(strings.NewReader(`{"type":"Order","data":{"id":1}}
{"type":"Order","data":{"id":2,"amount":5}}
`), &out))
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"payload":{"id":2}`)
}

func TestNew_MissingSchema(t *testing.T) {
	cfg := &Config{
		Endpoints: []EndpointConfig{{Name: "orders", Query: "select * from Order"}},
		Input:     InputConfig{Schemas: []SchemaConfig{{Type: "Order", File: filepath.Join(t.TempDir(), "missing.json")}}},
	}
	_, err := New(cfg, discard)
	assert.Error(t, err)
	assert.Error(t, Check(cfg, discard))
}

func TestApp_RunSinkConnectFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := &Config{
		Endpoints: []EndpointConfig{{
			Name:  "a",
			Query: "select * from A",
			Sink:  SinkConfig{Kind: SinkRedis, URL: addr},
		}},
	}
	a, err := New(cfg, discard, WithStdio(strings.NewReader(""), io.Discard))
	require.NoError(t, err)
	assert.Error(t, a.Run(context.Background()))
	assert.Equal(t, 0, a.Engine().Queries())
}

func TestApp_RunStopsOnContext(t *testing.T) {
	cfg := &Config{
		Endpoints: []EndpointConfig{{Name: "a", Query: "select * from A"}},
		Input:     InputConfig{Kind: InputNone},
	}
	a, err := New(cfg, discard, WithStdio(strings.NewReader(""), io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Engine().Queries() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, a.Engine().Queries())
}

func TestApp_Handler(t *testing.T) {
	cfg := &Config{
		Endpoints: []EndpointConfig{{Name: "large-orders", Query: "select * from Order"}},
	}
	a, err := New(cfg, discard)
	require.NoError(t, err)

	ep, ok := a.Component().Lookup("large-orders")
	require.True(t, ok)
	q, err := ep.Attach()
	require.NoError(t, err)
	defer ep.Detach()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status healthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 1, status.Queries)
	require.Len(t, status.Endpoints, 1)
	assert.Equal(t, 1, status.Endpoints[0].Consumers)
	assert.Equal(t, q.ID(), status.Endpoints[0].Query)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gopipe_cep_consumers{endpoint="large-orders"} 1`)
	assert.Contains(t, string(body), `gopipe_cep_queries_created_total{endpoint="large-orders"} 1`)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&Config{}, discard)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_CodeBuiltConfigDefaults(t *testing.T) {
	cfg := &Config{Endpoints: []EndpointConfig{{Name: "ticks", Query: "select * from Tick"}}}
	require.NoError(t, Check(cfg, nil))

	var out bytes.Buffer
	in := strings.NewReader(`{"type":"Tick","data":{"n":1}}` + "\n")
	a, err := New(cfg, nil, WithStdio(in, &out))
	require.NoError(t, err)
	assert.Equal(t, InputStdin, a.cfg.Input.Kind)
	assert.Empty(t, cfg.Input.Kind, "caller config is not modified")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	var r result
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &r))
	assert.Equal(t, "ticks", r.Endpoint)
	assert.Equal(t, map[string]any{"n": 1.0}, r.Payload)
}

func TestCheck(t *testing.T) {
	good := &Config{Endpoints: []EndpointConfig{
		{Name: "a", Query: "select * from A where event.x > 1"},
		{URI: pairsURI()},
	}}
	require.NoError(t, Check(good, discard))

	bad := &Config{Endpoints: []EndpointConfig{
		{Name: "a", Query: "select * from A where event.x >"},
		{Name: "b", Pattern: "every a=A -> a=B"},
		{Name: "c", Pattern: "every C"},
	}}
	err := Check(bad, discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, cep.ErrQueryCreation)
	assert.ErrorIs(t, err, memory.ErrSyntax)
	assert.Contains(t, err.Error(), `endpoint "a"`)
	assert.Contains(t, err.Error(), `endpoint "b"`)
	assert.NotContains(t, err.Error(), `endpoint "c"`)
}
