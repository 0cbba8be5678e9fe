package cep

import (
	"errors"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    EndpointConfig
		wantErr bool
	}{
		{
			uri:  "cep:orders?query=select+*+from+Order",
			want: EndpointConfig{Name: "orders", Query: "select * from Order"},
		},
		{
			uri:  "cep:alerts?pattern=every+a%3DA+-%3E+b%3DB&mapEvents=true",
			want: EndpointConfig{Name: "alerts", Pattern: "every a=A -> b=B", MapEvents: true},
		},
		{
			uri:  "cep://orders?eql=select+*+from+Order",
			want: EndpointConfig{Name: "orders", Query: "select * from Order"},
		},
		{
			uri:  "cep:orders",
			want: EndpointConfig{Name: "orders"},
		},
		{uri: "esper:orders?query=x", wantErr: true},
		{uri: "cep:?query=x", wantErr: true},
		{uri: "cep:orders?query=x&eql=y", wantErr: true},
		{uri: "cep:orders?mapEvents=maybe", wantErr: true},
		{uri: "cep:orders?window=5s", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, ErrConfig) {
					t.Fatalf("expected ErrConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURI: %v", err)
			}
			if got.Name != tt.want.Name || got.Pattern != tt.want.Pattern ||
				got.Query != tt.want.Query || got.MapEvents != tt.want.MapEvents {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestComponent_SingletonEndpoints(t *testing.T) {
	engine := &fakeEngine{}
	c := NewComponent(engine, ComponentConfig{Logger: discardLogger{}})

	ep1, err := c.Endpoint("cep:orders?query=select+*+from+Order")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	ep2, err := c.Endpoint("cep:orders?query=select+*+from+Order")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if ep1 != ep2 {
		t.Error("expected the same endpoint for the same name")
	}

	byName, err := c.Endpoint("cep:orders")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if byName != ep1 {
		t.Error("expected name-only URI to resolve the registered endpoint")
	}

	if _, err := c.Endpoint("cep:orders?pattern=every+Order"); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for conflicting registration, got %v", err)
	}
	if _, err := c.Endpoint("cep:unknown"); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for unknown name without expression, got %v", err)
	}
}

func TestComponent_Close(t *testing.T) {
	engine := &fakeEngine{}
	c := NewComponent(engine, ComponentConfig{Logger: discardLogger{}})

	a, _ := c.Register(EndpointConfig{Name: "b", Query: "select * from B"})
	b, _ := c.Register(EndpointConfig{Name: "a", Query: "select * from A"})
	_, _ = a.Attach()
	_, _ = b.Attach()

	eps := c.Endpoints()
	if len(eps) != 2 || eps[0].Name() != "a" || eps[1].Name() != "b" {
		t.Fatalf("expected endpoints sorted by name, got %v", eps)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := engine.destroyed.Load(); n != 2 {
		t.Errorf("expected 2 queries destroyed, got %d", n)
	}
	if _, err := c.Register(EndpointConfig{Name: "c", Query: "select * from C"}); !errors.Is(err, ErrEndpointClosed) {
		t.Errorf("expected ErrEndpointClosed, got %v", err)
	}
}
