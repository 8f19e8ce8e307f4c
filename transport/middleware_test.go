package transport

import (
	"context"
	"testing"
	"time"
)

func TestMiddlewareChainRunsInRegistrationOrder(t *testing.T) {
	chain := NewMiddlewareChain(nil)
	var order []string
	chain.Register(PreRequest, recordingMiddleware{name: "a", order: &order})
	chain.Register(PreRequest, recordingMiddleware{name: "b", order: &order})

	rc := newRequestContext("https://example.com", 0)
	chain.Run(context.Background(), PreRequest, rc)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected a then b, got %v", order)
	}
}

func TestMiddlewareChainIsolatesPanics(t *testing.T) {
	var caught []string
	chain := NewMiddlewareChain(func(_ MiddlewareType, name string, _ error) {
		caught = append(caught, name)
	})
	chain.Register(PreRequest, panicMiddleware{})
	chain.Register(PreRequest, recordingMiddleware{name: "after", order: &[]string{}})

	rc := newRequestContext("https://example.com", 0)
	chain.Run(context.Background(), PreRequest, rc)

	if len(caught) != 1 || caught[0] != "panic" {
		t.Fatalf("expected the panic to be caught and reported, got %v", caught)
	}
}

func TestRateLimitMiddlewareConsumesBurstWithoutBlocking(t *testing.T) {
	m := NewRateLimitMiddleware(1, 3)
	rc := newRequestContext("https://example.com", 0)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := m.Process(context.Background(), rc); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("expected burst of 3 to pass without blocking")
	}
}

func TestUserAgentMiddlewareRotates(t *testing.T) {
	m := NewUserAgentMiddleware([]string{"ua-1", "ua-2"})
	rc1 := newRequestContext("https://example.com/1", 0)
	rc2 := newRequestContext("https://example.com/2", 0)

	m.Process(context.Background(), rc1)
	m.Process(context.Background(), rc2)

	if rc1.Headers["User-Agent"] != "ua-1" || rc2.Headers["User-Agent"] != "ua-2" {
		t.Fatalf("expected rotation across ua-1 then ua-2, got %q then %q", rc1.Headers["User-Agent"], rc2.Headers["User-Agent"])
	}
}

type recordingMiddleware struct {
	name  string
	order *[]string
}

func (r recordingMiddleware) Name() string { return r.name }

func (r recordingMiddleware) Process(_ context.Context, _ *RequestContext) error {
	*r.order = append(*r.order, r.name)
	return nil
}

type panicMiddleware struct{}

func (panicMiddleware) Name() string { return "panic" }

func (panicMiddleware) Process(_ context.Context, _ *RequestContext) error {
	panic("boom")
}
