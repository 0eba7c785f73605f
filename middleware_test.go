package dashkit

import (
	"bytes"
	"context"
	"log"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMiddlewareChainExecutionOrder(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *Request) (any, error) {
				record(name + "-before")
				res, err := next(ctx, req)
				record(name + "-after")
				return res, err
			}
		}
	}
	h.fetcher.Use(mw("first"), mw("second"))

	if res := h.fetcher.Get(context.Background(), "orders", "list", nil); !res.Success {
		t.Fatalf("Get failed: %s", res.Error)
	}

	want := []string{"first-before", "second-before", "second-after", "first-after"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestMiddlewareSeesRequest(t *testing.T) {
	h := newHarness(t)

	var seen *Request
	h.fetcher.Use(func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			seen = RequestFromContext(ctx)
			return next(ctx, req)
		}
	})

	h.fetcher.Post(context.Background(), "orders", "create", map[string]int{"qty": 2}, nil)

	if seen == nil {
		t.Fatal("RequestFromContext returned nil inside middleware")
	}
	if seen.Op != OpPost || seen.Target() != "orders.create" {
		t.Errorf("request = %s %s", seen.Op, seen.Target())
	}
	if seen.Params.Get("sessionID") != h.sid {
		t.Errorf("sessionID = %q, want %q", seen.Params.Get("sessionID"), h.sid)
	}
}

func TestMiddlewareRequestRejection(t *testing.T) {
	h := newHarness(t)
	h.fetcher.Use(func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			return nil, &ValidationError{Field: "structure", Reason: "blocked"}
		}
	})
	before := h.p.DataCalls.Load()

	res := h.fetcher.Get(context.Background(), "orders", "list", nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "invalid structure: blocked" {
		t.Errorf("error = %q", res.Error)
	}
	if h.p.DataCalls.Load() != before {
		t.Error("rejected request reached the platform")
	}
	if len(h.alerts.all()) != 0 {
		t.Error("non-HTTP failure must not raise an alert")
	}
}

func TestRequestFromContextOutsideChain(t *testing.T) {
	if RequestFromContext(context.Background()) != nil {
		t.Error("expected nil outside the chain")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	h.fetcher.Use(LoggingMiddleware(log.New(&buf, "", 0)))

	h.fetcher.Get(context.Background(), "orders", "list", nil)
	h.fetcher.Get(WithSilent(context.Background()), "WebUser", "profile", nil)
	h.p.ExpireSession(h.sid)
	h.fetcher.Get(WithSilent(context.Background()), "orders", "list", nil)

	out := buf.String()
	if !strings.Contains(out, "get orders.list ok") {
		t.Errorf("missing success line in %q", out)
	}
	if !strings.Contains(out, "get orders.list failed") {
		t.Errorf("missing failure line in %q", out)
	}
}

func TestTracingMiddleware(t *testing.T) {
	h := newHarness(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())
	h.fetcher.Use(TracingMiddleware(tp))

	h.fetcher.Get(context.Background(), "orders", "list", nil)
	h.p.ExpireSession(h.sid)
	h.fetcher.Post(WithSilent(context.Background()), "orders", "create", nil, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "dashkit.get" || spans[1].Name() != "dashkit.post" {
		t.Errorf("span names = %q, %q", spans[0].Name(), spans[1].Name())
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("successful call recorded as error")
	}
	if spans[1].Status().Code != codes.Error {
		t.Error("failed call not recorded as error")
	}
	var sawStatus, sawStructure bool
	for _, kv := range spans[1].Attributes() {
		switch kv.Key {
		case attribute.Key("http.response.status_code"):
			sawStatus = kv.Value.AsInt64() == 403
		case attribute.Key("dashkit.structure"):
			sawStructure = kv.Value.AsString() == "orders"
		}
	}
	if !sawStatus || !sawStructure {
		t.Errorf("attributes = %v", spans[1].Attributes())
	}
}
