package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/databench/databench/pkg/server"
)

func TestPrometheusMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw := Prometheus(WithRegistry(reg))

	var calls int
	next := func(ctx context.Context, inv *server.Invocation) error {
		calls++
		if inv.Signal == "boom" {
			return errors.New("handler blew up")
		}
		return nil
	}
	wrapped := mw(next)

	ok := &server.Invocation{Analysis: "dummypi", Signal: "connect", Handlers: 1}
	bad := &server.Invocation{Analysis: "dummypi", Signal: "boom", Handlers: 1}

	if err := wrapped(context.Background(), ok); err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if err := wrapped(context.Background(), bad); err == nil {
		t.Fatal("wrapped should propagate the error")
	}
	if calls != 2 {
		t.Errorf("next called %d times, want 2", calls)
	}

	m := globalMetrics
	if got := testutil.ToFloat64(m.invocationsTotal.WithLabelValues("dummypi", "connect", "success")); got != 1 {
		t.Errorf("success invocations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.invocationsTotal.WithLabelValues("dummypi", "boom", "panic")); got != 1 {
		t.Errorf("panic invocations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.handlerPanics.WithLabelValues("dummypi")); got != 1 {
		t.Errorf("panics = %v, want 1", got)
	}

	RecordSessionCreate()
	RecordSessionCreate()
	RecordSessionDestroy()
	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsTotal); got != 2 {
		t.Errorf("sessions total = %v, want 2", got)
	}
}

func TestOTelMiddlewarePassThrough(t *testing.T) {
	mw := OTel(WithTracerName("test"))

	wantErr := errors.New("boom")
	wrapped := mw(func(ctx context.Context, inv *server.Invocation) error {
		return wantErr
	})

	inv := &server.Invocation{Analysis: "dummypi", Signal: "connect"}
	if err := wrapped(context.Background(), inv); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestOTelMiddlewareFilter(t *testing.T) {
	mw := OTel(WithFilter(func(inv *server.Invocation) bool {
		return inv.Analysis != "skip-me"
	}))

	var calls int
	wrapped := mw(func(ctx context.Context, inv *server.Invocation) error {
		calls++
		return nil
	})

	wrapped(context.Background(), &server.Invocation{Analysis: "skip-me", Signal: "x"})
	wrapped(context.Background(), &server.Invocation{Analysis: "trace-me", Signal: "x"})

	// The filter skips tracing, never the handler.
	if calls != 2 {
		t.Errorf("next called %d times, want 2", calls)
	}
}
