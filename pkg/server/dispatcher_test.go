package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/databench/databench/pkg/analysis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sentEvent is one outbound event captured by the fake transport.
type sentEvent struct {
	analysis string
	signal   string
	payload  any
}

// fakeTransport records sends per connection.
type fakeTransport struct {
	mu    sync.Mutex
	sends map[string][]sentEvent
	fail  error // when set, Send returns it
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sends: make(map[string][]sentEvent)}
}

func (f *fakeTransport) Send(connID, analysisName, signal string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sends[connID] = append(f.sends[connID], sentEvent{
		analysis: analysisName,
		signal:   signal,
		payload:  payload,
	})
	return nil
}

func (f *fakeTransport) events(connID string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEvent, len(f.sends[connID]))
	copy(out, f.sends[connID])
	return out
}

func (f *fakeTransport) count(connID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends[connID])
}

// waitFor polls until the condition holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestDispatcher wires a dispatcher over the given catalog and a fake
// transport.
func newTestDispatcher(t *testing.T, catalog *analysis.Catalog) (*Dispatcher, *fakeTransport, *SessionManager) {
	t.Helper()
	catalog.Seal()
	ft := newFakeTransport()
	sm := NewSessionManager(0, testLogger())
	d := NewDispatcher(catalog, sm, testLogger())
	d.AttachTransport(ft)
	return d, ft, sm
}

func TestDispatchInvokesHandlersInOrder(t *testing.T) {
	catalog := analysis.NewCatalog()
	a := analysis.New("calc")
	for i := 0; i < 3; i++ {
		i := i
		a.On("run", func(e analysis.Emitter, payload map[string]any) {
			e.Emit("step", map[string]any{"handler": i})
		})
	}
	catalog.Register(a)

	d, ft, _ := newTestDispatcher(t, catalog)

	d.OnMessage("c1", "calc", "run", nil)

	waitFor(t, time.Second, "3 emits", func() bool { return ft.count("c1") == 3 })

	for i, ev := range ft.events("c1") {
		if ev.signal != "step" {
			t.Errorf("event %d signal = %q, want step", i, ev.signal)
		}
		p := ev.payload.(map[string]any)
		if p["handler"] != i {
			t.Errorf("event %d from handler %v, want %d (registration order)", i, p["handler"], i)
		}
	}
}

func TestDispatchUnknownAnalysisIsDropped(t *testing.T) {
	catalog := analysis.NewCatalog()
	d, ft, sm := newTestDispatcher(t, catalog)

	// Must not panic or crash; connection stays open, nothing is emitted.
	d.OnMessage("c1", "ghost", "run", nil)

	time.Sleep(20 * time.Millisecond)
	if n := ft.count("c1"); n != 0 {
		t.Errorf("unknown analysis produced %d emits, want 0", n)
	}
	if sm.Count() != 0 {
		t.Errorf("unknown analysis created %d sessions, want 0", sm.Count())
	}
}

func TestDispatchNoHandlerIsNoOp(t *testing.T) {
	catalog := analysis.NewCatalog()
	a := analysis.New("calc")
	a.On("known", func(e analysis.Emitter, payload map[string]any) {
		e.Emit("out", nil)
	})
	catalog.Register(a)

	d, ft, sm := newTestDispatcher(t, catalog)

	d.OnMessage("c1", "calc", "nothing-registered", nil)

	time.Sleep(20 * time.Millisecond)
	if n := ft.count("c1"); n != 0 {
		t.Errorf("no-handler dispatch produced %d emits, want 0", n)
	}
	// The session is still created; handler lookup happens after.
	if sm.Get("c1", "calc") == nil {
		t.Error("session should be created even when no handler matches")
	}
}

func TestSessionIsolation(t *testing.T) {
	catalog := analysis.NewCatalog()
	a := analysis.New("calc")
	a.On("run", func(e analysis.Emitter, payload map[string]any) {
		for i := 0; i < 10; i++ {
			e.Emit("tick", map[string]any{"n": i, "from": payload["who"]})
		}
	})
	catalog.Register(a)

	d, ft, _ := newTestDispatcher(t, catalog)

	d.OnMessage("c1", "calc", "run", map[string]any{"who": "c1"})
	d.OnMessage("c2", "calc", "run", map[string]any{"who": "c2"})

	waitFor(t, time.Second, "both streams", func() bool {
		return ft.count("c1") == 10 && ft.count("c2") == 10
	})

	for _, conn := range []string{"c1", "c2"} {
		for i, ev := range ft.events(conn) {
			p := ev.payload.(map[string]any)
			if p["from"] != conn {
				t.Fatalf("event for %s carries payload from %v: cross-delivery", conn, p["from"])
			}
			if p["n"] != i {
				t.Errorf("%s event %d has n=%v, want %d (emission order)", conn, i, p["n"], i)
			}
		}
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	catalog := analysis.NewCatalog()
	a := analysis.New("calc")
	a.On("boom", func(e analysis.Emitter, payload map[string]any) {
		panic("kaboom")
	})
	a.On("run", func(e analysis.Emitter, payload map[string]any) {
		e.Emit("ok", nil)
	})
	catalog.Register(a)

	d, ft, sm := newTestDispatcher(t, catalog)

	d.OnMessage("c1", "calc", "boom", nil)

	waitFor(t, time.Second, "error event", func() bool { return ft.count("c1") == 1 })

	evs := ft.events("c1")
	if evs[0].signal != analysis.SignalError {
		t.Errorf("signal = %q, want %q", evs[0].signal, analysis.SignalError)
	}
	p := evs[0].payload.(map[string]any)
	if p["signal"] != "boom" {
		t.Errorf("error payload signal = %v, want boom", p["signal"])
	}
	// Sanitized: the panic value must not leak to the client.
	if msg, _ := p["message"].(string); msg == "" || containsStr(msg, "kaboom") {
		t.Errorf("error message = %q, want sanitized non-empty message", msg)
	}

	waitFor(t, time.Second, "failed state", func() bool {
		return sm.Get("c1", "calc").State() == StateFailed
	})

	// The failure must not affect other sessions.
	d.OnMessage("c2", "calc", "run", nil)
	waitFor(t, time.Second, "c2 dispatch", func() bool { return ft.count("c2") == 1 })

	time.Sleep(20 * time.Millisecond)
	if n := ft.count("c1"); n != 1 {
		t.Errorf("failing session got %d events, want exactly 1 error event", n)
	}
}

func containsStr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestDisconnectDiscardsLateEmits(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	catalog := analysis.NewCatalog()
	a := analysis.New("calc")
	a.On("run", func(e analysis.Emitter, payload map[string]any) {
		e.Emit("early", nil)
		close(started)
		<-release
		e.Emit("late1", nil)
		e.Emit("late2", nil)
		close(done)
	})
	catalog.Register(a)

	d, ft, sm := newTestDispatcher(t, catalog)

	d.OnMessage("c1", "calc", "run", nil)
	<-started
	waitFor(t, time.Second, "early emit", func() bool { return ft.count("c1") == 1 })

	s := sm.Get("c1", "calc")
	d.OnDisconnect("c1")

	if s.State() != StateAbandoned {
		t.Errorf("state after disconnect mid-handler = %v, want abandoned", s.State())
	}

	close(release)
	<-done

	time.Sleep(20 * time.Millisecond)
	if n := ft.count("c1"); n != 1 {
		t.Errorf("late emits were delivered: %d events, want 1", n)
	}
	waitFor(t, time.Second, "discard count", func() bool { return s.DiscardedCount() == 2 })
	if sm.Count() != 0 {
		t.Errorf("sessions after disconnect = %d, want 0", sm.Count())
	}
}

func TestConnectSignalCreatesSessionAndRunsHandlers(t *testing.T) {
	catalog := analysis.NewCatalog()
	a := analysis.New("greeter")
	a.On(analysis.SignalConnect, func(e analysis.Emitter, payload map[string]any) {
		e.Emit("hello", nil)
	})
	catalog.Register(a)
	bare := analysis.New("bare")
	catalog.Register(bare)

	d, ft, sm := newTestDispatcher(t, catalog)

	d.OnMessage("c1", "greeter", analysis.SignalConnect, nil)
	waitFor(t, time.Second, "hello", func() bool { return ft.count("c1") == 1 })

	// connect without a handler still creates the session.
	d.OnMessage("c1", "bare", analysis.SignalConnect, nil)
	waitFor(t, time.Second, "bare session", func() bool { return sm.Get("c1", "bare") != nil })

	// One connection may hold sessions for multiple analyses.
	if sm.Count() != 2 {
		t.Errorf("sessions = %d, want 2", sm.Count())
	}
}

func TestDisconnectSignalTearsDownOnePair(t *testing.T) {
	var mu sync.Mutex
	var goodbyes int

	catalog := analysis.NewCatalog()
	a := analysis.New("calc")
	a.On(analysis.SignalDisconnect, func(e analysis.Emitter, payload map[string]any) {
		mu.Lock()
		goodbyes++
		mu.Unlock()
	})
	catalog.Register(a)
	other := analysis.New("other")
	catalog.Register(other)

	d, _, sm := newTestDispatcher(t, catalog)

	d.OnMessage("c1", "calc", analysis.SignalConnect, nil)
	d.OnMessage("c1", "other", analysis.SignalConnect, nil)
	waitFor(t, time.Second, "2 sessions", func() bool { return sm.Count() == 2 })

	d.OnMessage("c1", "calc", analysis.SignalDisconnect, nil)

	waitFor(t, time.Second, "calc teardown", func() bool { return sm.Get("c1", "calc") == nil })
	mu.Lock()
	g := goodbyes
	mu.Unlock()
	if g != 1 {
		t.Errorf("disconnect handlers ran %d times, want 1", g)
	}
	if sm.Get("c1", "other") == nil {
		t.Error("disconnect for one analysis must not tear down the other")
	}
}

func TestDispatchWithoutTransport(t *testing.T) {
	catalog := analysis.NewCatalog()
	catalog.Register(analysis.New("calc"))
	catalog.Seal()

	sm := NewSessionManager(0, testLogger())
	d := NewDispatcher(catalog, sm, testLogger())

	// Must not panic.
	d.OnMessage("c1", "calc", "run", nil)
	if sm.Count() != 0 {
		t.Errorf("sessions = %d, want 0", sm.Count())
	}
}

func TestMiddlewareWrapsInvocations(t *testing.T) {
	catalog := analysis.NewCatalog()
	a := analysis.New("calc")
	a.On("run", func(e analysis.Emitter, payload map[string]any) {})
	a.On("boom", func(e analysis.Emitter, payload map[string]any) { panic("x") })
	catalog.Register(a)

	d, ft, _ := newTestDispatcher(t, catalog)

	var mu sync.Mutex
	var seen []string
	var failures int
	d.Use(func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, inv *Invocation) error {
			err := next(ctx, inv)
			mu.Lock()
			seen = append(seen, inv.Signal)
			if err != nil {
				failures++
			}
			mu.Unlock()
			return err
		}
	})

	d.OnMessage("c1", "calc", "run", nil)
	d.OnMessage("c1", "calc", "boom", nil)

	waitFor(t, time.Second, "middleware calls", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if failures != 1 {
		t.Errorf("middleware saw %d failures, want 1", failures)
	}

	// The error event still reaches the client with middleware installed.
	waitFor(t, time.Second, "error event", func() bool { return ft.count("c1") >= 1 })
}

func TestHandlerErrorContext(t *testing.T) {
	he := &HandlerError{
		ConnID:   "c1",
		Analysis: "calc",
		Signal:   "boom",
		Panic:    "oops",
	}
	msg := he.Error()
	for _, want := range []string{"calc", "boom", "c1", "oops"} {
		if !containsStr(msg, want) {
			t.Errorf("HandlerError.Error() = %q, missing %q", msg, want)
		}
	}

	var target *HandlerError
	if !errors.As(error(he), &target) {
		t.Error("errors.As should match HandlerError")
	}
}
