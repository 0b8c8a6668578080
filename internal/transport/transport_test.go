package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/quizrush/quizrush/internal/protocol"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// testServer is a minimal push-event server: it records every frame the
// client sends and lets tests push frames back, including across client
// reconnects.
type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []protocol.Envelope
	accepts  int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{t: t}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conn = conn
		ts.accepts++
		ts.mu.Unlock()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(frame)
			if err != nil {
				continue
			}
			ts.mu.Lock()
			ts.received = append(ts.received, *env)
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) acceptCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.accepts
}

func (ts *testServer) receivedEvents() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	events := make([]string, len(ts.received))
	for i, env := range ts.received {
		events[i] = env.Event
	}
	return events
}

// push writes one event frame to the currently connected client.
func (ts *testServer) push(event string, payload interface{}) {
	ts.t.Helper()
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		ts.t.Fatalf("encode push frame: %v", err)
	}
	ts.mu.Lock()
	conn := ts.conn
	ts.mu.Unlock()
	if conn == nil {
		ts.t.Fatal("no client connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		ts.t.Fatalf("push frame: %v", err)
	}
}

// dropClient closes the server side of the connection to force a reconnect.
func (ts *testServer) dropClient() {
	ts.mu.Lock()
	conn := ts.conn
	ts.conn = nil
	ts.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func testConfig(url string) Config {
	config := DefaultConfig(url)
	config.ReconnectWait = 25 * time.Millisecond
	config.PingInterval = time.Hour
	return config
}

func startTransport(t *testing.T, ts *testServer) *Handle {
	t.Helper()
	h := New(testConfig(ts.url()), clockwork.NewRealClock())
	if err := h.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(h.Close)
	waitFor(t, func() bool { return ts.acceptCount() >= 1 }, "initial connection")
	return h
}

func TestTransport_PreConnectEmitsFlushInOrder(t *testing.T) {
	ts := newTestServer(t)
	h := New(testConfig(ts.url()), clockwork.NewRealClock())

	// Emit before any connection exists: frames queue client-side.
	for _, event := range []string{"first", "second", "third"} {
		if err := h.Emit(event, map[string]string{"k": event}); err != nil {
			t.Fatalf("emit %s: %v", event, err)
		}
	}

	if err := h.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(h.Close)

	waitFor(t, func() bool { return len(ts.receivedEvents()) == 3 }, "queued frames")
	got := ts.receivedEvents()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flush order: want %v, got %v", want, got)
		}
	}
}

func TestTransport_DispatchPreservesServerOrder(t *testing.T) {
	ts := newTestServer(t)
	h := startTransport(t, ts)

	var mu sync.Mutex
	var seen []string
	h.On("tick", func(data json.RawMessage) {
		var n string
		if err := json.Unmarshal(data, &n); err != nil {
			t.Errorf("unmarshal tick: %v", err)
			return
		}
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	want := []string{"a", "b", "c", "d", "e"}
	for _, n := range want {
		ts.push("tick", n)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	}, "dispatched events")

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("dispatch order: want %v, got %v", want, seen)
		}
	}
}

func TestTransport_BindingsSurviveReconnect(t *testing.T) {
	ts := newTestServer(t)
	h := startTransport(t, ts)

	var mu sync.Mutex
	var count int
	h.On("ping", func(json.RawMessage) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	ts.push("ping", nil)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return count == 1 }, "first dispatch")

	ts.dropClient()
	waitFor(t, func() bool { return ts.acceptCount() >= 2 }, "reconnect")

	// The binding made before the drop still fires on the new connection.
	ts.push("ping", nil)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return count == 2 }, "post-reconnect dispatch")
}

func TestTransport_EmitAfterReconnectReachesServer(t *testing.T) {
	ts := newTestServer(t)
	h := startTransport(t, ts)

	ts.dropClient()

	// Emitted while the socket is down: queued, then flushed on redial.
	if err := h.Emit("queued", nil); err != nil {
		t.Fatalf("emit while down: %v", err)
	}

	waitFor(t, func() bool {
		for _, event := range ts.receivedEvents() {
			if event == "queued" {
				return true
			}
		}
		return false
	}, "queued frame after reconnect")
}

func TestTransport_OnReplacesAndOffRemoves(t *testing.T) {
	ts := newTestServer(t)
	h := startTransport(t, ts)

	var mu sync.Mutex
	var old, current int
	h.On("evt", func(json.RawMessage) { mu.Lock(); old++; mu.Unlock() })
	h.On("evt", func(json.RawMessage) { mu.Lock(); current++; mu.Unlock() })

	ts.push("evt", nil)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return current == 1 }, "replacement handler")
	mu.Lock()
	if old != 0 {
		mu.Unlock()
		t.Fatalf("replaced handler fired %d times", old)
	}
	mu.Unlock()

	h.Off("evt")
	ts.push("evt", nil)
	// Push a second event with a live handler so we know the first was
	// already dispatched (and ignored) when it fires.
	var after int
	h.On("marker", func(json.RawMessage) { mu.Lock(); after++; mu.Unlock() })
	ts.push("marker", nil)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return after == 1 }, "marker dispatch")

	mu.Lock()
	defer mu.Unlock()
	if current != 1 {
		t.Fatalf("unbound handler fired: %d", current)
	}
}

func TestTransport_MalformedFramesAreIgnored(t *testing.T) {
	ts := newTestServer(t)
	h := startTransport(t, ts)

	var mu sync.Mutex
	var count int
	h.On("evt", func(json.RawMessage) { mu.Lock(); count++; mu.Unlock() })

	ts.mu.Lock()
	conn := ts.conn
	ts.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{garbage`)); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)); err != nil {
		t.Fatalf("write eventless frame: %v", err)
	}
	ts.push("evt", nil)

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return count == 1 }, "valid frame dispatch")
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("malformed frames dispatched: %d", count)
	}
}

func TestTransport_CloseIsIdempotentAndStopsRedial(t *testing.T) {
	ts := newTestServer(t)
	h := startTransport(t, ts)

	h.Close()
	h.Close()

	accepts := ts.acceptCount()
	time.Sleep(100 * time.Millisecond)
	if got := ts.acceptCount(); got != accepts {
		t.Fatalf("redialed after close: %d -> %d", accepts, got)
	}

	if err := h.Connect(context.Background()); err == nil {
		t.Fatal("want error reconnecting a closed transport")
	}
}
