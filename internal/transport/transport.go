package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizrush/quizrush/internal/protocol"
)

// Handler receives the raw payload of one inbound event. Handlers run on
// the single dispatch goroutine, in server order; no two handlers are ever
// active at the same time.
type Handler = func(data json.RawMessage)

// Config holds configuration for the server connection.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReconnectWait    time.Duration
	MaxMessageSize   int64
	QueueSize        int // outbound frames buffered while disconnected
}

// DefaultConfig returns default connection configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		ReconnectWait:    2 * time.Second,
		MaxMessageSize:   32 * 1024,
		QueueSize:        64,
	}
}

// Handle is the shared, long-lived connection to the push-event server.
// It survives reconnects: event bindings are kept client-side, and frames
// emitted while no connection is up are queued and flushed in order once
// the socket is ready.
type Handle struct {
	id     string
	config Config
	clock  clockwork.Clock
	dialer *websocket.Dialer

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu      sync.Mutex
	conn    *websocket.Conn
	pending [][]byte

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a Handle for the given server. Connect must be called before
// any traffic flows; Emit and On are safe to use immediately.
func New(config Config, clock clockwork.Clock) *Handle {
	return &Handle{
		id:     uuid.New().String()[:8], // short ID for logging
		config: config,
		clock:  clock,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// On binds the handler for an event kind. There is exactly one handler per
// kind; binding again replaces the previous one, so resubscription across
// remounts can never double-fire.
func (h *Handle) On(event string, handler Handler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[event] = handler
}

// Off removes the handler for an event kind.
func (h *Handle) Off(event string) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	delete(h.handlers, event)
}

// Emit sends a named event to the server. While disconnected the frame is
// queued and flushed once the connection is ready; a full queue drops the
// oldest frame.
func (h *Handle) Emit(event string, payload interface{}) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	conn := h.conn
	if conn == nil {
		if len(h.pending) >= h.config.QueueSize {
			h.pending = h.pending[1:]
			log.Warn().
				Str("transport_id", h.id).
				Str("event", event).
				Msg("outbound queue full, dropping oldest frame")
		}
		h.pending = append(h.pending, frame)
		h.mu.Unlock()
		log.Debug().
			Str("transport_id", h.id).
			Str("event", event).
			Msg("not connected, queued outbound event")
		return nil
	}
	defer h.mu.Unlock()

	return h.writeFrame(conn, frame)
}

// writeFrame writes one frame under h.mu.
func (h *Handle) writeFrame(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Connect starts the connection loop in the background. The loop redials
// with a fixed reconnect wait until ctx is cancelled or Close is called.
func (h *Handle) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("transport already started")
	}
	h.started = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mu.Unlock()

	go h.run(runCtx)
	return nil
}

// run dials, pumps one connection until it fails, then waits and redials.
func (h *Handle) run(ctx context.Context) {
	defer close(h.done)

	for {
		conn, _, err := h.dialer.DialContext(ctx, h.config.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().
				Err(err).
				Str("transport_id", h.id).
				Str("url", h.config.URL).
				Msg("dial failed, retrying")
			if !h.sleep(ctx, h.config.ReconnectWait) {
				return
			}
			continue
		}

		log.Info().
			Str("transport_id", h.id).
			Str("url", h.config.URL).
			Msg("connected")

		h.attach(conn)
		h.readLoop(ctx, conn)
		h.detach(conn)

		if ctx.Err() != nil {
			return
		}
		log.Warn().
			Str("transport_id", h.id).
			Msg("connection lost, reconnecting")
		if !h.sleep(ctx, h.config.ReconnectWait) {
			return
		}
	}
}

// attach installs the live connection and flushes frames queued while
// disconnected, preserving their order.
func (h *Handle) attach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conn = conn
	for _, frame := range h.pending {
		if err := h.writeFrame(conn, frame); err != nil {
			log.Error().
				Err(err).
				Str("transport_id", h.id).
				Msg("failed to flush queued frame")
			break
		}
	}
	h.pending = nil
}

func (h *Handle) detach(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
	conn.Close()
}

// readLoop reads frames and dispatches them in arrival order. It is the
// only goroutine that invokes handlers, so handler execution is serialized
// exactly as the server sent the events.
func (h *Handle) readLoop(ctx context.Context, conn *websocket.Conn) {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go h.pingLoop(pingCtx, conn)

	conn.SetReadLimit(h.config.MaxMessageSize)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("transport_id", h.id).
					Msg("unexpected close")
			}
			return
		}
		h.dispatch(frame)
	}
}

// pingLoop keeps the connection alive. A write failure here surfaces as a
// read error in readLoop, which triggers the reconnect.
func (h *Handle) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := h.clock.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			h.mu.Unlock()
			if err != nil {
				log.Debug().
					Err(err).
					Str("transport_id", h.id).
					Msg("ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (h *Handle) dispatch(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		log.Debug().
			Err(err).
			Str("transport_id", h.id).
			Msg("dropping malformed frame")
		return
	}

	h.handlersMu.RLock()
	handler := h.handlers[env.Event]
	h.handlersMu.RUnlock()

	if handler == nil {
		log.Debug().
			Str("transport_id", h.id).
			Str("event", env.Event).
			Msg("no handler bound, ignoring event")
		return
	}
	handler(env.Data)
}

func (h *Handle) sleep(ctx context.Context, d time.Duration) bool {
	timer := h.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// Close tears the connection down and stops the reconnect loop. Safe to
// call more than once.
func (h *Handle) Close() {
	h.mu.Lock()
	cancel := h.cancel
	conn := h.conn
	started := h.started
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if started {
		<-h.done
	}
	log.Info().Str("transport_id", h.id).Msg("transport closed")
}
