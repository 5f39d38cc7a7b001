package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/metrics"
)

const (
	maxInboundMessageSize = 512
	defaultPingInterval   = 30 * time.Second
	defaultIdleTimeout    = 5 * time.Minute
)

var pongReply = []byte("pong")

type HandlerConfig struct {
	// PingInterval is how often a ping control frame is sent. The read
	// deadline is extended to twice this on every pong or inbound message.
	PingInterval time.Duration
	// IdleTimeout closes connections that showed no sign of life for this long.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// ConnectionHandler manages the lifecycle of poll subscribers.
type ConnectionHandler struct {
	registry *Registry
	clock    clockwork.Clock
	cfg      HandlerConfig
}

func NewConnectionHandler(registry *Registry, cfg HandlerConfig, clock clockwork.Clock) *ConnectionHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultSendTimeout
	}
	return &ConnectionHandler{registry: registry, clock: clock, cfg: cfg}
}

// OnConnect wraps conn and registers it under pollID. The poll does not need to exist.
func (h *ConnectionHandler) OnConnect(pollID uuid.UUID, conn *websocket.Conn) *Conn {
	sub := newConn(pollID, conn, h.clock, h.cfg.WriteTimeout)
	h.registry.Subscribe(pollID, sub)
	return sub
}

// OnDisconnect unregisters sub exactly once and closes its connection.
func (h *ConnectionHandler) OnDisconnect(sub *Conn) {
	sub.detachOnce.Do(func() {
		h.registry.Unsubscribe(sub.pollID, sub)
	})
	_ = sub.Close()
}

// Serve registers conn under pollID and blocks until the peer disconnects,
// ctx is cancelled, the connection idles out or a send to it fails.
func (h *ConnectionHandler) Serve(ctx context.Context, pollID uuid.UUID, conn *websocket.Conn) {
	sub := h.OnConnect(pollID, conn)
	start := h.clock.Now()
	metrics.WebSocketConnectionsCurrent.Inc()
	slog.DebugContext(ctx, "Subscriber connected", "poll_id", pollID, "subscriber_id", sub.ID())

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.keepAlive(ctx, sub)
	}()

	h.readPump(sub)

	cancel()
	h.OnDisconnect(sub)
	wg.Wait()

	metrics.WebSocketConnectionsCurrent.Dec()
	metrics.WebSocketConnectionDuration.Observe(h.clock.Since(start).Seconds())
	slog.DebugContext(ctx, "Subscriber disconnected", "poll_id", pollID, "subscriber_id", sub.ID())
}

func (h *ConnectionHandler) pongWait() time.Duration {
	return 2 * h.cfg.PingInterval
}

func (h *ConnectionHandler) extendReadDeadline(sub *Conn) {
	_ = sub.conn.SetReadDeadline(h.clock.Now().Add(h.pongWait()))
}

// readPump consumes inbound frames until the connection fails. Text "ping"
// is answered with "pong"; everything else only counts as activity.
func (h *ConnectionHandler) readPump(sub *Conn) {
	sub.conn.SetReadLimit(maxInboundMessageSize)
	h.extendReadDeadline(sub)
	sub.conn.SetPongHandler(func(string) error {
		sub.recordActivity()
		h.extendReadDeadline(sub)
		return nil
	})

	for {
		msgType, msg, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		sub.recordActivity()
		h.extendReadDeadline(sub)

		if msgType == websocket.TextMessage && string(msg) == "ping" {
			sendCtx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
			err := sub.Send(sendCtx, pongReply)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// keepAlive pings on every tick and closes the connection when it idles out,
// when a ping cannot be written or when ctx is cancelled.
func (h *ConnectionHandler) keepAlive(ctx context.Context, sub *Conn) {
	ticker := h.clock.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sub.closeWithReason(websocket.CloseGoingAway, "server shutting down")
			return
		case <-sub.Done():
			return
		case <-ticker.Chan():
			if sub.idleFor() >= h.cfg.IdleTimeout {
				metrics.WebSocketIdleDisconnects.Inc()
				sub.closeWithReason(websocket.CloseNormalClosure, "idle timeout")
				return
			}
			if err := sub.ping(); err != nil {
				metrics.WebSocketPingFailures.Inc()
				_ = sub.Close()
				return
			}
		}
	}
}
