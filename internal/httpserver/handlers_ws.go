package httpserver

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/metrics"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
)

// handleWebSocket upgrades the request and streams updates for one poll. The
// poll is not looked up first; a subscription to an unknown poll simply never
// receives updates.
func (s *Server) handleWebSocket(c echo.Context) error {
	pollID, err := parsePollID(c)
	if err != nil {
		return err
	}

	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		return apperrors.RateLimitedError("too many connections").WithField("reason", string(reason))
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written an error response.
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.WarnContext(c.Request().Context(), "WebSocket upgrade failed", "poll_id", pollID, "error", err)
		return nil
	}
	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	stop := context.AfterFunc(s.shutdownCtx, cancel)
	defer stop()

	s.connections.Serve(ctx, pollID, conn)
	return nil
}
