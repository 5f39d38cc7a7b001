package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/app"
	"github.com/pscheid92/livepoll/internal/auth"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/platform/config"
)

type appService interface {
	Register(ctx context.Context, req app.RegisterRequest) (*auth.Token, error)
	Login(ctx context.Context, email, password string) (*auth.Token, error)
	Me(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	CreatePoll(ctx context.Context, ownerID uuid.UUID, req app.CreatePollRequest) (*domain.PollResults, error)
	ListPolls(ctx context.Context, req app.ListPollsRequest, viewer uuid.UUID) ([]domain.PollResults, error)
	ListMyPolls(ctx context.Context, ownerID uuid.UUID, req app.ListPollsRequest) ([]domain.PollResults, error)
	GetPoll(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error)
	Results(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error)
	Vote(ctx context.Context, pollID, optionID, userID uuid.UUID) (*domain.VoteOutcome, error)
}

// connectionServer runs one live-results WebSocket until it ends.
type connectionServer interface {
	Serve(ctx context.Context, pollID uuid.UUID, conn *websocket.Conn)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app         appService
	identity    domain.IdentityProvider
	connections connectionServer
	limits      *ConnectionLimits
	upgrader    websocket.Upgrader

	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time

	// shutdownCtx ends hijacked WebSocket connections, which Echo's
	// Shutdown does not track.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

func NewServer(cfg *config.Config, app appService, identity domain.IdentityProvider, connections connectionServer, healthChecks []HealthCheck, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          app,
		identity:     identity,
		connections:  connections,
		limits:       NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxWebSocketConnectionsPerIP, cfg.WebSocketConnectRate, cfg.WebSocketConnectBurst, clock),
		healthChecks: healthChecks,
		clock:        clock,
		startTime:    clock.Now(),

		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     NewCheckOrigin(cfg.AllowedOrigins, cfg.AppEnv != "production"),
	}

	srv.registerRoutes()

	return srv
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown closes open WebSocket connections and then drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownCancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
