package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/app"
	"github.com/pscheid92/livepoll/internal/auth"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/platform/config"
)

// --- Mock implementations ---

type mockAppService struct {
	registerFn    func(ctx context.Context, req app.RegisterRequest) (*auth.Token, error)
	loginFn       func(ctx context.Context, email, password string) (*auth.Token, error)
	meFn          func(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	createPollFn  func(ctx context.Context, ownerID uuid.UUID, req app.CreatePollRequest) (*domain.PollResults, error)
	listPollsFn   func(ctx context.Context, req app.ListPollsRequest, viewer uuid.UUID) ([]domain.PollResults, error)
	listMyPollsFn func(ctx context.Context, ownerID uuid.UUID, req app.ListPollsRequest) ([]domain.PollResults, error)
	getPollFn     func(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error)
	resultsFn     func(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error)
	voteFn        func(ctx context.Context, pollID, optionID, userID uuid.UUID) (*domain.VoteOutcome, error)
}

func (m *mockAppService) Register(ctx context.Context, req app.RegisterRequest) (*auth.Token, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) Login(ctx context.Context, email, password string) (*auth.Token, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) Me(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if m.meFn != nil {
		return m.meFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) CreatePoll(ctx context.Context, ownerID uuid.UUID, req app.CreatePollRequest) (*domain.PollResults, error) {
	if m.createPollFn != nil {
		return m.createPollFn(ctx, ownerID, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) ListPolls(ctx context.Context, req app.ListPollsRequest, viewer uuid.UUID) ([]domain.PollResults, error) {
	if m.listPollsFn != nil {
		return m.listPollsFn(ctx, req, viewer)
	}
	return []domain.PollResults{}, nil
}

func (m *mockAppService) ListMyPolls(ctx context.Context, ownerID uuid.UUID, req app.ListPollsRequest) ([]domain.PollResults, error) {
	if m.listMyPollsFn != nil {
		return m.listMyPollsFn(ctx, ownerID, req)
	}
	return []domain.PollResults{}, nil
}

func (m *mockAppService) GetPoll(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error) {
	if m.getPollFn != nil {
		return m.getPollFn(ctx, pollID, viewer)
	}
	return nil, domain.ErrPollNotFound
}

func (m *mockAppService) Results(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error) {
	if m.resultsFn != nil {
		return m.resultsFn(ctx, pollID, viewer)
	}
	return nil, domain.ErrPollNotFound
}

func (m *mockAppService) Vote(ctx context.Context, pollID, optionID, userID uuid.UUID) (*domain.VoteOutcome, error) {
	if m.voteFn != nil {
		return m.voteFn(ctx, pollID, optionID, userID)
	}
	return nil, errors.New("not implemented")
}

// mockIdentity accepts "valid-<uuid>" tokens.
type mockIdentity struct{}

func (mockIdentity) CurrentUserID(credential string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(credential, "valid-")
	if !ok {
		return uuid.Nil, domain.ErrUnauthenticated
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ErrUnauthenticated
	}
	return id, nil
}

type noopConnections struct{}

func (noopConnections) Serve(context.Context, uuid.UUID, *websocket.Conn) {}

// --- Helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                       "test",
		Port:                         "0",
		AllowedOrigins:               []string{"http://localhost:5173"},
		BroadcastSendTimeout:         time.Second,
		WSPingInterval:               time.Second,
		WSIdleTimeout:                time.Minute,
		MaxWebSocketConnections:      100,
		MaxWebSocketConnectionsPerIP: 10,
		WebSocketConnectRate:         100,
		WebSocketConnectBurst:        100,
		VoteRateLimit:                100,
		VoteRateBurst:                100,
	}
}

func newTestServer(t *testing.T, appSvc appService, opts ...func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewServer(cfg, appSvc, mockIdentity{}, noopConnections{}, nil, clockwork.NewRealClock())
}

func bearer(userID uuid.UUID) string {
	return "Bearer valid-" + userID.String()
}

func doRequest(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

var _ http.Handler = (*Server)(nil)
