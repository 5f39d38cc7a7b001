package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	registry   *Registry
	dispatcher *Dispatcher
	handler    *ConnectionHandler
	clock      clockwork.Clock
	cancel     context.CancelFunc
	dial       func(pollID uuid.UUID) *ws.Conn
}

// newTestEnv serves the ConnectionHandler on an httptest server; ?poll=<id> picks the poll.
func newTestEnv(t *testing.T, cfg HandlerConfig, clock clockwork.Clock) *testEnv {
	t.Helper()

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	registry := NewRegistry()
	env := &testEnv{
		registry:   registry,
		dispatcher: NewDispatcher(registry, time.Second, clock),
		handler:    NewConnectionHandler(registry, cfg, clock),
		clock:      clock,
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	t.Cleanup(cancel)

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		env.handler.Serve(serveCtx, uuid.MustParse(r.URL.Query().Get("poll")), conn)
	}))
	t.Cleanup(server.Close)

	env.dial = func(pollID uuid.UUID) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?poll=" + pollID.String()
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return env
}

func waitForSubscriberCount(t *testing.T, r *Registry, pollID uuid.UUID, expected int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.SubscriberCount(pollID) == expected
	}, 2*time.Second, 5*time.Millisecond, "expected %d subscribers", expected)
}

func readUpdate(t *testing.T, conn *ws.Conn) domain.PollUpdate {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var u domain.PollUpdate
	require.NoError(t, conn.ReadJSON(&u))
	return u
}

func TestConnectionHandler_RegistersAndUnregisters(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{}, nil)
	pollID := uuid.New()

	conn := env.dial(pollID)
	waitForSubscriberCount(t, env.registry, pollID, 1)

	require.NoError(t, conn.Close())
	waitForSubscriberCount(t, env.registry, pollID, 0)
	assert.Equal(t, 0, env.registry.PollCount())
}

func TestConnectionHandler_TextPingGetsPong(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{}, nil)
	pollID := uuid.New()
	conn := env.dial(pollID)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("hello")))
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("ping")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.TextMessage, msgType)
	assert.Equal(t, "pong", string(msg))
	assert.Equal(t, 1, env.registry.SubscriberCount(pollID))
}

func TestConnectionHandler_TwoSubscribersReceiveEveryVote(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{}, nil)
	pollID, o1, o2 := uuid.New(), uuid.New(), uuid.New()

	s1 := env.dial(pollID)
	s2 := env.dial(pollID)
	waitForSubscriberCount(t, env.registry, pollID, 2)

	first := domain.PollUpdate{PollID: pollID, OptionID: o1, VotesCount: 1, TotalVotes: 1}
	env.dispatcher.Broadcast(context.Background(), first)
	assert.Equal(t, first, readUpdate(t, s1))
	assert.Equal(t, first, readUpdate(t, s2))

	// Same user switches to O2: total stays at one.
	second := domain.PollUpdate{PollID: pollID, OptionID: o2, VotesCount: 1, TotalVotes: 1}
	env.dispatcher.Broadcast(context.Background(), second)
	assert.Equal(t, second, readUpdate(t, s1))
	assert.Equal(t, second, readUpdate(t, s2))
}

func TestConnectionHandler_DisconnectedSubscriberDroppedFromNextBroadcast(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{}, nil)
	pollID, optionID := uuid.New(), uuid.New()

	s1 := env.dial(pollID)
	s2 := env.dial(pollID)
	waitForSubscriberCount(t, env.registry, pollID, 2)

	require.NoError(t, s1.Close())
	env.dispatcher.Broadcast(context.Background(), domain.PollUpdate{PollID: pollID, OptionID: optionID, VotesCount: 1, TotalVotes: 1})
	assert.Equal(t, int64(1), readUpdate(t, s2).TotalVotes)

	waitForSubscriberCount(t, env.registry, pollID, 1)

	next := domain.PollUpdate{PollID: pollID, OptionID: optionID, VotesCount: 2, TotalVotes: 2}
	env.dispatcher.Broadcast(context.Background(), next)
	assert.Equal(t, next, readUpdate(t, s2))
	assert.Len(t, env.registry.Snapshot(pollID), 1)
}

func TestConnectionHandler_OnDisconnectIsIdempotent(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{}, nil)
	pollID := uuid.New()

	serverConn := make(chan *Conn, 1)
	upgrader := ws.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn <- env.handler.OnConnect(pollID, conn)
	}))
	t.Cleanup(server.Close)

	client, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	sub := <-serverConn
	assert.Equal(t, 1, env.registry.SubscriberCount(pollID))

	env.handler.OnDisconnect(sub)
	env.handler.OnDisconnect(sub)

	assert.Equal(t, 0, env.registry.SubscriberCount(pollID))
	assert.ErrorIs(t, sub.Send(context.Background(), []byte("x")), ErrSubscriberClosed)
}

func TestConnectionHandler_ContextCancelClosesConnection(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{}, nil)
	pollID := uuid.New()
	conn := env.dial(pollID)
	waitForSubscriberCount(t, env.registry, pollID, 1)

	env.cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseGoingAway), "unexpected error: %v", err)
	waitForSubscriberCount(t, env.registry, pollID, 0)
}

func TestConnectionHandler_IdleTimeout(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	cfg := HandlerConfig{PingInterval: 10 * time.Second, IdleTimeout: 25 * time.Second}
	env := newTestEnv(t, cfg, clock)
	pollID := uuid.New()

	conn := env.dial(pollID)
	waitForSubscriberCount(t, env.registry, pollID, 1)

	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "unexpected error: %v", err)
	waitForSubscriberCount(t, env.registry, pollID, 0)
}

func TestConnectionHandler_PingSentOnTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	cfg := HandlerConfig{PingInterval: 10 * time.Second, IdleTimeout: time.Minute}
	env := newTestEnv(t, cfg, clock)
	pollID := uuid.New()

	conn := env.dial(pollID)
	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitForSubscriberCount(t, env.registry, pollID, 1)
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a ping control frame")
	}
	assert.Equal(t, 1, env.registry.SubscriberCount(pollID))
}
