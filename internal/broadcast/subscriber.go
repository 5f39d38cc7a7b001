package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// ErrSubscriberClosed is returned by Send once the connection has been closed.
var ErrSubscriberClosed = errors.New("subscriber closed")

const controlWriteTimeout = time.Second

// Conn is a WebSocket subscriber bound to one poll. Data frames are written
// under writeMu; control frames go through WriteControl, which gorilla allows
// concurrently with one other writer.
type Conn struct {
	id     uuid.UUID
	pollID uuid.UUID
	conn   *websocket.Conn
	clock  clockwork.Clock

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce  sync.Once
	closed     chan struct{}
	detachOnce sync.Once

	activityMu   sync.Mutex
	lastActivity time.Time
}

func newConn(pollID uuid.UUID, conn *websocket.Conn, clock clockwork.Clock, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           uuid.New(),
		pollID:       pollID,
		conn:         conn,
		clock:        clock,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
		lastActivity: clock.Now(),
	}
}

func (c *Conn) ID() uuid.UUID     { return c.id }
func (c *Conn) PollID() uuid.UUID { return c.pollID }

// Done is closed once the connection has been closed by either side.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Send writes one text frame. The write deadline is the earlier of ctx's
// deadline and the connection's own write timeout.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return ErrSubscriberClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := c.clock.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if c.isClosed() {
			return ErrSubscriberClosed
		}
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Conn) ping() error {
	deadline := c.clock.Now().Add(controlWriteTimeout)
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// closeWithReason sends a close frame before closing.
func (c *Conn) closeWithReason(code int, reason string) {
	if !c.isClosed() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, c.clock.Now().Add(controlWriteTimeout))
	}
	_ = c.Close()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) recordActivity() {
	c.activityMu.Lock()
	defer c.activityMu.Unlock()
	c.lastActivity = c.clock.Now()
}

func (c *Conn) idleFor() time.Duration {
	c.activityMu.Lock()
	defer c.activityMu.Unlock()
	return c.clock.Since(c.lastActivity)
}
