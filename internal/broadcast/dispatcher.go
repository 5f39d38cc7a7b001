package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
)

const DefaultSendTimeout = 2 * time.Second

// Dispatcher delivers poll updates to every subscriber registered for the poll.
type Dispatcher struct {
	registry    *Registry
	sendTimeout time.Duration
	clock       clockwork.Clock
}

func NewDispatcher(registry *Registry, sendTimeout time.Duration, clock clockwork.Clock) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{registry: registry, sendTimeout: sendTimeout, clock: clock}
}

// Broadcast pushes update to a snapshot of the poll's subscribers and waits
// until each send has finished or timed out. Failed subscribers are
// unsubscribed and closed; delivery errors never reach the caller.
func (d *Dispatcher) Broadcast(ctx context.Context, update domain.PollUpdate) {
	subs := d.registry.Snapshot(update.PollID)
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(update)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode poll update", "poll_id", update.PollID, "error", err)
		return
	}

	start := d.clock.Now()
	// Delivery must outlive the request that triggered it.
	ctx = context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			d.deliver(ctx, update, sub, payload)
		}(sub)
	}
	wg.Wait()

	metrics.BroadcastDuration.Observe(d.clock.Since(start).Seconds())
	metrics.BroadcastFanout.Observe(float64(len(subs)))
}

func (d *Dispatcher) deliver(ctx context.Context, update domain.PollUpdate, sub Subscriber, payload []byte) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := sub.Send(sendCtx, payload)
	if err == nil {
		metrics.BroadcastDeliveries.WithLabelValues("delivered").Inc()
		return
	}

	reason := failureReason(err)
	metrics.BroadcastDeliveries.WithLabelValues("failed").Inc()
	metrics.DeliveryFailures.WithLabelValues(reason).Inc()
	slog.DebugContext(ctx, "Pruning subscriber after failed delivery",
		"poll_id", update.PollID, "subscriber_id", sub.ID(), "reason", reason, "error", err)

	d.registry.Unsubscribe(update.PollID, sub)
	_ = sub.Close()
}

func failureReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, ErrSubscriberClosed), errors.Is(err, net.ErrClosed), errors.Is(err, websocket.ErrCloseSent):
		return "closed"
	default:
		return "error"
	}
}
