package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/google/uuid"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "livepoll:poll:"
	channelPattern = channelPrefix + "*"

	breakerComponent = "redis_relay"
)

var ErrRelayClosed = errors.New("relay closed")

// Broadcaster delivers an update to this instance's subscribers. The relay
// calls it from a single goroutine, so it should return without waiting for
// delivery; broadcast.Sequencer does.
type Broadcaster interface {
	Broadcast(ctx context.Context, update domain.PollUpdate)
}

func pollChannel(pollID uuid.UUID) string {
	return channelPrefix + pollID.String()
}

// Relay is a domain.Publisher that routes updates through Redis Pub/Sub so
// every instance, the publishing one included, broadcasts each update once.
type Relay struct {
	rdb         *goredis.Client
	dispatcher  Broadcaster
	fallback    domain.Publisher
	breaker     circuitbreaker.CircuitBreaker[any]
	publishWait time.Duration

	mu     sync.Mutex
	sub    *goredis.PubSub
	done   chan struct{}
	closed bool
}

var _ domain.Publisher = (*Relay)(nil)

// NewRelay builds a relay. fallback receives updates whenever Redis cannot;
// it is normally a broadcast.LocalFanout over the same Sequencer, which keeps
// relayed and fallback updates for a poll in one queue.
//
// Breaker settings:
//   - 60% failure rate over at least 5 publishes in a 10s window opens the circuit
//   - 30s before a half-open trial publish
//   - 1 successful trial closes it again
func NewRelay(rdb *goredis.Client, dispatcher Broadcaster, fallback domain.Publisher) *Relay {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", breakerComponent,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues(breakerComponent, e.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(breakerComponent).Set(stateToFloat(e.NewState))
		}).
		Build()
	metrics.CircuitBreakerState.WithLabelValues(breakerComponent).Set(stateToFloat(circuitbreaker.ClosedState))

	return &Relay{
		rdb:         rdb,
		dispatcher:  dispatcher,
		fallback:    fallback,
		breaker:     cb,
		publishWait: 500 * time.Millisecond,
	}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// State reports the publish circuit breaker state.
func (r *Relay) State() circuitbreaker.State {
	return r.breaker.State()
}

// Publish sends update to the poll's channel. When the breaker is open or the
// publish fails, the update goes to the fallback instead.
func (r *Relay) Publish(ctx context.Context, update domain.PollUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	if !r.breaker.TryAcquirePermit() {
		metrics.RelayMessagesTotal.WithLabelValues("published", "rejected").Inc()
		return r.publishLocally(ctx, update, circuitbreaker.ErrOpen)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishWait)
	defer cancel()

	if err := r.rdb.Publish(pubCtx, pollChannel(update.PollID), payload).Err(); err != nil {
		r.breaker.RecordError(err)
		metrics.RelayMessagesTotal.WithLabelValues("published", "error").Inc()
		return r.publishLocally(ctx, update, err)
	}

	r.breaker.RecordSuccess()
	metrics.RelayMessagesTotal.WithLabelValues("published", "success").Inc()
	return nil
}

func (r *Relay) publishLocally(ctx context.Context, update domain.PollUpdate, cause error) error {
	slog.WarnContext(ctx, "Relay unavailable, broadcasting locally",
		"poll_id", update.PollID,
		"error", cause)
	metrics.RelayFallbacks.Inc()
	return r.fallback.Publish(ctx, update)
}

// Listen pattern-subscribes to every poll channel and, once Redis has confirmed
// the subscription, forwards received updates to the dispatcher in the
// background until ctx is cancelled or Close is called.
func (r *Relay) Listen(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRelayClosed
	}
	if r.sub != nil {
		return errors.New("relay already listening")
	}

	sub := r.rdb.PSubscribe(ctx, channelPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channelPattern, err)
	}

	r.sub = sub
	r.done = make(chan struct{})
	go r.forward(ctx, sub.Channel(), r.done)

	slog.Info("Relay listening", "pattern", channelPattern)
	return nil
}

func (r *Relay) forward(ctx context.Context, messages <-chan *goredis.Message, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.handleMessage(ctx, msg)
		}
	}
}

func (r *Relay) handleMessage(ctx context.Context, msg *goredis.Message) {
	var update domain.PollUpdate
	if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("received", "invalid").Inc()
		slog.Warn("Dropping malformed relay message", "channel", msg.Channel, "error", err)
		return
	}

	if channelID := strings.TrimPrefix(msg.Channel, channelPrefix); channelID != update.PollID.String() {
		metrics.RelayMessagesTotal.WithLabelValues("received", "invalid").Inc()
		slog.Warn("Dropping relay message for mismatched channel",
			"channel", msg.Channel,
			"poll_id", update.PollID)
		return
	}

	metrics.RelayMessagesTotal.WithLabelValues("received", "success").Inc()
	metrics.BroadcastsTotal.WithLabelValues("relay").Inc()
	r.dispatcher.Broadcast(ctx, update)
}

// Close stops listening and waits for the forwarding goroutine to exit.
// It does not close the Redis client.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub, done := r.sub, r.done
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}
