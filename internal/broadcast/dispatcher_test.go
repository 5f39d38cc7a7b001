package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(sendTimeout time.Duration) (*Dispatcher, *Registry) {
	registry := NewRegistry()
	return NewDispatcher(registry, sendTimeout, clockwork.NewRealClock()), registry
}

func decodeUpdate(t *testing.T, payload []byte) domain.PollUpdate {
	t.Helper()
	var u domain.PollUpdate
	require.NoError(t, json.Unmarshal(payload, &u))
	return u
}

func TestDispatcher_DeliversToEverySubscriber(t *testing.T) {
	d, registry := newTestDispatcher(time.Second)
	pollID, optionID := uuid.New(), uuid.New()
	s1, s2 := newFakeSubscriber(), newFakeSubscriber()
	registry.Subscribe(pollID, s1)
	registry.Subscribe(pollID, s2)

	update := domain.PollUpdate{PollID: pollID, OptionID: optionID, VotesCount: 1, TotalVotes: 1}
	d.Broadcast(context.Background(), update)

	for _, s := range []*fakeSubscriber{s1, s2} {
		msgs := s.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, update, decodeUpdate(t, msgs[0]))
	}
}

func TestDispatcher_PayloadShape(t *testing.T) {
	d, registry := newTestDispatcher(time.Second)
	pollID, optionID := uuid.New(), uuid.New()
	sub := newFakeSubscriber()
	registry.Subscribe(pollID, sub)

	d.Broadcast(context.Background(), domain.PollUpdate{PollID: pollID, OptionID: optionID, VotesCount: 3, TotalVotes: 7})

	var raw map[string]any
	require.NoError(t, json.Unmarshal(sub.messages()[0], &raw))
	assert.Equal(t, map[string]any{
		"poll_id":     pollID.String(),
		"option_id":   optionID.String(),
		"votes_count": float64(3),
		"total_votes": float64(7),
	}, raw)
}

func TestDispatcher_NoSubscribersIsNoop(t *testing.T) {
	d, registry := newTestDispatcher(time.Second)
	pollID := uuid.New()

	assert.NotPanics(t, func() {
		d.Broadcast(context.Background(), domain.PollUpdate{PollID: pollID})
	})
	assert.Equal(t, 0, registry.PollCount())
}

func TestDispatcher_FailedSubscriberIsPrunedOthersStillDelivered(t *testing.T) {
	d, registry := newTestDispatcher(time.Second)
	pollID := uuid.New()

	failing := newFakeSubscriber()
	failing.sendFn = func(context.Context, []byte) error { return ErrSubscriberClosed }
	healthy := newFakeSubscriber()
	registry.Subscribe(pollID, failing)
	registry.Subscribe(pollID, healthy)

	before := testutil.ToFloat64(metrics.DeliveryFailures.WithLabelValues("closed"))
	d.Broadcast(context.Background(), domain.PollUpdate{PollID: pollID, TotalVotes: 1})

	assert.Len(t, healthy.messages(), 1)
	assert.Equal(t, int32(1), failing.closes.Load())
	assert.Equal(t, []Subscriber{healthy}, registry.Snapshot(pollID))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DeliveryFailures.WithLabelValues("closed")))

	// The next broadcast no longer reaches the pruned subscriber.
	d.Broadcast(context.Background(), domain.PollUpdate{PollID: pollID, TotalVotes: 2})
	assert.Len(t, healthy.messages(), 2)
	assert.Empty(t, failing.messages())
}

func TestDispatcher_SlowSubscriberTimesOut(t *testing.T) {
	d, registry := newTestDispatcher(20 * time.Millisecond)
	pollID := uuid.New()

	slow := newFakeSubscriber()
	slow.sendFn = func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}
	fast := newFakeSubscriber()
	registry.Subscribe(pollID, slow)
	registry.Subscribe(pollID, fast)

	before := testutil.ToFloat64(metrics.DeliveryFailures.WithLabelValues("timeout"))
	start := time.Now()
	d.Broadcast(context.Background(), domain.PollUpdate{PollID: pollID})

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, fast.messages(), 1)
	assert.Equal(t, 1, registry.SubscriberCount(pollID))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DeliveryFailures.WithLabelValues("timeout")))
}

func TestDispatcher_CancelledCallerContextDoesNotPrune(t *testing.T) {
	d, registry := newTestDispatcher(time.Second)
	pollID := uuid.New()
	sub := newFakeSubscriber()
	sub.sendFn = func(ctx context.Context, _ []byte) error { return ctx.Err() }
	registry.Subscribe(pollID, sub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Broadcast(ctx, domain.PollUpdate{PollID: pollID})

	assert.Len(t, sub.messages(), 1)
	assert.Equal(t, 1, registry.SubscriberCount(pollID))
}

func TestDispatcher_OnlyTargetPollReceives(t *testing.T) {
	d, registry := newTestDispatcher(time.Second)
	p1, p2 := uuid.New(), uuid.New()
	s1, s2 := newFakeSubscriber(), newFakeSubscriber()
	registry.Subscribe(p1, s1)
	registry.Subscribe(p2, s2)

	d.Broadcast(context.Background(), domain.PollUpdate{PollID: p1})

	assert.Len(t, s1.messages(), 1)
	assert.Empty(t, s2.messages())
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "timeout", failureReason(context.DeadlineExceeded))
	assert.Equal(t, "closed", failureReason(ErrSubscriberClosed))
	assert.Equal(t, "error", failureReason(errors.New("boom")))
}

func TestLocalFanout_PublishBroadcasts(t *testing.T) {
	d, registry := newTestDispatcher(time.Second)
	pollID := uuid.New()
	sub := newFakeSubscriber()
	registry.Subscribe(pollID, sub)

	before := testutil.ToFloat64(metrics.BroadcastsTotal.WithLabelValues("local"))
	err := NewLocalFanout(d).Publish(context.Background(), domain.PollUpdate{PollID: pollID, TotalVotes: 4})

	require.NoError(t, err)
	require.Len(t, sub.messages(), 1)
	assert.Equal(t, int64(4), decodeUpdate(t, sub.messages()[0]).TotalVotes)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.BroadcastsTotal.WithLabelValues("local")))
}

func TestLocalFanout_PublishDoesNotWaitForDelivery(t *testing.T) {
	d, registry := newTestDispatcher(5 * time.Second)
	pollID := uuid.New()
	release := make(chan struct{})
	sub := newFakeSubscriber()
	sub.sendFn = func(context.Context, []byte) error {
		<-release
		return nil
	}
	registry.Subscribe(pollID, sub)
	seq := NewSequencer(d, 0)

	start := time.Now()
	require.NoError(t, NewLocalFanout(seq).Publish(context.Background(), domain.PollUpdate{PollID: pollID, TotalVotes: 1}))
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, seq.Close(ctx))
	assert.Len(t, sub.messages(), 1)
}
