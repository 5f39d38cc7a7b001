package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
)

const DefaultSequencerBacklog = 256

// Broadcaster delivers one update and returns once delivery has finished.
// *Dispatcher implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, update domain.PollUpdate)
}

// Sequencer queues updates per poll and hands them to its target from one
// worker per poll. Updates for a poll are delivered in the order they were
// queued; a slow poll never delays another. Broadcast returns immediately.
//
// A worker exists only while its poll has queued updates.
type Sequencer struct {
	target  Broadcaster
	backlog int

	mu     sync.Mutex
	queues map[uuid.UUID]*pollQueue
	closed bool
	wg     sync.WaitGroup
}

type pollQueue struct {
	pending []queuedUpdate
}

type queuedUpdate struct {
	ctx    context.Context
	update domain.PollUpdate
}

var _ Broadcaster = (*Sequencer)(nil)

// NewSequencer wraps target. backlog caps the queue of a single poll; once
// full, the oldest queued update is dropped.
func NewSequencer(target Broadcaster, backlog int) *Sequencer {
	if backlog <= 0 {
		backlog = DefaultSequencerBacklog
	}
	return &Sequencer{
		target:  target,
		backlog: backlog,
		queues:  make(map[uuid.UUID]*pollQueue),
	}
}

func (s *Sequencer) Broadcast(ctx context.Context, update domain.PollUpdate) {
	// Delivery must outlive the request that triggered it.
	item := queuedUpdate{ctx: context.WithoutCancel(ctx), update: update}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		slog.DebugContext(ctx, "Dropping poll update after shutdown", "poll_id", update.PollID)
		return
	}

	if q, ok := s.queues[update.PollID]; ok {
		if len(q.pending) >= s.backlog {
			q.pending[0] = queuedUpdate{}
			q.pending = q.pending[1:]
			metrics.BroadcastsDropped.Inc()
			slog.WarnContext(ctx, "Broadcast backlog full, dropping oldest update", "poll_id", update.PollID, "backlog", s.backlog)
		}
		q.pending = append(q.pending, item)
		return
	}

	q := &pollQueue{pending: []queuedUpdate{item}}
	s.queues[update.PollID] = q
	s.wg.Add(1)
	go s.drain(update.PollID, q)
}

func (s *Sequencer) drain(pollID uuid.UUID, q *pollQueue) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(q.pending) == 0 {
			delete(s.queues, pollID)
			s.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending[0] = queuedUpdate{}
		q.pending = q.pending[1:]
		s.mu.Unlock()

		s.target.Broadcast(item.ctx, item.update)
	}
}

// Close stops accepting updates and waits until queued ones are delivered
// or ctx is done.
func (s *Sequencer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
