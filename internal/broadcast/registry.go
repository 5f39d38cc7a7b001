package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/livepoll/internal/metrics"
)

// Subscriber is a live connection that can receive encoded poll updates.
type Subscriber interface {
	ID() uuid.UUID
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Registry maps poll ids to their live subscribers. Entries are created on
// first subscribe and removed when the last subscriber leaves.
type Registry struct {
	mu          sync.Mutex
	polls       map[uuid.UUID]map[uuid.UUID]Subscriber
	subscribers int
}

func NewRegistry() *Registry {
	return &Registry{polls: make(map[uuid.UUID]map[uuid.UUID]Subscriber)}
}

// Subscribe adds sub under pollID. Subscribing the same subscriber twice is a no-op.
func (r *Registry) Subscribe(pollID uuid.UUID, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.polls[pollID]
	if !ok {
		subs = make(map[uuid.UUID]Subscriber)
		r.polls[pollID] = subs
	}
	if _, exists := subs[sub.ID()]; exists {
		return
	}
	subs[sub.ID()] = sub
	r.subscribers++
	r.updateGauges()
}

// Unsubscribe removes sub from pollID. Absent polls or subscribers are ignored.
func (r *Registry) Unsubscribe(pollID uuid.UUID, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.polls[pollID]
	if !ok {
		return
	}
	if _, exists := subs[sub.ID()]; !exists {
		return
	}
	delete(subs, sub.ID())
	r.subscribers--
	if len(subs) == 0 {
		delete(r.polls, pollID)
	}
	r.updateGauges()
}

// Snapshot returns a copy of pollID's subscribers, safe to iterate without the lock.
func (r *Registry) Snapshot(pollID uuid.UUID) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.polls[pollID]
	out := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

func (r *Registry) SubscriberCount(pollID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.polls[pollID])
}

func (r *Registry) PollCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.polls)
}

func (r *Registry) TotalSubscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribers
}

// must hold r.mu
func (r *Registry) updateGauges() {
	metrics.RegistryPolls.Set(float64(len(r.polls)))
	metrics.RegistrySubscribers.Set(float64(r.subscribers))
}
