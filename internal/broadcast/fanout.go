package broadcast

import (
	"context"

	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
)

// LocalFanout publishes updates to this process's subscribers only. It is
// normally built over a Sequencer so Publish does not wait for delivery.
type LocalFanout struct {
	target Broadcaster
}

var _ domain.Publisher = (*LocalFanout)(nil)

func NewLocalFanout(target Broadcaster) *LocalFanout {
	return &LocalFanout{target: target}
}

func (f *LocalFanout) Publish(ctx context.Context, update domain.PollUpdate) error {
	metrics.BroadcastsTotal.WithLabelValues("local").Inc()
	f.target.Broadcast(ctx, update)
	return nil
}
