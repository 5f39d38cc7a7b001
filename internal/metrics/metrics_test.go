package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		RegistryPolls,
		RegistrySubscribers,
		BroadcastsTotal,
		BroadcastDeliveries,
		DeliveryFailures,
		BroadcastDuration,
		BroadcastFanout,

		WebSocketConnectionsCurrent,
		WebSocketConnectionsTotal,
		WebSocketConnectionsRejected,
		WebSocketConnectionDuration,
		WebSocketPingFailures,
		WebSocketIdleDisconnects,

		VotesTotal,
		VoteDuration,
		VoteConflictRetries,
		VotePublishFailures,
		ResultsLoads,
		AuthAttempts,

		RelayMessagesTotal,
		RelayFallbacks,
		RedisOpsTotal,
		RedisOpDuration,
		RedisConnectionErrors,
		CircuitBreakerStateChanges,
		CircuitBreakerState,

		DBQueryDuration,
		DBErrorsTotal,
		DBConnectionsCurrent,

		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPErrorsTotal,
	}

	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 4)
		c.Describe(desc)
		close(desc)
		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterVecMetrics(t *testing.T) {
	tests := []struct {
		name   string
		metric *prometheus.CounterVec
		labels prometheus.Labels
		incBy  int
	}{
		{"votes by result", VotesTotal, prometheus.Labels{"result": "created"}, 3},
		{"delivery failures by reason", DeliveryFailures, prometheus.Labels{"reason": "timeout"}, 2},
		{"relay messages", RelayMessagesTotal, prometheus.Labels{"direction": "published", "status": "success"}, 4},
		{"redis operations", RedisOpsTotal, prometheus.Labels{"operation": "publish", "status": "success"}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.metric.Reset()
			for range tt.incBy {
				tt.metric.With(tt.labels).Inc()
			}
			assert.Equal(t, float64(tt.incBy), testutil.ToFloat64(tt.metric.With(tt.labels)))
		})
	}
}

func TestGaugeMetrics(t *testing.T) {
	tests := []struct {
		name   string
		metric prometheus.Gauge
		value  float64
	}{
		{"registry polls", RegistryPolls, 12},
		{"registry subscribers", RegistrySubscribers, 150},
		{"websocket connections current", WebSocketConnectionsCurrent, 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.metric.Set(tt.value)
			assert.Equal(t, tt.value, testutil.ToFloat64(tt.metric))
		})
	}
}

func TestHistogramMetrics(t *testing.T) {
	for _, obs := range []float64{0.001, 0.01, 0.1} {
		BroadcastDuration.Observe(obs)
		VoteDuration.Observe(obs)
	}

	assert.Positive(t, testutil.CollectAndCount(BroadcastDuration))
	assert.Positive(t, testutil.CollectAndCount(VoteDuration))
}

func TestMetricNamesAreNamespaced(t *testing.T) {
	collectors := []prometheus.Collector{
		RegistryPolls, BroadcastsTotal, VotesTotal, RelayFallbacks, WebSocketPingFailures,
	}
	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		c.Describe(desc)
		close(desc)
		assert.True(t, strings.Contains((<-desc).String(), `fqName: "livepoll_`))
	}
}
