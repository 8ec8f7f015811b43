package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestConnectedClientsTracksPerEndpoint(t *testing.T) {
	ConnectedClients.WithLabelValues("test-endpoint").Set(0)
	ConnectedClients.WithLabelValues("test-endpoint").Inc()
	ConnectedClients.WithLabelValues("test-endpoint").Inc()
	require.Equal(t, float64(2), testutil.ToFloat64(ConnectedClients.WithLabelValues("test-endpoint")))
}

func TestTimerObservesDurationVec(t *testing.T) {
	timer := NewTimer()
	timer.ObserveDurationVec(FanoutLatency, "test-endpoint")
	count := testutil.CollectAndCount(FanoutLatency)
	require.GreaterOrEqual(t, count, 1)
}
