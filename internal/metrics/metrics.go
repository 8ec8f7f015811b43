// Package metrics holds the process's Prometheus registrations: connected
// client counts per endpoint, fan-out latency, and invite GC sweep counts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sidecar_connected_clients",
			Help: "Current live WebSocket connections by endpoint",
		},
		[]string{"endpoint"},
	)

	FanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidecar_fanout_total",
			Help: "Total number of frames fanned out by endpoint and frame type",
		},
		[]string{"endpoint", "type"},
	)

	FanoutLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sidecar_fanout_latency_seconds",
			Help:    "Time taken to fan a frame out to all subscribers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	InviteSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidecar_invite_sweeps_total",
			Help: "Total number of invite GC sweeps run, by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	InvitesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidecar_invites_deleted_total",
			Help: "Total number of invites deleted by GC, by tier",
		},
		[]string{"tier"},
	)

	UpdatesAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sidecar_crdt_updates_applied_total",
			Help: "Total number of CRDT update frames persisted and fanned out",
		},
	)
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(FanoutTotal)
	prometheus.MustRegister(FanoutLatency)
	prometheus.MustRegister(InviteSweepsTotal)
	prometheus.MustRegister(InvitesDeletedTotal)
	prometheus.MustRegister(UpdatesAppliedTotal)
}

// Handler returns the HTTP handler serving the process's metrics in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an in-flight operation's duration for later recording
// against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
