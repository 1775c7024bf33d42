// Package metrics exposes Prometheus collectors for the session refresh lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh results recorded by RecordRefresh.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
)

// RefreshRecorder is the subset of metrics the refresh coordinator reports.
type RefreshRecorder interface {
	RecordRefresh(result string, duration time.Duration)
	RecordQueuedWaiter()
	RecordForcedLogout()
}

// Collector is the Prometheus-backed RefreshRecorder.
type Collector struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	queuedWaiters   prometheus.Counter
	forcedLogouts   prometheus.Counter
}

var _ RefreshRecorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authclient_refresh_total",
			Help: "Token refresh cycles by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authclient_refresh_duration_seconds",
			Help:    "Duration of token refresh network calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		queuedWaiters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authclient_refresh_queued_waiters_total",
			Help: "Requests that waited on an in-flight refresh instead of starting one.",
		}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authclient_forced_logouts_total",
			Help: "Forced logout events emitted after an unrecoverable refresh failure.",
		}),
	}
	reg.MustRegister(c.refreshTotal, c.refreshDuration, c.queuedWaiters, c.forcedLogouts)
	return c
}

func (c *Collector) RecordRefresh(result string, duration time.Duration) {
	c.refreshTotal.WithLabelValues(result).Inc()
	c.refreshDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordQueuedWaiter() {
	c.queuedWaiters.Inc()
}

func (c *Collector) RecordForcedLogout() {
	c.forcedLogouts.Inc()
}

// Noop discards every measurement.
type Noop struct{}

var _ RefreshRecorder = Noop{}

func (Noop) RecordRefresh(string, time.Duration) {}
func (Noop) RecordQueuedWaiter()                 {}
func (Noop) RecordForcedLogout()                 {}
