package metrics_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordRefresh(metrics.ResultSuccess, 120*time.Millisecond)
	c.RecordRefresh(metrics.ResultSuccess, 80*time.Millisecond)
	c.RecordRefresh(metrics.ResultFailure, time.Second)
	c.RecordQueuedWaiter()
	c.RecordQueuedWaiter()
	c.RecordQueuedWaiter()
	c.RecordForcedLogout()

	families, err := reg.Gather()
	require.NoError(t, err)

	counters := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "/" + l.GetValue()
			}
			counters[key] = m.GetCounter().GetValue()
		}
	}

	require.Equal(t, 2.0, counters["authclient_refresh_total/success"])
	require.Equal(t, 1.0, counters["authclient_refresh_total/failure"])
	require.Equal(t, 3.0, counters["authclient_refresh_queued_waiters_total"])
	require.Equal(t, 1.0, counters["authclient_forced_logouts_total"])
	n, err := testutil.GatherAndCount(reg, "authclient_refresh_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCollectorDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)
	require.Panics(t, func() { metrics.NewCollector(reg) })
}
