package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/models"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveProbe(models.StatusOnline, time.Second)
		m.SetQueueSize(3)
		m.AddDropped(2)
		m.IncCycle("ok")
		m.IncWriteFailure("status")
	})
}

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveProbe(models.StatusOnline, 50*time.Millisecond)
	m.ObserveProbe(models.StatusOffline, 10*time.Second)
	m.ObserveProbe(models.StatusOffline, time.Second)
	m.SetQueueSize(7)
	m.AddDropped(20)
	m.AddDropped(0)
	m.IncWriteFailure("timeseries")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("online")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.probes.WithLabelValues("offline")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueSize))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.jobsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeFailures.WithLabelValues("timeseries")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestComputeServiceUptime(t *testing.T) {
	history := models.UptimeHistory{
		ServiceID: "svc1",
		Hourly: []models.HealthPoint{
			{UpCount: 11, DownCount: 1, AvgLatency: 40},
		},
		Daily: []models.HealthPoint{
			{UpCount: 90, DownCount: 10, AvgLatency: 100},
			{UpCount: 100, DownCount: 0, AvgLatency: 50},
		},
	}

	summary := ComputeServiceUptime(history)
	assert.Equal(t, "svc1", summary.ID)
	assert.Equal(t, 91.67, summary.UptimePercent24h)
	assert.Equal(t, 95.0, summary.UptimePercent30d)
	assert.Equal(t, uint64(200), summary.TotalChecks)
	assert.Equal(t, uint64(190), summary.Passing)
	assert.Equal(t, uint64(10), summary.Failing)
	assert.Equal(t, 75.0, summary.AvgLatencyMs)
}

func TestComputeServiceUptime_Empty(t *testing.T) {
	summary := ComputeServiceUptime(models.UptimeHistory{ServiceID: "x"})
	assert.Zero(t, summary.TotalChecks)
	assert.Zero(t, summary.UptimePercent24h)
	assert.Zero(t, summary.AvgLatencyMs)
}
