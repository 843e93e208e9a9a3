package health

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"nexus/internal/metrics"
	"nexus/internal/models"
	"nexus/internal/probe"
)

// recordTimeout bounds each storage write made for a probe result.
const recordTimeout = 30 * time.Second

// EntitySource lists the services the scheduler should probe.
type EntitySource interface {
	ListMonitoredEntities(ctx context.Context) ([]models.Service, error)
}

// StatusWriter overwrites the latest-status record of a service.
type StatusWriter interface {
	SetLatestStatus(ctx context.Context, id string, status models.HealthStatus, observedAt time.Time) error
}

// TimeSeriesWriter appends to the health check log.
type TimeSeriesWriter interface {
	AppendEntry(ctx context.Context, entry models.HealthCheckEntry) error
}

// Recorder writes each probe result to both destinations.
type Recorder struct {
	status     StatusWriter
	timeSeries TimeSeriesWriter
	metrics    *metrics.Metrics
}

// NewRecorder creates a recorder. timeSeries may be nil when no backend is
// configured.
func NewRecorder(status StatusWriter, timeSeries TimeSeriesWriter, m *metrics.Metrics) *Recorder {
	return &Recorder{status: status, timeSeries: timeSeries, metrics: m}
}

// Record stores result for job. The latest status is written first; the
// time-series append is attempted regardless of its outcome and its own
// failure is only logged. Both writes finish before Record returns.
func (r *Recorder) Record(ctx context.Context, job Job, result probe.Result) {
	status := result.Outcome.Status()
	latency := result.Outcome.Latency()
	logger := log.WithFields(log.Fields{
		"service_id": job.ServiceID,
		"status":     status,
		"latency_ms": result.LatencyMs(),
	})

	switch outcome := result.Outcome.(type) {
	case probe.Reachable:
		logger.Debugf("Service responded with %d", outcome.StatusCode)
	case probe.Unreachable:
		if outcome.TimedOut() {
			logger.Infof("Service timed out after %s", latency.Round(time.Millisecond))
		} else {
			logger.WithError(outcome.Err).Info("Service check failed")
		}
	}
	r.metrics.ObserveProbe(status, latency)

	statusCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	err := r.status.SetLatestStatus(statusCtx, job.ServiceID, status, result.ObservedAt)
	cancel()
	if err != nil {
		r.metrics.IncWriteFailure("status")
		logger.WithError(err).Error("Failed to update service health")
	}

	if r.timeSeries == nil {
		return
	}
	tsCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	err = r.timeSeries.AppendEntry(tsCtx, models.HealthCheckEntry{
		ServiceID: job.ServiceID,
		URL:       job.URL,
		Status:    status,
		LatencyMs: result.LatencyMs(),
		Timestamp: result.ObservedAt,
	})
	cancel()
	if err != nil {
		r.metrics.IncWriteFailure("timeseries")
		logger.WithError(err).Warn("Failed to log health check to time-series store")
	}
}
