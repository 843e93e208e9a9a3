// Package timeseries stores the append-only health check log and serves the
// hourly and daily rollups used by uptime charts.
package timeseries

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"nexus/internal/config"
	"nexus/internal/models"
)

// ErrUnavailable marks a backend that could not be reached at startup.
var ErrUnavailable = errors.New("time-series backend unavailable")

// Sink is a time-series backend.
type Sink interface {
	AppendEntry(ctx context.Context, entry models.HealthCheckEntry) error
	QueryHistory(ctx context.Context, serviceID string) (models.UptimeHistory, error)
	Close() error
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.TimeSeries, dataDir string) (Sink, error) {
	switch cfg.Driver {
	case config.TimeSeriesNone:
		return Noop{}, nil
	case config.TimeSeriesFile:
		return NewFileSink(filepath.Join(dataDir, "health_checks.json"), cfg.Retention())
	case config.TimeSeriesRedis:
		return NewRedisSink(ctx, cfg.Redis, cfg.Retention())
	case config.TimeSeriesClickHouse:
		return NewClickHouseSink(ctx, cfg.ClickHouse, 10, 2*time.Second)
	default:
		return nil, errors.Errorf("unknown timeseries driver %q", cfg.Driver)
	}
}

// Noop discards entries. It stands in when no backend is configured.
type Noop struct{}

func (Noop) AppendEntry(context.Context, models.HealthCheckEntry) error { return nil }

func (Noop) QueryHistory(_ context.Context, serviceID string) (models.UptimeHistory, error) {
	return models.UptimeHistory{
		ServiceID: serviceID,
		Hourly:    []models.HealthPoint{},
		Daily:     []models.HealthPoint{},
	}, nil
}

func (Noop) Close() error { return nil }
