package timeseries

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"nexus/internal/config"
	"nexus/internal/models"
)

// ClickHouseSink writes raw checks into a MergeTree table. Hourly and daily
// rollups are maintained by materialized views into SummingMergeTree tables,
// so reads sum partially merged rows.
type ClickHouseSink struct {
	conn driver.Conn
}

var _ Sink = (*ClickHouseSink)(nil)

// NewClickHouseSink connects, creates the database and tables, and returns
// a ready sink. ClickHouse is often still starting when the backend boots,
// so connection attempts are retried.
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouse, attempts uint, delay time.Duration) (*ClickHouseSink, error) {
	bootstrap, err := openClickHouse(ctx, cfg, "default", attempts, delay)
	if err != nil {
		return nil, err
	}
	err = bootstrap.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
	_ = bootstrap.Close()
	if err != nil {
		return nil, errors.Wrap(err, "create clickhouse database")
	}

	conn, err := openClickHouse(ctx, cfg, cfg.Database, 1, 0)
	if err != nil {
		return nil, err
	}
	sink := &ClickHouseSink{conn: conn}
	if err := sink.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.WithField("database", cfg.Database).Info("ClickHouse initialized")
	return sink, nil
}

func openClickHouse(ctx context.Context, cfg config.ClickHouse, database string, attempts uint, delay time.Duration) (driver.Conn, error) {
	var conn driver.Conn
	err := retry.Do(
		func() error {
			c, err := clickhouse.Open(&clickhouse.Options{
				Addr: []string{cfg.Address},
				Auth: clickhouse.Auth{
					Database: database,
					Username: cfg.Username,
					Password: cfg.Password,
				},
				Settings: clickhouse.Settings{
					"max_execution_time": 60,
				},
				DialTimeout: 5 * time.Second,
			})
			if err != nil {
				return err
			}
			if err := c.Ping(ctx); err != nil {
				_ = c.Close()
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Failed to connect to ClickHouse (attempt %d/%d)", n+1, attempts)
		}),
	)
	if err != nil {
		return nil, errors.WithMessagef(ErrUnavailable, "connect to clickhouse at %s: %v", cfg.Address, err)
	}
	return conn, nil
}

var clickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS health_checks (
		service_id String,
		url String,
		status String,
		latency_ms Int64,
		timestamp DateTime64(3)
	) ENGINE = MergeTree()
	ORDER BY (service_id, timestamp)
	TTL toDateTime(timestamp) + INTERVAL 30 DAY`,

	`CREATE TABLE IF NOT EXISTS health_history_hourly (
		service_id String,
		hour DateTime,
		up_count UInt64,
		down_count UInt64,
		latency_sum Float64
	) ENGINE = SummingMergeTree()
	ORDER BY (service_id, hour)
	TTL hour + INTERVAL 25 HOUR`,

	`CREATE MATERIALIZED VIEW IF NOT EXISTS health_hourly_mv
	TO health_history_hourly
	AS SELECT
		service_id,
		toStartOfHour(timestamp) AS hour,
		countIf(status = 'online') AS up_count,
		countIf(status = 'offline') AS down_count,
		toFloat64(sum(latency_ms)) AS latency_sum
	FROM health_checks
	GROUP BY service_id, hour`,

	`CREATE TABLE IF NOT EXISTS health_history_daily (
		service_id String,
		day Date,
		up_count UInt64,
		down_count UInt64,
		latency_sum Float64
	) ENGINE = SummingMergeTree()
	ORDER BY (service_id, day)
	TTL day + INTERVAL 31 DAY`,

	`CREATE MATERIALIZED VIEW IF NOT EXISTS health_daily_mv
	TO health_history_daily
	AS SELECT
		service_id,
		toDate(timestamp) AS day,
		countIf(status = 'online') AS up_count,
		countIf(status = 'offline') AS down_count,
		toFloat64(sum(latency_ms)) AS latency_sum
	FROM health_checks
	GROUP BY service_id, day`,
}

// EnsureSchema creates the raw table, rollup tables and materialized views.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	for _, stmt := range clickHouseSchema {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "create clickhouse tables")
		}
	}
	return nil
}

func (s *ClickHouseSink) AppendEntry(ctx context.Context, entry models.HealthCheckEntry) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO health_checks (service_id, url, status, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ServiceID, entry.URL, string(entry.Status), entry.LatencyMs, entry.Timestamp)
	return errors.Wrap(err, "insert health check")
}

func (s *ClickHouseSink) QueryHistory(ctx context.Context, serviceID string) (models.UptimeHistory, error) {
	hourly, err := s.queryPoints(ctx, `
		SELECT hour, sum(up_count) AS up, sum(down_count) AS down, sum(latency_sum) AS latency
		FROM health_history_hourly
		WHERE service_id = ? AND hour >= now() - INTERVAL 24 HOUR
		GROUP BY hour
		ORDER BY hour ASC
	`, serviceID)
	if err != nil {
		return models.UptimeHistory{}, errors.Wrap(err, "query hourly history")
	}
	daily, err := s.queryPoints(ctx, `
		SELECT toDateTime(day) AS day_start, sum(up_count) AS up, sum(down_count) AS down, sum(latency_sum) AS latency
		FROM health_history_daily
		WHERE service_id = ? AND day >= today() - 30
		GROUP BY day
		ORDER BY day ASC
	`, serviceID)
	if err != nil {
		return models.UptimeHistory{}, errors.Wrap(err, "query daily history")
	}
	return models.UptimeHistory{ServiceID: serviceID, Hourly: hourly, Daily: daily}, nil
}

func (s *ClickHouseSink) queryPoints(ctx context.Context, query, serviceID string) ([]models.HealthPoint, error) {
	rows, err := s.conn.Query(ctx, query, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]models.HealthPoint, 0)
	for rows.Next() {
		var (
			p          models.HealthPoint
			latencySum float64
		)
		if err := rows.Scan(&p.Timestamp, &p.UpCount, &p.DownCount, &latencySum); err != nil {
			return nil, err
		}
		if total := p.UpCount + p.DownCount; total > 0 {
			p.AvgLatency = latencySum / float64(total)
		}
		p.Timestamp = p.Timestamp.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
