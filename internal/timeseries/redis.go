package timeseries

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"nexus/internal/config"
	"nexus/internal/history"
	"nexus/internal/models"
)

// Redis hash field names
const (
	fieldUp         = "up"
	fieldDown       = "down"
	fieldLatencySum = "latency_sum"
)

// maxStreamEntries caps the raw log per service: 30 days at one check a minute.
const maxStreamEntries = 30 * 24 * 60

// RedisSink implements Sink using Redis as the backend.
//
// Keys, all under keyPrefix:
//   - log:{serviceID}                      stream of raw entries, capped
//   - hourly:{serviceID} / daily:{serviceID}  sorted set of bucket start times
//   - hourly:{serviceID}:{unix}            hash with up, down and latency_sum
//
// Bucket hashes expire with their window so old buckets age out on their own.
type RedisSink struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
	now       func() time.Time
	closer    func() error
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink connects to Redis and validates the connection with PING.
func NewRedisSink(ctx context.Context, cfg config.Redis, retention time.Duration) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WithMessagef(ErrUnavailable, "connect to redis at %s: %v", cfg.Address, err)
	}
	sink := NewRedisSinkWithClient(client, cfg.KeyPrefix, retention)
	sink.closer = client.Close
	return sink, nil
}

// NewRedisSinkWithClient wraps an existing client. The caller owns the client.
func NewRedisSinkWithClient(client redis.UniversalClient, keyPrefix string, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = history.DailyWindow
	}
	return &RedisSink{
		client:    client,
		keyPrefix: keyPrefix,
		retention: retention,
		now:       time.Now,
	}
}

func (r *RedisSink) streamKey(serviceID string) string {
	return r.keyPrefix + "log:" + serviceID
}

func (r *RedisSink) indexKey(kind, serviceID string) string {
	return r.keyPrefix + kind + ":" + serviceID
}

func (r *RedisSink) bucketKey(kind, serviceID string, start time.Time) string {
	return r.indexKey(kind, serviceID) + ":" + strconv.FormatInt(start.Unix(), 10)
}

// AppendEntry writes the raw entry and bumps the hourly and daily buckets in
// one transaction.
func (r *RedisSink) AppendEntry(ctx context.Context, entry models.HealthCheckEntry) error {
	counter := fieldDown
	if entry.Status == models.StatusOnline {
		counter = fieldUp
	}
	now := r.now()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.streamKey(entry.ServiceID),
			MaxLen: maxStreamEntries,
			Values: map[string]interface{}{
				"url":        entry.URL,
				"status":     string(entry.Status),
				"latency_ms": entry.LatencyMs,
				"timestamp":  entry.Timestamp.UnixMilli(),
			},
		})
		r.bumpBucket(ctx, pipe, "hourly", entry, history.Hour(entry.Timestamp), counter, now.Add(-history.HourlyWindow), history.HourlyWindow+time.Hour)
		r.bumpBucket(ctx, pipe, "daily", entry, history.Day(entry.Timestamp), counter, now.Add(-r.retention), r.retention+24*time.Hour)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "append health check to redis")
	}
	return nil
}

func (r *RedisSink) bumpBucket(ctx context.Context, pipe redis.Pipeliner, kind string, entry models.HealthCheckEntry, start time.Time, counter string, cutoff time.Time, ttl time.Duration) {
	key := r.bucketKey(kind, entry.ServiceID, start)
	index := r.indexKey(kind, entry.ServiceID)
	unix := start.Unix()

	pipe.HIncrBy(ctx, key, counter, 1)
	pipe.HIncrByFloat(ctx, key, fieldLatencySum, float64(entry.LatencyMs))
	pipe.Expire(ctx, key, ttl)
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(unix), Member: strconv.FormatInt(unix, 10)})
	pipe.ZRemRangeByScore(ctx, index, "-inf", "("+strconv.FormatInt(cutoff.Unix(), 10))
}

// QueryHistory reads the hourly buckets of the last day and the daily
// buckets within retention.
func (r *RedisSink) QueryHistory(ctx context.Context, serviceID string) (models.UptimeHistory, error) {
	now := r.now()
	hourly, err := r.readBuckets(ctx, "hourly", serviceID, history.Hour(now.Add(-history.HourlyWindow)))
	if err != nil {
		return models.UptimeHistory{}, err
	}
	daily, err := r.readBuckets(ctx, "daily", serviceID, history.Day(now.Add(-r.retention)))
	if err != nil {
		return models.UptimeHistory{}, err
	}
	return models.UptimeHistory{ServiceID: serviceID, Hourly: hourly, Daily: daily}, nil
}

func (r *RedisSink) readBuckets(ctx context.Context, kind, serviceID string, since time.Time) ([]models.HealthPoint, error) {
	members, err := r.client.ZRangeByScore(ctx, r.indexKey(kind, serviceID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s index", kind)
	}
	points := make([]models.HealthPoint, 0, len(members))
	if len(members) == 0 {
		return points, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, member := range members {
			cmds[i] = pipe.HGetAll(ctx, r.indexKey(kind, serviceID)+":"+member)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read %s buckets", kind)
	}

	for i, member := range members {
		unix, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		up, _ := strconv.ParseUint(fields[fieldUp], 10, 64)
		down, _ := strconv.ParseUint(fields[fieldDown], 10, 64)
		latencySum, _ := strconv.ParseFloat(fields[fieldLatencySum], 64)
		point := models.HealthPoint{
			Timestamp: time.Unix(unix, 0).UTC(),
			UpCount:   up,
			DownCount: down,
		}
		if total := up + down; total > 0 {
			point.AvgLatency = latencySum / float64(total)
		}
		points = append(points, point)
	}
	return points, nil
}

func (r *RedisSink) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
