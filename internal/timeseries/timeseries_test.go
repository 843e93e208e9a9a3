package timeseries

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/config"
	"nexus/internal/models"
)

var testNow = time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

func sampleEntries() []models.HealthCheckEntry {
	return []models.HealthCheckEntry{
		{ServiceID: "svc1", Status: models.StatusOnline, LatencyMs: 50, Timestamp: testNow.Add(-10 * time.Minute)},
		{ServiceID: "svc1", Status: models.StatusOffline, LatencyMs: 10000, Timestamp: testNow.Add(-5 * time.Minute)},
		{ServiceID: "svc1", Status: models.StatusOnline, LatencyMs: 30, Timestamp: testNow.Add(-3 * 24 * time.Hour)},
		{ServiceID: "svc2", Status: models.StatusOnline, LatencyMs: 5, Timestamp: testNow.Add(-time.Minute)},
	}
}

// assertSampleHistory checks the rollups every backend must produce for sampleEntries.
func assertSampleHistory(t *testing.T, hist models.UptimeHistory) {
	t.Helper()
	assert.Equal(t, "svc1", hist.ServiceID)

	require.Len(t, hist.Hourly, 1)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), hist.Hourly[0].Timestamp)
	assert.Equal(t, uint64(1), hist.Hourly[0].UpCount)
	assert.Equal(t, uint64(1), hist.Hourly[0].DownCount)
	assert.Equal(t, 5025.0, hist.Hourly[0].AvgLatency)

	require.Len(t, hist.Daily, 2)
	assert.Equal(t, time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC), hist.Daily[0].Timestamp)
	assert.Equal(t, uint64(1), hist.Daily[0].UpCount)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), hist.Daily[1].Timestamp)
	assert.Equal(t, uint64(2), hist.Daily[1].UpCount+hist.Daily[1].DownCount)
}

func TestNoop(t *testing.T) {
	var sink Sink = Noop{}
	require.NoError(t, sink.AppendEntry(context.Background(), sampleEntries()[0]))
	hist, err := sink.QueryHistory(context.Background(), "svc1")
	require.NoError(t, err)
	assert.Empty(t, hist.Hourly)
	assert.NotNil(t, hist.Daily)
	assert.NoError(t, sink.Close())
}

func TestFileSink_AppendAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health_checks.json")
	sink, err := NewFileSink(path, 30*24*time.Hour)
	require.NoError(t, err)
	sink.now = func() time.Time { return testNow }

	for _, e := range sampleEntries() {
		require.NoError(t, sink.AppendEntry(context.Background(), e))
	}

	hist, err := sink.QueryHistory(context.Background(), "svc1")
	require.NoError(t, err)
	assertSampleHistory(t, hist)

	reloaded, err := NewFileSink(path, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, reloaded.Entries(), 4)
}

func TestFileSink_TrimsPastRetention(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "log.json"), 24*time.Hour)
	require.NoError(t, err)
	sink.now = func() time.Time { return testNow }

	require.NoError(t, sink.AppendEntry(context.Background(), models.HealthCheckEntry{
		ServiceID: "svc1", Status: models.StatusOnline, Timestamp: testNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, sink.AppendEntry(context.Background(), models.HealthCheckEntry{
		ServiceID: "svc1", Status: models.StatusOnline, Timestamp: testNow,
	}))
	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, testNow, entries[0].Timestamp)
}

func TestFileSink_UnwritableDirectoryFails(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewFileSink(filepath.Join(blocker, "log.json"), time.Hour)
	assert.Error(t, err)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSink_AppendAndQuery(t *testing.T) {
	mr, client := setupTestRedis(t)
	sink := NewRedisSinkWithClient(client, "test:", 30*24*time.Hour)
	sink.now = func() time.Time { return testNow }

	for _, e := range sampleEntries() {
		require.NoError(t, sink.AppendEntry(context.Background(), e))
	}

	hist, err := sink.QueryHistory(context.Background(), "svc1")
	require.NoError(t, err)
	assertSampleHistory(t, hist)

	assert.True(t, mr.Exists("test:log:svc1"))
	ttl := mr.TTL("test:hourly:svc1:" + "1717243200")
	assert.Equal(t, 25*time.Hour, ttl)
}

func TestRedisSink_Unavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	sink := NewRedisSinkWithClient(client, "test:", time.Hour)
	mr.Close()

	err := sink.AppendEntry(context.Background(), sampleEntries()[0])
	assert.Error(t, err)
}

func TestNewRedisSink_PingFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisSink(ctx, config.Redis{Address: "127.0.0.1:1"}, time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestNewClickHouseSink_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := NewClickHouseSink(ctx, config.ClickHouse{Address: "127.0.0.1:1", Database: "nexus"}, 1, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpen_UnknownDriverIsNotUnavailable(t *testing.T) {
	_, err := Open(context.Background(), config.TimeSeries{Driver: "influx"}, t.TempDir())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestOpen_SelectsBackend(t *testing.T) {
	sink, err := Open(context.Background(), config.TimeSeries{Driver: config.TimeSeriesNone}, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, Noop{}, sink)

	sink, err = Open(context.Background(), config.TimeSeries{Driver: config.TimeSeriesFile, RetentionDays: 1}, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, sink)

	_, err = Open(context.Background(), config.TimeSeries{Driver: "influx"}, t.TempDir())
	assert.Error(t, err)
}

func TestClickHouseSink(t *testing.T) {
	addr := os.Getenv("NEXUS_TEST_CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("NEXUS_TEST_CLICKHOUSE_ADDR not set")
	}
	ctx := context.Background()
	sink, err := NewClickHouseSink(ctx, config.ClickHouse{Address: addr, Database: "nexus_test", Username: "default"}, 3, time.Second)
	require.NoError(t, err)
	defer sink.Close()

	now := time.Now().UTC()
	require.NoError(t, sink.AppendEntry(ctx, models.HealthCheckEntry{
		ServiceID: "ch-svc", URL: "http://ok.test", Status: models.StatusOnline, LatencyMs: 50, Timestamp: now,
	}))
	hist, err := sink.QueryHistory(ctx, "ch-svc")
	require.NoError(t, err)
	require.NotEmpty(t, hist.Hourly)
	assert.GreaterOrEqual(t, hist.Hourly[len(hist.Hourly)-1].UpCount, uint64(1))
}
