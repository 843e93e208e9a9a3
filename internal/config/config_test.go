package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Health.Interval())
	assert.Equal(t, 10*time.Second, cfg.Health.Timeout())
	assert.Equal(t, 5, cfg.Health.Concurrency)
	assert.Equal(t, 100, cfg.Health.MaxQueueSize)
	assert.Equal(t, "Nexus-HealthChecker/1.0", cfg.Health.UserAgent)
	assert.Equal(t, DatabaseFile, cfg.Database.Driver)
	assert.Equal(t, 500, cfg.Database.WriteQueueSize)
	assert.Equal(t, TimeSeriesFile, cfg.TimeSeries.Driver)
	assert.Equal(t, 30*24*time.Hour, cfg.TimeSeries.Retention())
}

func TestLoad_ParsesServicesAndNormalises(t *testing.T) {
	path := writeConfig(t, `
health:
  interval_minutes: 0
  concurrency: 8
services:
  - id: grafana
    url: http://grafana.lan
    check_health: true
  - id: wiki
    name: Wiki
    url: http://wiki.lan
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Health.IntervalMinutes)
	assert.Equal(t, 8, cfg.Health.Concurrency)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "grafana", cfg.Services[0].Name)
	assert.True(t, cfg.Services[0].CheckHealth)
	assert.False(t, cfg.Services[1].CheckHealth)
	assert.Equal(t, models.StatusUnknown, cfg.Services[1].HealthStatus)
}

func TestLoad_RejectsInvalidServices(t *testing.T) {
	tests := map[string]string{
		"missing id": `
services:
  - url: http://a.lan
`,
		"missing url": `
services:
  - id: a
`,
		"duplicate id": `
services:
  - id: a
    url: http://a.lan
  - id: a
    url: http://b.lan
`,
		"unknown timeseries driver": `
timeseries:
  driver: influx
`,
		"postgres without dsn": `
database:
  driver: postgres
`,
		"clickhouse database with statement": `
timeseries:
  driver: clickhouse
  clickhouse:
    address: 127.0.0.1:9000
    database: "nexus; DROP DATABASE default"
`,
		"clickhouse database with backtick": `
timeseries:
  driver: clickhouse
  clickhouse:
    address: 127.0.0.1:9000
    database: "nexus` + "`" + `x"
`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_AcceptsClickHouseDatabaseIdentifier(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
timeseries:
  driver: clickhouse
  clickhouse:
    address: 127.0.0.1:9000
    database: nexus_health2
`))
	require.NoError(t, err)
	assert.Equal(t, "nexus_health2", cfg.TimeSeries.ClickHouse.Database)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"HEALTH_CHECK_INTERVAL": "2",
		"DATABASE_URL":          "postgres://nexus@localhost/nexus",
		"CLICKHOUSE_HOST":       "clickhouse",
		"CLICKHOUSE_DB":         "metrics",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, applyEnv(&cfg, lookup))
	normalise(&cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Minute, cfg.Health.Interval())
	assert.Equal(t, DatabasePostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://nexus@localhost/nexus", cfg.Database.DSN)
	assert.Equal(t, TimeSeriesClickHouse, cfg.TimeSeries.Driver)
	assert.Equal(t, "clickhouse:9000", cfg.TimeSeries.ClickHouse.Address)
	assert.Equal(t, "metrics", cfg.TimeSeries.ClickHouse.Database)
}

func TestApplyEnv_BadInterval(t *testing.T) {
	cfg := DefaultConfig()
	err := applyEnv(&cfg, func(key string) (string, bool) {
		if key == "HEALTH_CHECK_INTERVAL" {
			return "soon", true
		}
		return "", false
	})
	assert.Error(t, err)
}
