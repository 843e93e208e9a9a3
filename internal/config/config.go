package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"nexus/internal/models"
)

const (
	DatabaseFile     = "file"
	DatabasePostgres = "postgres"

	TimeSeriesNone       = "none"
	TimeSeriesFile       = "file"
	TimeSeriesRedis      = "redis"
	TimeSeriesClickHouse = "clickhouse"
)

// Config represents configuration data for the dashboard backend.
type Config struct {
	ListenAddr    string           `yaml:"listen_addr"`
	DataDirectory string           `yaml:"data_directory"`
	LogLevel      string           `yaml:"log_level"`
	Health        Health           `yaml:"health"`
	Database      Database         `yaml:"database"`
	TimeSeries    TimeSeries       `yaml:"timeseries"`
	Services      []models.Service `yaml:"services"`
}

// Health tunes the health-check scheduler.
type Health struct {
	IntervalMinutes int    `yaml:"interval_minutes"`
	Concurrency     int    `yaml:"concurrency"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxQueueSize    int    `yaml:"max_queue_size"`
	UserAgent       string `yaml:"user_agent"`
}

// Database selects where services and their latest status live.
type Database struct {
	Driver              string `yaml:"driver"`
	DSN                 string `yaml:"dsn"`
	ConnectRetries      int    `yaml:"connect_retries"`
	ConnectDelaySeconds int    `yaml:"connect_delay_seconds"`
	WriteQueueSize      int    `yaml:"write_queue_size"`
}

// TimeSeries selects the health history backend.
type TimeSeries struct {
	Driver        string     `yaml:"driver"`
	RetentionDays int        `yaml:"retention_days"`
	Redis         Redis      `yaml:"redis"`
	ClickHouse    ClickHouse `yaml:"clickhouse"`
}

type Redis struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ClickHouse struct {
	Address  string `yaml:"address"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Interval returns the check interval as a duration.
func (h Health) Interval() time.Duration {
	return time.Duration(h.IntervalMinutes) * time.Minute
}

// Timeout returns the per-probe timeout as a duration.
func (h Health) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// ConnectDelay returns the pause between connection attempts.
func (d Database) ConnectDelay() time.Duration {
	return time.Duration(d.ConnectDelaySeconds) * time.Second
}

// Retention returns how long raw and daily history is kept.
func (t TimeSeries) Retention() time.Duration {
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":8080",
		DataDirectory: filepath.Join(".dist", "data"),
		LogLevel:      "info",
		Health: Health{
			IntervalMinutes: 5,
			Concurrency:     5,
			TimeoutSeconds:  10,
			MaxQueueSize:    100,
			UserAgent:       "Nexus-HealthChecker/1.0",
		},
		Database: Database{
			Driver:              DatabaseFile,
			ConnectRetries:      10,
			ConnectDelaySeconds: 2,
			WriteQueueSize:      500,
		},
		TimeSeries: TimeSeries{
			Driver:        TimeSeriesFile,
			RetentionDays: 30,
			Redis: Redis{
				KeyPrefix: "nexus:health:",
			},
			ClickHouse: ClickHouse{
				Database: "nexus",
				Username: "default",
			},
		},
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
// Environment overrides are applied after the file in both cases.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, errors.Wrap(err, "read config")
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, errors.Wrap(err, "parse config")
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	normalise(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if raw, ok := lookup("HEALTH_CHECK_INTERVAL"); ok && raw != "" {
		minutes, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return errors.Wrapf(err, "HEALTH_CHECK_INTERVAL %q", raw)
		}
		cfg.Health.IntervalMinutes = minutes
	}
	if dsn, ok := lookup("DATABASE_URL"); ok && dsn != "" {
		cfg.Database.Driver = DatabasePostgres
		cfg.Database.DSN = dsn
	}
	if addr, ok := lookup("REDIS_ADDR"); ok && addr != "" {
		cfg.TimeSeries.Driver = TimeSeriesRedis
		cfg.TimeSeries.Redis.Address = addr
	}
	if host, ok := lookup("CLICKHOUSE_HOST"); ok && host != "" {
		cfg.TimeSeries.Driver = TimeSeriesClickHouse
		if !strings.Contains(host, ":") {
			host += ":9000"
		}
		cfg.TimeSeries.ClickHouse.Address = host
	}
	if db, ok := lookup("CLICKHOUSE_DB"); ok && db != "" {
		cfg.TimeSeries.ClickHouse.Database = db
	}
	if user, ok := lookup("CLICKHOUSE_USER"); ok && user != "" {
		cfg.TimeSeries.ClickHouse.Username = user
	}
	if password, ok := lookup("CLICKHOUSE_PASSWORD"); ok {
		cfg.TimeSeries.ClickHouse.Password = password
	}
	if level, ok := lookup("LOG_LEVEL"); ok && level != "" {
		cfg.LogLevel = level
	}
	return nil
}

func normalise(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = defaults.DataDirectory
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.Health.IntervalMinutes <= 0 {
		cfg.Health.IntervalMinutes = defaults.Health.IntervalMinutes
	}
	if cfg.Health.Concurrency <= 0 {
		cfg.Health.Concurrency = defaults.Health.Concurrency
	}
	if cfg.Health.TimeoutSeconds <= 0 {
		cfg.Health.TimeoutSeconds = defaults.Health.TimeoutSeconds
	}
	if cfg.Health.MaxQueueSize <= 0 {
		cfg.Health.MaxQueueSize = defaults.Health.MaxQueueSize
	}
	if strings.TrimSpace(cfg.Health.UserAgent) == "" {
		cfg.Health.UserAgent = defaults.Health.UserAgent
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.ConnectRetries <= 0 {
		cfg.Database.ConnectRetries = defaults.Database.ConnectRetries
	}
	if cfg.Database.ConnectDelaySeconds <= 0 {
		cfg.Database.ConnectDelaySeconds = defaults.Database.ConnectDelaySeconds
	}
	if cfg.Database.WriteQueueSize <= 0 {
		cfg.Database.WriteQueueSize = defaults.Database.WriteQueueSize
	}
	if cfg.TimeSeries.Driver == "" {
		cfg.TimeSeries.Driver = defaults.TimeSeries.Driver
	}
	if cfg.TimeSeries.RetentionDays <= 0 {
		cfg.TimeSeries.RetentionDays = defaults.TimeSeries.RetentionDays
	}
	if cfg.TimeSeries.Redis.KeyPrefix == "" {
		cfg.TimeSeries.Redis.KeyPrefix = defaults.TimeSeries.Redis.KeyPrefix
	}
	if cfg.TimeSeries.ClickHouse.Database == "" {
		cfg.TimeSeries.ClickHouse.Database = defaults.TimeSeries.ClickHouse.Database
	}
	if cfg.TimeSeries.ClickHouse.Username == "" {
		cfg.TimeSeries.ClickHouse.Username = defaults.TimeSeries.ClickHouse.Username
	}
	for i := range cfg.Services {
		if cfg.Services[i].Name == "" {
			cfg.Services[i].Name = cfg.Services[i].ID
		}
		cfg.Services[i].HealthStatus = models.StatusUnknown
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DatabaseFile:
	case DatabasePostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return errors.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.TimeSeries.Driver {
	case TimeSeriesNone, TimeSeriesFile:
	case TimeSeriesRedis:
		if c.TimeSeries.Redis.Address == "" {
			return errors.New("timeseries.redis.address is required for the redis driver")
		}
	case TimeSeriesClickHouse:
		if c.TimeSeries.ClickHouse.Address == "" {
			return errors.New("timeseries.clickhouse.address is required for the clickhouse driver")
		}
		if !identifierPattern.MatchString(c.TimeSeries.ClickHouse.Database) {
			return errors.Errorf("timeseries.clickhouse.database %q is not a valid identifier", c.TimeSeries.ClickHouse.Database)
		}
	default:
		return errors.Errorf("unknown timeseries driver %q", c.TimeSeries.Driver)
	}

	seen := make(map[string]struct{}, len(c.Services))
	for i, svc := range c.Services {
		if svc.ID == "" {
			return errors.Errorf("service %d is missing id", i)
		}
		if _, dup := seen[svc.ID]; dup {
			return errors.Errorf("service %s is defined more than once", svc.ID)
		}
		seen[svc.ID] = struct{}{}
		if svc.URL == "" {
			return errors.Errorf("service %s url is required", svc.ID)
		}
	}
	return nil
}
