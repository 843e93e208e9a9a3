// Package health runs the recurring service health checks: it lists the
// services that have monitoring enabled, queues a probe job for each and
// drains the queue with a fixed-size worker pool, recording every result.
package health

import (
	"context"
	"time"

	"nexus/internal/probe"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultTimeout      = probe.DefaultTimeout
	DefaultConcurrency  = 5
	DefaultMaxQueueSize = 100
)

// Prober performs a single bounded liveness check.
type Prober interface {
	Probe(ctx context.Context, target string, timeout time.Duration) probe.Result
}

// Config tunes a Scheduler. Zero values fall back to the package defaults.
type Config struct {
	Interval     time.Duration
	Timeout      time.Duration
	Concurrency  int
	MaxQueueSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	return c
}
