package models

import (
	"time"
)

// HealthStatus is the last observed liveness of a service.
type HealthStatus string

const (
	StatusUnknown HealthStatus = "unknown"
	StatusOnline  HealthStatus = "online"
	StatusOffline HealthStatus = "offline"
)

// Service defines a monitored dashboard entry.
type Service struct {
	ID           string       `yaml:"id" json:"id"`
	Name         string       `yaml:"name" json:"name"`
	URL          string       `yaml:"url" json:"url"`
	Icon         string       `yaml:"icon" json:"icon,omitempty"`
	Group        string       `yaml:"group" json:"group,omitempty"`
	Order        int          `yaml:"order" json:"order"`
	Public       bool         `yaml:"public" json:"public"`
	CheckHealth  bool         `yaml:"check_health" json:"check_health"`
	HealthStatus HealthStatus `yaml:"-" json:"health_status"`
	LastChecked  *time.Time   `yaml:"-" json:"last_checked,omitempty"`
}

// HealthCheckEntry is one row of the append-only time-series log.
type HealthCheckEntry struct {
	ServiceID string       `json:"service_id"`
	URL       string       `json:"url"`
	Status    HealthStatus `json:"status"`
	LatencyMs int64        `json:"latency_ms"`
	Timestamp time.Time    `json:"timestamp"`
}

// HealthPoint is an aggregated bucket of health checks.
type HealthPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	UpCount    uint64    `json:"up_count"`
	DownCount  uint64    `json:"down_count"`
	AvgLatency float64   `json:"avg_latency"`
}

// UptimeHistory holds the hourly and daily rollups for a service.
type UptimeHistory struct {
	ServiceID string        `json:"service_id"`
	Hourly    []HealthPoint `json:"hourly"`
	Daily     []HealthPoint `json:"daily"`
}

// TimelinePoint represents a single compact point in a service timeline.
type TimelinePoint struct {
	ClassName string    `json:"className"`
	Label     string    `json:"label"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	UpCount   uint64    `json:"up_count,omitempty"`
	DownCount uint64    `json:"down_count,omitempty"`
}

// ServiceTimeline aggregates timeline points for a single service.
type ServiceTimeline struct {
	ServiceID    string          `json:"service_id"`
	ServiceName  string          `json:"service_name"`
	HealthStatus HealthStatus    `json:"health_status"`
	LastChecked  *time.Time      `json:"last_checked,omitempty"`
	Timeline     []TimelinePoint `json:"timeline"`
}
