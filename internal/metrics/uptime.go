package metrics

import (
	"math"

	"nexus/internal/models"
)

// ServiceUptime summarises health of a monitored service.
type ServiceUptime struct {
	ID               string  `json:"id"`
	UptimePercent24h float64 `json:"uptime_percent_24h"`
	UptimePercent30d float64 `json:"uptime_percent_30d"`
	TotalChecks      uint64  `json:"total_checks"`
	Passing          uint64  `json:"passing"`
	Failing          uint64  `json:"failing"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}

// ComputeServiceUptime aggregates uptime statistics from a service's rollups.
// Totals and average latency come from the daily series, which covers the
// whole retention window.
func ComputeServiceUptime(history models.UptimeHistory) ServiceUptime {
	result := ServiceUptime{ID: history.ServiceID}

	up24, down24, _ := sum(history.Hourly)
	result.UptimePercent24h = percent(up24, down24)

	up, down, latencyWeighted := sum(history.Daily)
	result.Passing = up
	result.Failing = down
	result.TotalChecks = up + down
	result.UptimePercent30d = percent(up, down)
	if result.TotalChecks > 0 {
		result.AvgLatencyMs = round2(latencyWeighted / float64(result.TotalChecks))
	}
	return result
}

func sum(points []models.HealthPoint) (up, down uint64, latencyWeighted float64) {
	for _, p := range points {
		up += p.UpCount
		down += p.DownCount
		latencyWeighted += p.AvgLatency * float64(p.UpCount+p.DownCount)
	}
	return up, down, latencyWeighted
}

func percent(up, down uint64) float64 {
	total := up + down
	if total == 0 {
		return 0
	}
	return round2(float64(up) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
