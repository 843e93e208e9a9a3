package history

import (
	"sort"
	"time"

	"nexus/internal/models"
)

const (
	HourlyWindow = 24 * time.Hour
	DailyWindow  = 30 * 24 * time.Hour
)

// Granularity truncates a timestamp to the start of its bucket.
type Granularity func(time.Time) time.Time

// Hour buckets by UTC hour.
func Hour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Day buckets by UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

type bucket struct {
	up, down   uint64
	latencySum float64
}

// Rollup aggregates entries for a single service into ascending buckets,
// ignoring entries older than since.
func Rollup(entries []models.HealthCheckEntry, granularity Granularity, since time.Time) []models.HealthPoint {
	buckets := make(map[time.Time]*bucket)
	for _, entry := range entries {
		if entry.Timestamp.Before(since) {
			continue
		}
		key := granularity(entry.Timestamp)
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		switch entry.Status {
		case models.StatusOnline:
			b.up++
		case models.StatusOffline:
			b.down++
		default:
			continue
		}
		b.latencySum += float64(entry.LatencyMs)
	}

	points := make([]models.HealthPoint, 0, len(buckets))
	for ts, b := range buckets {
		total := b.up + b.down
		if total == 0 {
			continue
		}
		points = append(points, models.HealthPoint{
			Timestamp:  ts,
			UpCount:    b.up,
			DownCount:  b.down,
			AvgLatency: b.latencySum / float64(total),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

// BuildUptimeHistory computes the hourly and daily rollups as of now.
func BuildUptimeHistory(serviceID string, entries []models.HealthCheckEntry, now time.Time, retention time.Duration) models.UptimeHistory {
	if retention <= 0 {
		retention = DailyWindow
	}
	return models.UptimeHistory{
		ServiceID: serviceID,
		Hourly:    Rollup(entries, Hour, now.Add(-HourlyWindow)),
		Daily:     Rollup(entries, Day, now.Add(-retention)),
	}
}
