package history

import (
	"sort"
	"time"

	"nexus/internal/models"
)

const (
	// DefaultTimelinePoints controls how many dots we generate per service.
	DefaultTimelinePoints = 24
)

// BuildServiceTimeline converts hourly rollups into a fixed number of compact
// points covering [start, end).
func BuildServiceTimeline(svc models.Service, hourly []models.HealthPoint, start, end time.Time, points int) models.ServiceTimeline {
	return models.ServiceTimeline{
		ServiceID:    svc.ID,
		ServiceName:  svc.Name,
		HealthStatus: svc.HealthStatus,
		LastChecked:  svc.LastChecked,
		Timeline:     buildTimeline(hourly, start, end, points),
	}
}

func buildTimeline(samples []models.HealthPoint, start, end time.Time, points int) []models.TimelinePoint {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}
	output := make([]models.TimelinePoint, 0, points)
	if len(samples) > 1 {
		samples = append([]models.HealthPoint(nil), samples...)
		sort.Slice(samples, func(i, j int) bool {
			return samples[i].Timestamp.Before(samples[j].Timestamp)
		})
	}

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Minute
	}

	cursor := 0
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}
		var up, down uint64
		cursor, up, down = collectBucket(samples, bucketStart, bucketEnd, cursor)
		class, label := evaluateBucket(up, down)
		output = append(output, models.TimelinePoint{
			ClassName: class,
			Label:     label,
			Start:     bucketStart,
			End:       bucketEnd,
			UpCount:   up,
			DownCount: down,
		})
	}
	return output
}

func collectBucket(samples []models.HealthPoint, start, end time.Time, cursor int) (next int, up, down uint64) {
	i := cursor
	for i < len(samples) && samples[i].Timestamp.Before(start) {
		i++
	}
	for i < len(samples) && samples[i].Timestamp.Before(end) {
		up += samples[i].UpCount
		down += samples[i].DownCount
		i++
	}
	return i, up, down
}

func evaluateBucket(up, down uint64) (className, label string) {
	switch {
	case up == 0 && down == 0:
		return "state-missing", "No data"
	case down == 0:
		return "state-success", "Operational"
	case up == 0:
		return "state-error", "Unavailable"
	default:
		return "state-warning", "Degraded"
	}
}
