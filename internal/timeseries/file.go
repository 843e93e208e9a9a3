package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"nexus/internal/history"
	"nexus/internal/models"
)

// FileSink persists health check entries to a JSON file and computes
// rollups on read.
type FileSink struct {
	retention time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	path    string
	entries []models.HealthCheckEntry
}

var _ Sink = (*FileSink)(nil)

// NewFileSink initialises storage and loads existing entries if present.
func NewFileSink(path string, retention time.Duration) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure data directory")
	}
	if retention <= 0 {
		retention = history.DailyWindow
	}
	sink := &FileSink{path: path, retention: retention, now: time.Now}
	if err := sink.load(); err != nil {
		return nil, err
	}
	return sink, nil
}

// AppendEntry adds one entry, drops entries past retention and persists.
func (s *FileSink) AppendEntry(_ context.Context, entry models.HealthCheckEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if n := len(s.entries); n > 1 && entry.Timestamp.Before(s.entries[n-2].Timestamp) {
		sort.SliceStable(s.entries, func(i, j int) bool {
			return s.entries[i].Timestamp.Before(s.entries[j].Timestamp)
		})
	}
	s.trimLocked()
	return s.persistLocked()
}

// QueryHistory returns the hourly and daily rollups for a service.
func (s *FileSink) QueryHistory(_ context.Context, serviceID string) (models.UptimeHistory, error) {
	s.mu.RLock()
	entries := make([]models.HealthCheckEntry, 0)
	for _, e := range s.entries {
		if e.ServiceID == serviceID {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	return history.BuildUptimeHistory(serviceID, entries, s.now(), s.retention), nil
}

// Entries returns a copy of the persisted entries.
func (s *FileSink) Entries() []models.HealthCheckEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil
	}
	out := make([]models.HealthCheckEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *FileSink) Close() error { return nil }

func (s *FileSink) trimLocked() {
	cutoff := s.now().Add(-s.retention)
	idx := sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].Timestamp.Before(cutoff)
	})
	if idx > 0 {
		s.entries = append([]models.HealthCheckEntry(nil), s.entries[idx:]...)
	}
}

func (s *FileSink) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.entries = nil
			return nil
		}
		return errors.Wrap(err, "read health check log")
	}
	if len(data) == 0 {
		s.entries = nil
		return nil
	}

	var entries []models.HealthCheckEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.Wrap(err, "parse health check log")
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	s.entries = entries
	return nil
}

func (s *FileSink) persistLocked() error {
	bytes, err := json.Marshal(s.entries)
	if err != nil {
		return errors.Wrap(err, "encode health check log")
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return errors.Wrap(err, "write temp health check log")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "replace health check log")
	}
	return nil
}
