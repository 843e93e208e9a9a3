package storage

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

	"nexus/internal/models"
)

var ErrServiceNotFound = errors.New("service not found")

// Catalog is the service store shared by the API and the health checker.
type Catalog interface {
	ListServices(ctx context.Context) ([]models.Service, error)
	ListMonitoredEntities(ctx context.Context) ([]models.Service, error)
	UpsertService(ctx context.Context, svc models.Service) error
	DeleteService(ctx context.Context, id string) error
	SetLatestStatus(ctx context.Context, id string, status models.HealthStatus, observedAt time.Time) error
}

// FileCatalog persists services and their latest status to a JSON file.
type FileCatalog struct {
	writes *WriteQueue

	mu       sync.RWMutex
	path     string
	services map[string]models.Service
}

var _ Catalog = (*FileCatalog)(nil)

// NewFileCatalog creates a catalog and loads existing services if present.
func NewFileCatalog(path string, writes *WriteQueue) (*FileCatalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure data directory")
	}

	c := &FileCatalog{path: path, writes: writes}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// ListServices returns every service ordered for display.
func (c *FileCatalog) ListServices(_ context.Context) ([]models.Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Service, 0, len(c.services))
	for _, svc := range c.services {
		out = append(out, copyService(svc))
	}
	sortServices(out)
	return out, nil
}

// ListMonitoredEntities returns services with health checking enabled.
func (c *FileCatalog) ListMonitoredEntities(ctx context.Context) ([]models.Service, error) {
	all, err := c.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, svc := range all {
		if svc.CheckHealth {
			out = append(out, svc)
		}
	}
	return out, nil
}

// UpsertService creates or replaces a service definition. The stored health
// status and last check time survive the update.
func (c *FileCatalog) UpsertService(ctx context.Context, svc models.Service) error {
	if svc.ID == "" {
		return errors.New("service id is required")
	}
	return c.writes.Do(ctx, func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if existing, ok := c.services[svc.ID]; ok {
			svc.HealthStatus = existing.HealthStatus
			svc.LastChecked = existing.LastChecked
		}
		if svc.HealthStatus == "" {
			svc.HealthStatus = models.StatusUnknown
		}
		c.services[svc.ID] = svc
		return c.persistLocked()
	})
}

// DeleteService removes a service.
func (c *FileCatalog) DeleteService(ctx context.Context, id string) error {
	return c.writes.Do(ctx, func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if _, ok := c.services[id]; !ok {
			return errors.Wrap(ErrServiceNotFound, id)
		}
		delete(c.services, id)
		return c.persistLocked()
	})
}

// SetLatestStatus overwrites the current health of a service. Unknown ids are
// ignored: the service was removed while its probe was in flight.
func (c *FileCatalog) SetLatestStatus(ctx context.Context, id string, status models.HealthStatus, observedAt time.Time) error {
	return c.writes.Do(ctx, func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		svc, ok := c.services[id]
		if !ok {
			return nil
		}
		checked := observedAt.UTC()
		svc.HealthStatus = status
		svc.LastChecked = &checked
		c.services[id] = svc
		return c.persistLocked()
	})
}

func (c *FileCatalog) load() error {
	c.services = make(map[string]models.Service)

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read services")
	}
	if len(data) == 0 {
		return nil
	}

	var services []models.Service
	if err := json.Unmarshal(data, &services); err != nil {
		return errors.Wrap(err, "parse services")
	}
	for _, svc := range services {
		c.services[svc.ID] = svc
	}
	return nil
}

func (c *FileCatalog) persistLocked() error {
	services := make([]models.Service, 0, len(c.services))
	for _, svc := range c.services {
		services = append(services, svc)
	}
	sortServices(services)

	bytes, err := json.MarshalIndent(services, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode services")
	}
	return writeFileAtomic(c.path, bytes)
}

func writeFileAtomic(path string, data []byte) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "replace file")
	}
	return nil
}

func copyService(svc models.Service) models.Service {
	if svc.LastChecked != nil {
		checked := *svc.LastChecked
		svc.LastChecked = &checked
	}
	return svc
}

func sortServices(services []models.Service) {
	sort.SliceStable(services, func(i, j int) bool {
		if services[i].Order != services[j].Order {
			return services[i].Order < services[j].Order
		}
		return services[i].ID < services[j].ID
	})
}
