package storage

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"nexus/internal/models"
)

const servicesTable = "services"

// PostgresCatalog keeps services and their latest status in Postgres.
type PostgresCatalog struct {
	pool   *pgxpool.Pool
	writes *WriteQueue
}

var _ Catalog = (*PostgresCatalog)(nil)

// OpenPostgres connects to dsn, retrying while the database starts up.
func OpenPostgres(ctx context.Context, dsn string, attempts uint, delay time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	cfg.MaxConns = 25
	cfg.MaxConnLifetime = 5 * time.Minute

	var pool *pgxpool.Pool
	err = retry.Do(
		func() error {
			p, err := pgxpool.NewWithConfig(ctx, cfg)
			if err != nil {
				return err
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return err
			}
			pool = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Failed to connect to postgres (attempt %d/%d)", n+1, attempts)
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to postgres after %d attempts", attempts)
	}
	return pool, nil
}

// NewPostgresCatalog wraps an open pool. Writes go through the shared queue.
func NewPostgresCatalog(pool *pgxpool.Pool, writes *WriteQueue) *PostgresCatalog {
	return &PostgresCatalog{pool: pool, writes: writes}
}

// EnsureSchema creates the services table if it does not exist.
func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + servicesTable + ` (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL,
    icon TEXT NOT NULL DEFAULT '',
    grp TEXT NOT NULL DEFAULT '',
    sort_order INTEGER NOT NULL DEFAULT 0,
    public BOOLEAN NOT NULL DEFAULT FALSE,
    check_health BOOLEAN NOT NULL DEFAULT FALSE,
    health_status TEXT NOT NULL DEFAULT 'unknown',
    last_checked TIMESTAMPTZ
);`,
		`CREATE INDEX IF NOT EXISTS idx_` + servicesTable + `_check_health ON ` + servicesTable + ` (check_health);`,
	}
	for _, stmt := range statements {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure services schema")
		}
	}
	return nil
}

const selectServices = `SELECT id, name, url, icon, grp, sort_order, public, check_health, health_status, last_checked FROM ` + servicesTable

// ListServices returns every service ordered for display.
func (c *PostgresCatalog) ListServices(ctx context.Context) ([]models.Service, error) {
	return c.query(ctx, selectServices+` ORDER BY sort_order ASC, id ASC`)
}

// ListMonitoredEntities returns services with health checking enabled.
func (c *PostgresCatalog) ListMonitoredEntities(ctx context.Context) ([]models.Service, error) {
	return c.query(ctx, selectServices+` WHERE check_health = TRUE ORDER BY sort_order ASC, id ASC`)
}

func (c *PostgresCatalog) query(ctx context.Context, sql string) ([]models.Service, error) {
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, errors.Wrap(err, "query services")
	}
	services, err := pgx.CollectRows(rows, scanService)
	if err != nil {
		return nil, errors.Wrap(err, "scan services")
	}
	return services, nil
}

func scanService(row pgx.CollectableRow) (models.Service, error) {
	var (
		svc    models.Service
		status string
	)
	err := row.Scan(&svc.ID, &svc.Name, &svc.URL, &svc.Icon, &svc.Group, &svc.Order,
		&svc.Public, &svc.CheckHealth, &status, &svc.LastChecked)
	svc.HealthStatus = models.HealthStatus(status)
	return svc, err
}

// UpsertService creates or replaces a service definition, keeping its health.
func (c *PostgresCatalog) UpsertService(ctx context.Context, svc models.Service) error {
	if svc.ID == "" {
		return errors.New("service id is required")
	}
	return c.writes.Do(ctx, func(ctx context.Context) error {
		_, err := c.pool.Exec(ctx, `
INSERT INTO `+servicesTable+` (id, name, url, icon, grp, sort_order, public, check_health)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name,
              url = EXCLUDED.url,
              icon = EXCLUDED.icon,
              grp = EXCLUDED.grp,
              sort_order = EXCLUDED.sort_order,
              public = EXCLUDED.public,
              check_health = EXCLUDED.check_health
`, svc.ID, svc.Name, svc.URL, svc.Icon, svc.Group, svc.Order, svc.Public, svc.CheckHealth)
		return errors.Wrapf(err, "upsert service %s", svc.ID)
	})
}

// DeleteService removes a service.
func (c *PostgresCatalog) DeleteService(ctx context.Context, id string) error {
	return c.writes.Do(ctx, func(ctx context.Context) error {
		tag, err := c.pool.Exec(ctx, `DELETE FROM `+servicesTable+` WHERE id = $1`, id)
		if err != nil {
			return errors.Wrapf(err, "delete service %s", id)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrap(ErrServiceNotFound, id)
		}
		return nil
	})
}

// SetLatestStatus overwrites the current health of a service. Updating a
// service that no longer exists affects no rows and is not an error.
func (c *PostgresCatalog) SetLatestStatus(ctx context.Context, id string, status models.HealthStatus, observedAt time.Time) error {
	return c.writes.Do(ctx, func(ctx context.Context) error {
		_, err := c.pool.Exec(ctx,
			`UPDATE `+servicesTable+` SET health_status = $2, last_checked = $3 WHERE id = $1`,
			id, string(status), observedAt.UTC())
		return errors.Wrapf(err, "update health for %s", id)
	})
}
