// Package app wires configuration, storage, the health scheduler and the
// HTTP server into a runnable process.
package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nexus/internal/config"
	"nexus/internal/health"
	"nexus/internal/metrics"
	"nexus/internal/models"
	"nexus/internal/probe"
	"nexus/internal/server"
	"nexus/internal/storage"
	"nexus/internal/timeseries"
)

// ShutdownTimeout bounds how long in-flight health checks may run after a
// shutdown signal.
const ShutdownTimeout = 15 * time.Second

// App owns every long-lived component of the backend.
type App struct {
	cfg       config.Config
	writes    *storage.WriteQueue
	pgPool    *pgxpool.Pool
	catalog   storage.Catalog
	sink      timeseries.Sink
	registry  *prometheus.Registry
	scheduler *health.Scheduler
}

// New builds the application from cfg. Configured services are upserted into
// the catalog so they are monitored from the first pass.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{
		cfg:      cfg,
		writes:   storage.NewWriteQueue(cfg.Database.WriteQueueSize),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.openCatalog(ctx); err != nil {
		a.Close()
		return nil, err
	}

	sink, err := timeseries.Open(ctx, cfg.TimeSeries, cfg.DataDirectory)
	switch {
	case errors.Is(err, timeseries.ErrUnavailable):
		log.WithError(err).Warn("Time-series backend unavailable, health history disabled")
		sink = timeseries.Noop{}
	case err != nil:
		a.Close()
		return nil, errors.Wrap(err, "open time-series backend")
	}
	a.sink = sink

	if err := a.seed(ctx, cfg.Services); err != nil {
		a.Close()
		return nil, err
	}

	m := metrics.New(a.registry)
	recorder := health.NewRecorder(a.catalog, a.sink, m)
	a.scheduler = health.New(health.Config{
		Interval:     cfg.Health.Interval(),
		Timeout:      cfg.Health.Timeout(),
		Concurrency:  cfg.Health.Concurrency,
		MaxQueueSize: cfg.Health.MaxQueueSize,
	}, a.catalog, probe.New(cfg.Health.UserAgent), recorder, m)
	return a, nil
}

func (a *App) openCatalog(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DatabasePostgres:
		pool, err := storage.OpenPostgres(ctx, a.cfg.Database.DSN, uint(a.cfg.Database.ConnectRetries), a.cfg.Database.ConnectDelay())
		if err != nil {
			return err
		}
		a.pgPool = pool
		catalog := storage.NewPostgresCatalog(pool, a.writes)
		if err := catalog.EnsureSchema(ctx); err != nil {
			return err
		}
		a.catalog = catalog
	default:
		catalog, err := storage.NewFileCatalog(filepath.Join(a.cfg.DataDirectory, "services.json"), a.writes)
		if err != nil {
			return errors.Wrap(err, "initialise service catalog")
		}
		a.catalog = catalog
	}
	return nil
}

func (a *App) seed(ctx context.Context, services []models.Service) error {
	for _, svc := range services {
		if err := a.catalog.UpsertService(ctx, svc); err != nil {
			return errors.Wrapf(err, "seed service %s", svc.ID)
		}
	}
	if len(services) > 0 {
		log.Infof("Loaded %d service(s) from configuration", len(services))
	}
	return nil
}

// Catalog returns the service catalog.
func (a *App) Catalog() storage.Catalog {
	return a.catalog
}

// Scheduler returns the health scheduler.
func (a *App) Scheduler() *health.Scheduler {
	return a.scheduler
}

// Serve starts the scheduler and the HTTP server and blocks until ctx is
// cancelled or the server fails. In-flight checks are given ShutdownTimeout
// to finish before Serve returns.
func (a *App) Serve(ctx context.Context, addr string) error {
	srv := server.New(addr, a.catalog, a.sink, a.scheduler, a.registry)
	a.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server shutdown")
		}
		return nil
	})
	err := g.Wait()

	a.scheduler.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if werr := a.scheduler.Wait(waitCtx); werr != nil {
		log.WithError(werr).Warn("Health checks still running at shutdown")
	}
	return err
}

// CheckOnce runs a single health check pass and returns the catalog as it
// stands afterwards.
func (a *App) CheckOnce(ctx context.Context) (health.CycleStats, []models.Service, error) {
	stats, err := a.scheduler.RunOnce(ctx)
	if err != nil {
		return stats, nil, err
	}
	services, err := a.catalog.ListServices(ctx)
	return stats, services, err
}

// Close releases storage in reverse order of acquisition. It is safe to call
// on a partially built App.
func (a *App) Close() {
	a.writes.Close()
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			log.WithError(err).Warn("Failed to close time-series backend")
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}
