package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/models"
)

// Runs against a real database when NEXUS_TEST_POSTGRES_DSN is set.
func withPostgresCatalog(t *testing.T, action func(ctx context.Context, c *PostgresCatalog)) {
	dsn := os.Getenv("NEXUS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NEXUS_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := OpenPostgres(ctx, dsn, 3, 500*time.Millisecond)
	require.NoError(t, err)
	defer pool.Close()

	writes := NewWriteQueue(10)
	defer writes.Close()

	catalog := NewPostgresCatalog(pool, writes)
	require.NoError(t, catalog.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE `+servicesTable)
	require.NoError(t, err)

	action(ctx, catalog)
}

func TestPostgresCatalog_RoundTrip(t *testing.T) {
	withPostgresCatalog(t, func(ctx context.Context, c *PostgresCatalog) {
		require.NoError(t, c.UpsertService(ctx, models.Service{ID: "svc1", Name: "One", URL: "http://one", CheckHealth: true}))
		require.NoError(t, c.UpsertService(ctx, models.Service{ID: "svc2", Name: "Two", URL: "http://two"}))

		monitored, err := c.ListMonitoredEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"svc1"}, ids(monitored))

		observed := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, c.SetLatestStatus(ctx, "svc1", models.StatusOnline, observed))
		require.NoError(t, c.SetLatestStatus(ctx, "missing", models.StatusOnline, observed))

		all, err := c.ListServices(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, models.StatusOnline, all[0].HealthStatus)
		require.NotNil(t, all[0].LastChecked)
		assert.WithinDuration(t, observed, *all[0].LastChecked, time.Millisecond)
		assert.Equal(t, models.StatusUnknown, all[1].HealthStatus)

		require.NoError(t, c.DeleteService(ctx, "svc2"))
		assert.ErrorIs(t, c.DeleteService(ctx, "svc2"), ErrServiceNotFound)
	})
}
