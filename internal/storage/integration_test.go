//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical/ocr-bench/internal/config"
	"github.com/spherical/ocr-bench/internal/domain"
)

func TestPostgresStores(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("ocr_bench_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := Open(ctx, config.DatabaseConfig{
		Driver: "postgres",
		Postgres: config.PostgresConfig{
			DSN:          fmt.Sprintf("postgres://test:test@%s:%s/ocr_bench_test?sslmode=disable", host, port.Port()),
			MaxOpenConns: 4,
			MaxIdleConns: 2,
		},
	})
	require.NoError(t, err)
	defer db.Close()

	stores := NewStores(db)

	require.NoError(t, stores.Tasks.Create(ctx, "pg-run", domain.RunCreated, 0))
	require.NoError(t, stores.Tasks.Update(ctx, "pg-run", domain.RunCompleted, 100, []byte(`{"run_id":"pg-run"}`)))
	rec, err := stores.Tasks.Get(ctx, "pg-run")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, rec.Status)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, stores.History.Append(ctx, historyRecord("pg-run", base)))
	all, err := stores.History.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, historyRecord("pg-run", base), all[0])

	aggs := map[string]domain.AggregateStatistics{
		"azure": {Provider: "azure", RunsCounted: 1, Errors: domain.ErrorSummary{ErrorDetails: []domain.ErrorDetail{}}},
	}
	require.NoError(t, stores.Statistics.ReplaceAll(ctx, aggs))
	require.NoError(t, stores.Statistics.ReplaceAll(ctx, aggs))
	got, err := stores.Statistics.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, aggs, got)

	require.NoError(t, stores.Config.Save(ctx, domain.Configuration{"tesseract": {Enabled: true}}))
	cfg, err := stores.Config.Load(ctx)
	require.NoError(t, err)
	assert.True(t, cfg["tesseract"].Enabled)
}
