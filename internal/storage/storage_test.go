package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/ocr-bench/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))
}

func TestConfigRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewConfigRepository(openTestDB(t))

	empty, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	cfg := domain.Configuration{
		"azure": {Enabled: true, APIKey: "k", Endpoint: "https://x.openai.azure.com", DeploymentName: "gpt4o"},
		"gcp":   {Enabled: false, ProjectID: "p"},
	}
	require.NoError(t, repo.Save(ctx, cfg))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	require.NoError(t, repo.Save(ctx, domain.Configuration{"tesseract": {Enabled: true, Languages: []string{"eng"}}}))
	got, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1, "save replaces the whole configuration")
	assert.Equal(t, []string{"eng"}, got["tesseract"].Languages)
}

func TestTaskRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = fixedClock(created)

	require.NoError(t, repo.Create(ctx, "run-1", domain.RunCreated, 0))

	rec, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCreated, rec.Status)
	assert.Zero(t, rec.Progress)
	assert.Nil(t, rec.Payload)
	assert.Equal(t, created, rec.CreatedAt)

	repo.now = fixedClock(created.Add(time.Minute))
	require.NoError(t, repo.Update(ctx, "run-1", domain.RunRunning, 40, nil))
	require.NoError(t, repo.Update(ctx, "run-1", domain.RunCompleted, 100, []byte(`{"ok":true}`)))
	require.NoError(t, repo.Update(ctx, "run-1", domain.RunCompleted, 100, nil))

	rec, err = repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Payload), "nil payload keeps the stored one")
	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, created.Add(time.Minute), rec.UpdatedAt)
}

func TestTaskRepositoryErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.Update(ctx, "missing", domain.RunRunning, 10, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Create(ctx, "dup", domain.RunCreated, 0))
	err = repo.Create(ctx, "dup", domain.RunCreated, 0)
	assert.True(t, domain.IsType(err, domain.ErrorTypeStorage))
}

func historyRecord(id string, at time.Time) domain.HistoryRecord {
	results := []domain.PageResult{
		{PageNumber: 1, Status: domain.StatusSuccess, Text: "hello", ResponseTime: 1.25, TokensUsed: 30, InputTokens: 20, OutputTokens: 10},
		{PageNumber: 2, Status: domain.StatusError, Error: "API returned status 500: boom", ResponseTime: 0.5},
	}
	return domain.HistoryRecord{
		RunID:        id,
		DocumentName: "invoice.pdf",
		Providers:    []string{"azure"},
		Results:      map[string][]domain.PageResult{"azure": results},
		Statistics: map[string]domain.RunStatistics{"azure": {
			Summary: domain.Summary{TotalPages: 2, SuccessfulPages: 1, FailedPages: 1, SuccessRate: 50},
			Errors: domain.ErrorSummary{TotalErrors: 1, ErrorDetails: []domain.ErrorDetail{
				{PageNumber: 2, Error: "API returned status 500: boom", Status: domain.StatusError},
			}},
		}},
		CreatedAt: at,
	}
}

func TestHistoryRepositoryAppendAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(openTestDB(t))
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of order; listing follows creation time.
	require.NoError(t, repo.Append(ctx, historyRecord("b", base.Add(time.Hour))))
	require.NoError(t, repo.Append(ctx, historyRecord("a", base)))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].RunID)
	assert.Equal(t, "b", all[1].RunID)
	assert.Equal(t, historyRecord("a", base), all[0])

	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1.25, got.Results["azure"][0].ResponseTime)

	_, err = repo.Get(ctx, "zzz")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.Append(ctx, historyRecord("a", base))
	assert.True(t, domain.IsType(err, domain.ErrorTypeStorage), "history is append-only")
}

func TestHistoryRepositoryEmpty(t *testing.T) {
	all, err := NewHistoryRepository(openTestDB(t)).ListAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestStatisticsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStatisticsRepository(openTestDB(t))

	azure := domain.AggregateStatistics{
		RunsCounted: 2,
		Summary:     domain.Summary{TotalPages: 4, SuccessfulPages: 3, FailedPages: 1, SuccessRate: 75},
		Errors:      domain.ErrorSummary{TotalErrors: 1, ErrorDetails: []domain.ErrorDetail{{RunID: "r2", PageNumber: 1, Error: "x", Status: domain.StatusError}}},
	}
	require.NoError(t, repo.Upsert(ctx, "azure", azure))

	azure.RunsCounted = 3
	require.NoError(t, repo.Upsert(ctx, "azure", azure))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, all["azure"].RunsCounted)
	assert.Equal(t, "azure", all["azure"].Provider)

	replacement := map[string]domain.AggregateStatistics{
		"gcp":       {Provider: "gcp", RunsCounted: 1, Errors: domain.ErrorSummary{ErrorDetails: []domain.ErrorDetail{}}},
		"tesseract": {Provider: "tesseract", Errors: domain.ErrorSummary{ErrorDetails: []domain.ErrorDetail{}}},
	}
	require.NoError(t, repo.ReplaceAll(ctx, replacement))

	all, err = repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement, all)
}

func TestStatisticsReplaceAllRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewStatisticsRepository(openTestDB(t))
	require.NoError(t, repo.Upsert(ctx, "azure", domain.AggregateStatistics{RunsCounted: 1}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, repo.ReplaceAll(cancelled, map[string]domain.AggregateStatistics{"gcp": {}}))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "azure")
	assert.NotContains(t, all, "gcp")
}
