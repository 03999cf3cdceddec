package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spherical/ocr-bench/internal/domain"
)

// Clock returns the current time; repositories default to time.Now.
type Clock func() time.Time

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// ConfigRepository stores one row per provider configuration.
type ConfigRepository struct {
	db  TxDB
	now Clock
}

// NewConfigRepository creates a new config repository.
func NewConfigRepository(db TxDB) *ConfigRepository {
	return &ConfigRepository{db: db, now: time.Now}
}

// Load returns the stored configuration, empty when nothing was saved.
func (r *ConfigRepository) Load(ctx context.Context) (domain.Configuration, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT provider, config FROM configurations ORDER BY provider`)
	if err != nil {
		return nil, domain.StorageError("load configuration", err)
	}
	defer rows.Close()

	cfg := domain.Configuration{}
	for rows.Next() {
		var (
			name string
			data []byte
			pc   domain.ProviderConfig
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, domain.StorageError("scan configuration", err)
		}
		if err := json.Unmarshal(data, &pc); err != nil {
			return nil, domain.StorageError(fmt.Sprintf("decode configuration for %s", name), err)
		}
		cfg[name] = pc
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("load configuration", err)
	}
	return cfg, nil
}

// Save replaces the whole stored configuration.
func (r *ConfigRepository) Save(ctx context.Context, cfg domain.Configuration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM configurations`); err != nil {
		return domain.StorageError("clear configuration", err)
	}

	now := unixNano(r.now())
	for name, pc := range cfg {
		data, err := json.Marshal(pc)
		if err != nil {
			return domain.StorageError(fmt.Sprintf("encode configuration for %s", name), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO configurations (provider, config, updated_at) VALUES ($1, $2, $3)`,
			name, string(data), now,
		); err != nil {
			return domain.StorageError(fmt.Sprintf("save configuration for %s", name), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageError("commit configuration", err)
	}
	return nil
}

// TaskRepository keeps the pollable run records.
type TaskRepository struct {
	db  DB
	now Clock
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db DB) *TaskRepository {
	return &TaskRepository{db: db, now: time.Now}
}

// Create inserts a new run record.
func (r *TaskRepository) Create(ctx context.Context, runID string, status domain.RunStatus, progress int) error {
	now := unixNano(r.now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_store (run_id, status, progress, payload, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, $4, $5)
	`, runID, string(status), progress, now, now)
	if err != nil {
		return domain.StorageError(fmt.Sprintf("create run %s", runID), err)
	}
	return nil
}

// Update sets the status and progress of a run. A nil payload keeps the
// stored one.
func (r *TaskRepository) Update(ctx context.Context, runID string, status domain.RunStatus, progress int, payload []byte) error {
	var (
		res sql.Result
		err error
	)
	now := unixNano(r.now())
	if payload == nil {
		res, err = r.db.ExecContext(ctx,
			`UPDATE task_store SET status = $1, progress = $2, updated_at = $3 WHERE run_id = $4`,
			string(status), progress, now, runID)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE task_store SET status = $1, progress = $2, payload = $3, updated_at = $4 WHERE run_id = $5`,
			string(status), progress, string(payload), now, runID)
	}
	if err != nil {
		return domain.StorageError(fmt.Sprintf("update run %s", runID), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return domain.StorageError(fmt.Sprintf("update run %s", runID), err)
	}
	if n == 0 {
		return domain.NotFoundError(fmt.Sprintf("run %s not found", runID))
	}
	return nil
}

// Get returns a run record.
func (r *TaskRepository) Get(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var (
		rec       domain.RunRecord
		status    string
		payload   []byte
		createdAt int64
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT run_id, status, progress, payload, created_at, updated_at
		FROM task_store WHERE run_id = $1
	`, runID).Scan(&rec.RunID, &status, &rec.Progress, &payload, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError(fmt.Sprintf("run %s not found", runID))
	}
	if err != nil {
		return nil, domain.StorageError(fmt.Sprintf("get run %s", runID), err)
	}

	rec.Status = domain.RunStatus(status)
	if len(payload) > 0 {
		rec.Payload = json.RawMessage(payload)
	}
	rec.CreatedAt = fromUnixNano(createdAt)
	rec.UpdatedAt = fromUnixNano(updatedAt)
	return &rec, nil
}

// HistoryRepository is the append-only log of completed runs.
type HistoryRepository struct {
	db DB
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append stores a completed run. Appending the same run twice fails.
func (r *HistoryRepository) Append(ctx context.Context, rec domain.HistoryRecord) error {
	providers, err := json.Marshal(rec.Providers)
	if err != nil {
		return domain.StorageError("encode providers", err)
	}
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return domain.StorageError("encode results", err)
	}
	statistics, err := json.Marshal(rec.Statistics)
	if err != nil {
		return domain.StorageError("encode statistics", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO test_history (run_id, document_name, providers, results, statistics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.RunID, rec.DocumentName, string(providers), string(results), string(statistics), unixNano(createdAt))
	if err != nil {
		return domain.StorageError(fmt.Sprintf("append run %s", rec.RunID), err)
	}
	return nil
}

const historyColumns = `run_id, document_name, providers, results, statistics, created_at`

// ListAll returns every stored run, oldest first.
func (r *HistoryRepository) ListAll(ctx context.Context) ([]domain.HistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM test_history ORDER BY created_at, run_id`)
	if err != nil {
		return nil, domain.StorageError("list history", err)
	}
	defer rows.Close()

	history := []domain.HistoryRecord{}
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list history", err)
	}
	return history, nil
}

// Get returns one stored run.
func (r *HistoryRepository) Get(ctx context.Context, runID string) (*domain.HistoryRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM test_history WHERE run_id = $1`, runID)
	rec, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError(fmt.Sprintf("history for run %s not found", runID))
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHistory(s scanner) (domain.HistoryRecord, error) {
	var (
		rec        domain.HistoryRecord
		providers  []byte
		results    []byte
		statistics []byte
		createdAt  int64
	)
	if err := s.Scan(&rec.RunID, &rec.DocumentName, &providers, &results, &statistics, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, domain.StorageError("scan history", err)
	}
	if err := json.Unmarshal(providers, &rec.Providers); err != nil {
		return rec, domain.StorageError(fmt.Sprintf("decode providers of run %s", rec.RunID), err)
	}
	if err := json.Unmarshal(results, &rec.Results); err != nil {
		return rec, domain.StorageError(fmt.Sprintf("decode results of run %s", rec.RunID), err)
	}
	if err := json.Unmarshal(statistics, &rec.Statistics); err != nil {
		return rec, domain.StorageError(fmt.Sprintf("decode statistics of run %s", rec.RunID), err)
	}
	rec.CreatedAt = fromUnixNano(createdAt)
	return rec, nil
}

// StatisticsRepository holds one aggregate row per provider.
type StatisticsRepository struct {
	db  TxDB
	now Clock
}

// NewStatisticsRepository creates a new statistics repository.
func NewStatisticsRepository(db TxDB) *StatisticsRepository {
	return &StatisticsRepository{db: db, now: time.Now}
}

const upsertStatistics = `
	INSERT INTO statistics (provider, runs_counted, data, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (provider) DO UPDATE SET
		runs_counted = excluded.runs_counted,
		data = excluded.data,
		updated_at = excluded.updated_at
`

// Upsert writes one provider's aggregate.
func (r *StatisticsRepository) Upsert(ctx context.Context, provider string, agg domain.AggregateStatistics) error {
	return upsertAggregate(ctx, r.db, provider, agg, unixNano(r.now()))
}

func upsertAggregate(ctx context.Context, db DB, provider string, agg domain.AggregateStatistics, now int64) error {
	agg.Provider = provider
	data, err := json.Marshal(agg)
	if err != nil {
		return domain.StorageError(fmt.Sprintf("encode statistics for %s", provider), err)
	}
	if _, err := db.ExecContext(ctx, upsertStatistics, provider, agg.RunsCounted, string(data), now); err != nil {
		return domain.StorageError(fmt.Sprintf("upsert statistics for %s", provider), err)
	}
	return nil
}

// GetAll returns every stored aggregate keyed by provider.
func (r *StatisticsRepository) GetAll(ctx context.Context) (map[string]domain.AggregateStatistics, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT provider, data FROM statistics ORDER BY provider`)
	if err != nil {
		return nil, domain.StorageError("load statistics", err)
	}
	defer rows.Close()

	out := map[string]domain.AggregateStatistics{}
	for rows.Next() {
		var (
			name string
			data []byte
			agg  domain.AggregateStatistics
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, domain.StorageError("scan statistics", err)
		}
		if err := json.Unmarshal(data, &agg); err != nil {
			return nil, domain.StorageError(fmt.Sprintf("decode statistics for %s", name), err)
		}
		out[name] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("load statistics", err)
	}
	return out, nil
}

// ReplaceAll swaps every stored aggregate for aggs in a single transaction.
// Readers see either the old set or the new one.
func (r *StatisticsRepository) ReplaceAll(ctx context.Context, aggs map[string]domain.AggregateStatistics) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM statistics`); err != nil {
		return domain.StorageError("clear statistics", err)
	}

	now := unixNano(r.now())
	for name, agg := range aggs {
		if err := upsertAggregate(ctx, tx, name, agg, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageError("commit statistics", err)
	}
	return nil
}

// Stores bundles the repositories backed by one database.
type Stores struct {
	Config     *ConfigRepository
	Tasks      *TaskRepository
	History    *HistoryRepository
	Statistics *StatisticsRepository
}

// NewStores creates every repository on db.
func NewStores(db TxDB) *Stores {
	return &Stores{
		Config:     NewConfigRepository(db),
		Tasks:      NewTaskRepository(db),
		History:    NewHistoryRepository(db),
		Statistics: NewStatisticsRepository(db),
	}
}

var (
	_ domain.ConfigStore     = (*ConfigRepository)(nil)
	_ domain.TaskStore       = (*TaskRepository)(nil)
	_ domain.HistoryStore    = (*HistoryRepository)(nil)
	_ domain.StatisticsStore = (*StatisticsRepository)(nil)
)
