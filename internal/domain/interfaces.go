package domain

import "context"

// Document is an opened source document
type Document interface {
	// PageCount returns the number of pages, numbered 1..PageCount
	PageCount() int

	// Page extracts the content of one 1-based page
	Page(ctx context.Context, pageNumber int) (PageContent, error)

	Close() error
}

// DocumentSource opens documents by path
type DocumentSource interface {
	// Open fails with a DocumentError when the document is unreadable
	Open(ctx context.Context, path string) (Document, error)
}

// ConfigStore persists the provider configuration
type ConfigStore interface {
	Load(ctx context.Context) (Configuration, error)
	Save(ctx context.Context, cfg Configuration) error
}

// TaskStore keeps the pollable state of runs
type TaskStore interface {
	Create(ctx context.Context, runID string, status RunStatus, progress int) error
	Update(ctx context.Context, runID string, status RunStatus, progress int, payload []byte) error
	Get(ctx context.Context, runID string) (*RunRecord, error)
}

// HistoryStore is the append-only log of completed runs
type HistoryStore interface {
	Append(ctx context.Context, rec HistoryRecord) error
	// ListAll returns every run in creation order
	ListAll(ctx context.Context) ([]HistoryRecord, error)
	Get(ctx context.Context, runID string) (*HistoryRecord, error)
}

// StatisticsStore holds the per-provider lifetime aggregates
type StatisticsStore interface {
	Upsert(ctx context.Context, provider string, agg AggregateStatistics) error
	GetAll(ctx context.Context) (map[string]AggregateStatistics, error)
	// ReplaceAll swaps the stored aggregates for aggs in one transaction
	ReplaceAll(ctx context.Context, aggs map[string]AggregateStatistics) error
}
