// Package orchestrator runs benchmark jobs: it resolves providers, fans a
// document out to them, persists the outcome and keeps provider aggregates
// current.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/ocr-bench/internal/cache"
	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/extract"
	"github.com/spherical/ocr-bench/internal/observability"
	"github.com/spherical/ocr-bench/internal/provider"
	"github.com/spherical/ocr-bench/internal/stats"
)

// RecomputeLock is the lock name guarding the aggregate write.
const RecomputeLock = "aggregate:recompute"

// ErrRunCancelled marks a run stopped through its context.
var ErrRunCancelled = errors.New("run cancelled")

// Deps are the collaborators an Orchestrator needs. Config may be nil when
// every request carries its own configuration; Cache, Locker and Metrics may
// be nil.
type Deps struct {
	Registry   *provider.Registry
	Source     domain.DocumentSource
	Processor  *extract.Processor
	Config     domain.ConfigStore
	Tasks      domain.TaskStore
	History    domain.HistoryStore
	Statistics domain.StatisticsStore
	Cache      cache.Client
	Locker     cache.Locker
	Metrics    RunObserver
	Logger     *observability.Logger

	// ProviderOptions is passed to every provider build
	ProviderOptions provider.Options

	// StatsTTL bounds how long the latest run statistics stay cached
	StatsTTL time.Duration

	// LockTTL bounds how long a crashed holder can block a recompute
	LockTTL time.Duration
}

// modeReporter is implemented by sources that know what content they produce.
type modeReporter interface {
	Mode() domain.ContentMode
}

// RunObserver is notified of run lifecycle changes, e.g. for metrics export.
type RunObserver interface {
	RunStarted()
	RunFinished(status domain.RunStatus)
	AggregateRecomputed(err error)
}

// RunRequest describes one benchmark run.
type RunRequest struct {
	// RunID is generated when empty
	RunID        string
	DocumentPath string
	// DocumentName defaults to the base name of DocumentPath
	DocumentName string
	// Providers selects providers by name; empty means every enabled one
	Providers []string
	// Configuration overrides the stored configuration when non-nil
	Configuration domain.Configuration

	OnProgress func(pct int)
	OnStatus   func(status domain.RunStatus)
	Events     chan<- domain.StreamEvent
}

// RunOutcome is the final state of a run. It is also the payload stored in
// the task store.
type RunOutcome struct {
	RunID            string                          `json:"run_id"`
	Status           domain.RunStatus                `json:"status"`
	DocumentName     string                          `json:"document_name"`
	Providers        []string                        `json:"providers"`
	Results          map[string][]domain.PageResult  `json:"results,omitempty"`
	Statistics       map[string]domain.RunStatistics `json:"statistics,omitempty"`
	ConfigErrors     map[string]string               `json:"config_errors,omitempty"`
	ContentMode      domain.ContentMode              `json:"content_mode,omitempty"`
	Error            string                          `json:"error,omitempty"`
	AggregationError string                          `json:"aggregation_error,omitempty"`
	StartedAt        time.Time                       `json:"started_at"`
	FinishedAt       time.Time                       `json:"finished_at"`
}

// Orchestrator drives runs through created, running and a terminal state.
type Orchestrator struct {
	deps   Deps
	logger *observability.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the uuid run id generator.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// New creates an orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	if deps.Registry == nil {
		deps.Registry = provider.NewRegistry()
	}
	if deps.Processor == nil {
		deps.Processor = extract.NewProcessor(extract.DefaultPagePause, deps.Logger)
	}
	if deps.Locker == nil {
		deps.Locker = cache.NewMemoryLocker()
	}
	if deps.StatsTTL <= 0 {
		deps.StatsTTL = time.Hour
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	o := &Orchestrator{
		deps:   deps,
		logger: logger.WithComponent("orchestrator"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries the mutable state of one Run call.
type run struct {
	req      RunRequest
	outcome  *RunOutcome
	progress *progressCell
	logger   *observability.Logger
}

// Run executes one benchmark synchronously. The returned outcome is never
// nil. The error is non-nil exactly when the run ends failed.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	if req.RunID == "" {
		req.RunID = o.newID()
	}
	ctx = observability.ContextWithRunID(ctx, req.RunID)

	name := req.DocumentName
	if name == "" {
		name = filepath.Base(req.DocumentPath)
	}

	r := &run{
		req: req,
		outcome: &RunOutcome{
			RunID:        req.RunID,
			Status:       domain.RunCreated,
			DocumentName: name,
			StartedAt:    o.now(),
		},
		logger: o.logger.WithContext(ctx),
	}
	r.progress = newProgressCell(func(pct int) {
		o.updateTask(ctx, r, domain.RunRunning, pct, nil)
		if req.OnProgress != nil {
			req.OnProgress(pct)
		}
	})

	if o.deps.Tasks != nil {
		if err := o.deps.Tasks.Create(ctx, req.RunID, domain.RunCreated, 0); err != nil {
			r.outcome.Status = domain.RunFailed
			r.outcome.Error = err.Error()
			r.outcome.FinishedAt = o.now()
			return r.outcome, err
		}
	}
	o.setStatus(r, domain.RunCreated)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RunStarted()
	}

	adapters, err := o.resolveProviders(ctx, r)
	if err != nil {
		return o.fail(ctx, r, err)
	}
	defer closeAdapters(adapters, r.logger)

	if src, ok := o.deps.Source.(modeReporter); ok {
		r.outcome.ContentMode = src.Mode()
		if r.outcome.ContentMode == domain.ContentText {
			for _, name := range provider.SortedNames(adapters) {
				r.logger.Warn().Str("provider", name).Msg("text mode: provider receives the page text layer, not the rendered page")
			}
		}
	}

	doc, err := o.deps.Source.Open(ctx, req.DocumentPath)
	if err != nil {
		if !domain.IsType(err, domain.ErrorTypeDocument) {
			err = domain.DocumentError("failed to open document", err)
		}
		r.outcome.Results = map[string][]domain.PageResult{}
		for name := range adapters {
			r.outcome.Results[name] = []domain.PageResult{extract.DocumentFailure(err)}
		}
		return o.fail(ctx, r, err)
	}
	defer doc.Close()

	o.setStatus(r, domain.RunRunning)
	o.updateTask(ctx, r, domain.RunRunning, 0, nil)

	results := o.fanOut(ctx, r, doc, adapters)
	r.outcome.Results = results

	if ctx.Err() != nil {
		return o.fail(ctx, r, ErrRunCancelled)
	}

	r.outcome.Statistics = make(map[string]domain.RunStatistics, len(adapters))
	for name, adapter := range adapters {
		r.outcome.Statistics[name] = stats.CalculateStatistics(results[name], adapter.Metrics())
	}

	if o.deps.History != nil {
		err := o.deps.History.Append(ctx, domain.HistoryRecord{
			RunID:        req.RunID,
			DocumentName: name,
			Providers:    r.outcome.Providers,
			Results:      results,
			Statistics:   r.outcome.Statistics,
			CreatedAt:    o.now(),
		})
		if err != nil {
			return o.fail(ctx, r, err)
		}
	}

	o.cacheLatest(ctx, r)

	if _, err := o.RecomputeAggregates(ctx); err != nil {
		r.logger.Error().Err(err).Msg("aggregate recompute failed after run")
		r.outcome.AggregationError = err.Error()
	}

	return o.complete(ctx, r), nil
}

// resolveProviders builds the selected providers. Invalid ones are recorded
// and skipped; the run fails only when none remain.
func (o *Orchestrator) resolveProviders(ctx context.Context, r *run) (map[string]*provider.Adapter, error) {
	cfg := r.req.Configuration
	if cfg == nil {
		if o.deps.Config == nil {
			return nil, domain.ConfigurationError("no configuration available", nil)
		}
		loaded, err := o.deps.Config.Load(ctx)
		if err != nil {
			return nil, domain.ConfigurationError("failed to load configuration", err)
		}
		cfg = loaded
	}

	opts := o.deps.ProviderOptions
	if opts.Logger == nil {
		opts.Logger = r.logger
	}

	adapters, failures := o.deps.Registry.BuildAll(cfg, r.req.Providers, opts)
	if len(failures) > 0 {
		r.outcome.ConfigErrors = make(map[string]string, len(failures))
		for name, err := range failures {
			r.outcome.ConfigErrors[name] = err.Error()
			r.logger.Warn().Str("provider", name).Err(err).Msg("provider skipped")
		}
	}

	r.outcome.Providers = provider.SortedNames(adapters)
	if len(adapters) == 0 {
		return nil, domain.ConfigurationError("no enabled and valid provider", nil)
	}
	return adapters, nil
}

// fanOut runs every provider over doc concurrently. Pages within one
// provider stay sequential.
func (o *Orchestrator) fanOut(ctx context.Context, r *run, doc domain.Document, adapters map[string]*provider.Adapter) map[string][]domain.PageResult {
	counter := &pageCounter{
		total: int64(len(adapters) * doc.PageCount()),
		cell:  r.progress,
	}

	var mu sync.Mutex
	results := make(map[string][]domain.PageResult, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range provider.SortedNames(adapters) {
		adapter := adapters[name]
		g.Go(func() error {
			res := o.deps.Processor.Process(gctx, doc, adapter, func(done, total int) {
				counter.pageDone()
			}, r.req.Events)

			mu.Lock()
			results[adapter.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) cacheLatest(ctx context.Context, r *run) {
	if o.deps.Cache == nil {
		return
	}
	key := cache.LatestStatsKey(r.req.RunID)
	if err := cache.SetJSON(ctx, o.deps.Cache, key, r.outcome.Statistics, o.deps.StatsTTL); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to cache latest statistics")
	}
}

// RecomputeAggregates rebuilds every provider aggregate from the full history
// and atomically replaces the stored set. Concurrent callers are serialized.
func (o *Orchestrator) RecomputeAggregates(ctx context.Context) (map[string]domain.AggregateStatistics, error) {
	aggs, err := o.recompute(ctx)
	if o.deps.Metrics != nil {
		o.deps.Metrics.AggregateRecomputed(err)
	}
	return aggs, err
}

func (o *Orchestrator) recompute(ctx context.Context) (map[string]domain.AggregateStatistics, error) {
	if o.deps.History == nil || o.deps.Statistics == nil {
		return nil, domain.AggregationError("history and statistics stores are required", nil)
	}

	release, err := o.deps.Locker.Acquire(ctx, RecomputeLock, o.deps.LockTTL)
	if err != nil {
		return nil, domain.AggregationError("failed to acquire recompute lock", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn().Err(err).Msg("failed to release recompute lock")
		}
	}()

	history, err := o.deps.History.ListAll(ctx)
	if err != nil {
		return nil, domain.AggregationError("failed to read history", err)
	}

	aggs, err := stats.Aggregate(history, o.deps.Registry.Names())
	if err != nil {
		return nil, err
	}

	if err := o.deps.Statistics.ReplaceAll(ctx, aggs); err != nil {
		return nil, domain.AggregationError("failed to store aggregates", err)
	}

	o.logger.Debug().Int("runs", len(history)).Int("providers", len(aggs)).Msg("aggregates recomputed")
	return aggs, nil
}

func (o *Orchestrator) complete(ctx context.Context, r *run) *RunOutcome {
	r.outcome.Status = domain.RunCompleted
	r.outcome.FinishedAt = o.now()
	r.progress.Advance(100)
	o.updateTask(ctx, r, domain.RunCompleted, 100, r.outcome)
	o.setStatus(r, domain.RunCompleted)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RunFinished(domain.RunCompleted)
	}

	r.logger.Info().
		Strs("providers", r.outcome.Providers).
		Dur("elapsed", r.outcome.FinishedAt.Sub(r.outcome.StartedAt)).
		Msg("run completed")
	return r.outcome
}

func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) (*RunOutcome, error) {
	r.outcome.Status = domain.RunFailed
	r.outcome.Error = cause.Error()
	r.outcome.FinishedAt = o.now()
	o.updateTask(context.WithoutCancel(ctx), r, domain.RunFailed, r.progress.Load(), r.outcome)
	o.setStatus(r, domain.RunFailed)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RunFinished(domain.RunFailed)
	}

	r.logger.Error().Err(cause).Msg("run failed")
	return r.outcome, cause
}

func (o *Orchestrator) setStatus(r *run, status domain.RunStatus) {
	r.outcome.Status = status
	if r.req.OnStatus != nil {
		r.req.OnStatus(status)
	}
}

// updateTask mirrors run state into the task store. Store failures are
// logged; they never change the run's outcome.
func (o *Orchestrator) updateTask(ctx context.Context, r *run, status domain.RunStatus, pct int, outcome *RunOutcome) {
	if o.deps.Tasks == nil {
		return
	}

	var payload []byte
	if outcome != nil {
		data, err := json.Marshal(outcome)
		if err != nil {
			r.logger.Warn().Err(err).Msg("failed to encode run payload")
		} else {
			payload = data
		}
	}

	if err := o.deps.Tasks.Update(ctx, r.req.RunID, status, pct, payload); err != nil {
		r.logger.Warn().Err(err).Str("status", string(status)).Msg("failed to update run record")
	}
}

func closeAdapters(adapters map[string]*provider.Adapter, logger *observability.Logger) {
	for name, a := range adapters {
		if err := a.Close(); err != nil {
			logger.Warn().Str("provider", name).Err(err).Msg("failed to close provider")
		}
	}
}

// Describe renders a one-line summary of an outcome for logs and the CLI.
func Describe(out *RunOutcome) string {
	if out == nil {
		return ""
	}
	if out.Status == domain.RunFailed {
		return fmt.Sprintf("run %s failed: %s", out.RunID, out.Error)
	}
	return fmt.Sprintf("run %s %s with %d provider(s)", out.RunID, out.Status, len(out.Providers))
}
