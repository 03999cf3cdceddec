package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spherical/ocr-bench/internal/cache"
	"github.com/spherical/ocr-bench/internal/config"
	"github.com/spherical/ocr-bench/internal/extract"
	"github.com/spherical/ocr-bench/internal/llm"
	"github.com/spherical/ocr-bench/internal/metrics"
	"github.com/spherical/ocr-bench/internal/observability"
	"github.com/spherical/ocr-bench/internal/orchestrator"
	"github.com/spherical/ocr-bench/internal/pdf"
	"github.com/spherical/ocr-bench/internal/provider"
	"github.com/spherical/ocr-bench/internal/storage"
)

// app is the wired service stack shared by every command.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	db       *sql.DB
	stores   *storage.Stores
	cache    cache.Client
	registry *provider.Registry
	metrics  *metrics.Collector
	orch     *orchestrator.Orchestrator
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		Output:      os.Stderr,
		ServiceName: "ocr-bench",
	})

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cacheClient, locker, err := cache.New(cfg.Cache)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	stores := storage.NewStores(db)
	if err := seedConfiguration(ctx, stores, cfg, logger); err != nil {
		cacheClient.Close()
		db.Close()
		return nil, err
	}

	collector := metrics.NewCollector()
	registry := provider.NewRegistry()

	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = cfg.Pipeline.MaxRetries

	source := pdf.NewSource(pdf.SourceConfig{
		Mode:    cfg.Pipeline.ContentMode,
		Quality: cfg.Pipeline.RenderQuality,
		DPI:     cfg.Pipeline.RenderDPI,
	}, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Registry:   registry,
		Source:     source,
		Processor:  extract.NewProcessor(cfg.Pipeline.PagePause, logger, extract.WithRecorder(collector)),
		Config:     stores.Config,
		Tasks:      stores.Tasks,
		History:    stores.History,
		Statistics: stores.Statistics,
		Cache:      cacheClient,
		Locker:     locker,
		Metrics:    collector,
		Logger:     logger,
		ProviderOptions: provider.Options{
			Retry:   retry,
			Timeout: cfg.Pipeline.ProviderTimeout,
			Logger:  logger,
		},
		StatsTTL: cfg.Cache.StatsTTL,
		LockTTL:  cfg.Cache.LockTTL,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		stores:   stores,
		cache:    cacheClient,
		registry: registry,
		metrics:  collector,
		orch:     orch,
	}, nil
}

// seedConfiguration stores providers from the config file and environment
// when the store holds none yet. Once saved, the store is authoritative.
func seedConfiguration(ctx context.Context, stores *storage.Stores, cfg *config.Config, logger *observability.Logger) error {
	if len(cfg.Providers) == 0 {
		return nil
	}
	current, err := stores.Config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load stored configuration: %w", err)
	}
	if len(current) > 0 {
		return nil
	}
	if err := stores.Config.Save(ctx, cfg.Providers); err != nil {
		return fmt.Errorf("seed configuration: %w", err)
	}
	logger.Info().Int("providers", len(cfg.Providers)).Msg("seeded provider configuration")
	return nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close cache")
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close database")
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
