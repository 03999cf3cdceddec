package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/spherical/ocr-bench/internal/api"
	"github.com/spherical/ocr-bench/internal/orchestrator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := orchestrator.NewJobs(a.orch)
	router := api.NewRouter(api.Deps{
		Logger:         a.logger,
		Orchestrator:   a.orch,
		Jobs:           jobs,
		Registry:       a.registry,
		Config:         a.stores.Config,
		Tasks:          a.stores.Tasks,
		History:        a.stores.History,
		Statistics:     a.stores.Statistics,
		Cache:          a.cache,
		Metrics:        a.metrics.Handler(),
		MetricsPath:    a.cfg.Observability.MetricsPath,
		RequestTimeout: a.cfg.Server.WriteTimeout,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("runs still in flight at shutdown")
	}

	a.logger.Info().Msg("server stopped")
	return nil
}
