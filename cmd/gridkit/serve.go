package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/gridkit/internal/repository"
	"github.com/noah-isme/gridkit/internal/service"
	"github.com/noah-isme/gridkit/pkg/database"
	"github.com/noah-isme/gridkit/pkg/jobs"
	"github.com/noah-isme/gridkit/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve grids and export jobs over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	return cmd
}

// exportPipeline is the async export job machinery behind the HTTP surface.
type exportPipeline struct {
	service *service.ExportJobService
	queue   *jobs.Queue
}

func newExportPipeline(ctx context.Context, a *app) (*exportPipeline, error) {
	files, err := storage.NewLocalStorage(a.cfg.Exports.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("prepare export storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(a.cfg.Exports.SignedURLSecret, a.cfg.Exports.SignedURLTTL)

	var store service.ExportJobStore
	if a.cfg.Exports.PersistJobs {
		db, err := a.database(ctx)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(db); err != nil {
			return nil, err
		}
		store = repository.NewExportJobRepository(db)
	} else {
		store = repository.NewMemoryExportJobRepository()
	}

	jobCfg := service.ExportJobConfig{
		APIPrefix:       a.cfg.APIPrefix,
		ResultTTL:       a.cfg.Exports.SignedURLTTL,
		CleanupInterval: a.cfg.Exports.CleanupInterval,
		MaxRetries:      a.cfg.Exports.WorkerRetries,
	}
	worker := service.NewExportWorker(store, a.grids, a.exports, files, signer, jobCfg, a.logger)
	queue := jobs.NewQueue(jobs.TypeExport, worker.Handle, jobs.QueueConfig{
		Workers:    a.cfg.Exports.WorkerConcurrency,
		MaxRetries: a.cfg.Exports.WorkerRetries,
		Logger:     a.logger,
	})
	svc := service.NewExportJobService(store, a.grids, a.formats, queue, files, signer, a.validate, a.logger, jobCfg)
	return &exportPipeline{service: svc, queue: queue}, nil
}

func serve(ctx context.Context, a *app) error {
	pipeline, err := newExportPipeline(ctx, a)
	if err != nil {
		return err
	}
	pipeline.queue.Start(ctx)
	defer pipeline.queue.Stop()
	pipeline.service.RecoverPendingJobs(ctx)
	pipeline.service.StartCleanup(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           newRouter(a.cfg, a.logger, a.metrics, a.grids, pipeline.service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Sugar().Infow("server starting", "addr", srv.Addr, "env", a.cfg.Env, "grid_source", a.cfg.Grid.Source)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}
