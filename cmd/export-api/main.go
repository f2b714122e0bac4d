package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/checkup-export-api/api/swagger"
	"github.com/noah-isme/checkup-export-api/internal/handler"
	"github.com/noah-isme/checkup-export-api/internal/repository"
	"github.com/noah-isme/checkup-export-api/internal/service"
	"github.com/noah-isme/checkup-export-api/pkg/cache"
	"github.com/noah-isme/checkup-export-api/pkg/config"
	"github.com/noah-isme/checkup-export-api/pkg/database"
	"github.com/noah-isme/checkup-export-api/pkg/export"
	"github.com/noah-isme/checkup-export-api/pkg/jobs"
	"github.com/noah-isme/checkup-export-api/pkg/logger"
	"github.com/noah-isme/checkup-export-api/pkg/storage"
)

// @title Check-up Export API
// @version 1.0.0
// @description Exports industrial check-ups as PDF documents, text reports, CSV listings and photo folders.
// @BasePath /api/v1
// @schemes http

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()
	var readiness []func() error

	var jobStore service.ExportJobStore = repository.NewMemoryExportJobRepository()
	if cfg.EnableJobStore {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		jobStore = repository.NewExportJobRepository(db).WithMetrics(metrics)
		readiness = append(readiness, pingDB(db))
		logr.Sugar().Infow("job store enabled", "driver", "postgres", "host", cfg.Database.Host)
	}

	var redisClient *redis.Client
	if cfg.EnableStatusCache {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("status cache disabled", "error", err)
		} else {
			redisClient = client
			defer redisClient.Close()
			readiness = append(readiness, pingRedis(redisClient))
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, "checkup-export:", logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.StatusCacheTTL, logr, redisClient != nil)

	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return fmt.Errorf("init export storage: %w", err)
	}
	signer := storage.NewDownloadSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	engine := service.NewExportService(service.ExportConfig{
		PhotoWorkers:    cfg.Exports.PhotoWorkers,
		SafetyFactor:    cfg.Exports.SafetyFactor,
		DefaultQuality:  cfg.Exports.DefaultQuality,
		DefaultMaxWidth: cfg.Exports.DefaultMaxWidth,
		TemplateDir:     cfg.Exports.TemplateDir,
	}, export.NewStorageBudgeter(cfg.Exports.SafetyFactor), metrics, logr)

	worker := service.NewExportWorker(jobStore, engine, store, cacheSvc, logr)
	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	jobSvc := service.NewExportJobService(jobStore, queue, worker, store, signer, cacheSvc, logr, service.ExportJobConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.ResultTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		StatusCacheTTL:  cfg.StatusCacheTTL,
	})
	jobSvc.RecoverPendingJobs(ctx)
	jobSvc.StartCleanup(ctx)

	router := newRouter(routerDeps{
		cfg:     cfg,
		logger:  logr,
		metrics: metrics,
		exports: handler.NewExportHandler(jobSvc),
		ready:   allReady(readiness),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", store.BaseDir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func pingDB(db *sqlx.DB) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}

func pingRedis(client *redis.Client) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}

func allReady(checks []func() error) func() error {
	return func() error {
		for _, check := range checks {
			if err := check(); err != nil {
				return err
			}
		}
		return nil
	}
}
