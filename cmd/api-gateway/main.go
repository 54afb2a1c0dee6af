package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/ecosense/enviro-api/api/swagger"
	"github.com/ecosense/enviro-api/internal/handler"
	"github.com/ecosense/enviro-api/internal/middleware"
	"github.com/ecosense/enviro-api/internal/repository"
	"github.com/ecosense/enviro-api/internal/service"
	"github.com/ecosense/enviro-api/pkg/cache"
	"github.com/ecosense/enviro-api/pkg/config"
	"github.com/ecosense/enviro-api/pkg/database"
	"github.com/ecosense/enviro-api/pkg/jobs"
	"github.com/ecosense/enviro-api/pkg/logger"
	corsmiddleware "github.com/ecosense/enviro-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ecosense/enviro-api/pkg/middleware/requestid"
	"github.com/ecosense/enviro-api/pkg/random"
	"github.com/ecosense/enviro-api/pkg/storage"
)

// @title EnviroSense API
// @version 0.1.0
// @description Citizen environmental report validation pipeline
// @BasePath /
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.Connect(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, status cache disabled", "error", err)
			redisClient = nil
		}
	}

	reportRepo := repository.NewReportRepository(db)
	exportRepo := repository.NewExportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	policy := service.NewDecisionPolicy(cfg.Validation.VerifyProbability, random.TimeSeeded())
	rewards := service.NewRewardCalculator(cfg.Validation.BonusProbability, random.TimeSeeded())
	validationWorker := service.NewValidationWorker(reportRepo, policy, rewards, cacheRepo, metricsSvc, logr, cfg.Cache.StatusTTL)

	validationQueue := jobs.NewQueue("report-decisions", validationWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Validation.WorkerConcurrency,
		BufferSize: cfg.Validation.QueueBufferSize,
		Logger:     logr,
	})

	reportSvc := service.NewReportService(reportRepo, validationQueue, cacheRepo, metricsSvc, random.TimeSeeded(), logr, service.ReportServiceConfig{
		DelayMin:       cfg.Validation.DelayMin,
		DelayMax:       cfg.Validation.DelayMax,
		StatusCacheTTL: cfg.Cache.StatusTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	validationQueue.Start(ctx)
	defer validationQueue.Stop()

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		artifacts, err := storage.NewArtifactStore(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewTicketSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

		var exportQueue *jobs.Queue
		exportSvc = service.NewExportService(reportRepo, exportRepo, queueRef{queue: &exportQueue}, artifacts, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr, nil, nil)

		exportWorker := service.NewExportWorker(exportSvc, exportRepo, logr)
		exportQueue = jobs.NewQueue("verified-exports", exportWorker.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportQueue.Start(ctx)
		defer exportQueue.Stop()

		exportSvc.RecoverQueued(ctx)
		exportSvc.StartCleanup(ctx, cfg.Exports.CleanupInterval)
	}

	reportSvc.RecoverPendingDecisions(ctx)
	reportSvc.StartRecovery(ctx, cfg.Validation.RecoveryInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	reportHandler := handler.NewReportHandler(reportSvc)
	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/reports", reportHandler.Submit)
		api.GET("/reports/stats", reportHandler.Stats)
		api.GET("/reports/:id/status", reportHandler.Status)
	}

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		api.POST("/exports", exportHandler.Create)
		api.GET("/exports/:id", exportHandler.Status)
		api.GET("/export/:token", exportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

// queueRef defers enqueueing to a queue constructed after the service
// that schedules onto it (the export worker needs the service first).
type queueRef struct {
	queue **jobs.Queue
}

func (q queueRef) Enqueue(job jobs.Job) error {
	if q.queue == nil || *q.queue == nil {
		return fmt.Errorf("export queue not initialised")
	}
	return (*q.queue).Enqueue(job)
}
