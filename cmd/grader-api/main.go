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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/gradekit/gradekit-api/api/swagger"
	"github.com/gradekit/gradekit-api/internal/grader"
	"github.com/gradekit/gradekit-api/internal/handler"
	"github.com/gradekit/gradekit-api/internal/middleware"
	"github.com/gradekit/gradekit-api/internal/repository"
	"github.com/gradekit/gradekit-api/internal/service"
	"github.com/gradekit/gradekit-api/pkg/cache"
	"github.com/gradekit/gradekit-api/pkg/config"
	"github.com/gradekit/gradekit-api/pkg/database"
	"github.com/gradekit/gradekit-api/pkg/jobs"
	"github.com/gradekit/gradekit-api/pkg/logger"
	corsmiddleware "github.com/gradekit/gradekit-api/pkg/middleware/cors"
	reqidmiddleware "github.com/gradekit/gradekit-api/pkg/middleware/requestid"
	"github.com/gradekit/gradekit-api/pkg/storage"
)

// @title GradeKit API
// @version 0.1.0
// @description AI-assisted grading backend: archive ingestion, extraction, grading, review, export
// @BasePath /api/v1
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Redis only backs the wizard session cache; the service degrades to
		// an empty session without it.
		logr.Sugar().Warnw("redis unavailable, session cache disabled", "error", err)
		redisClient = nil
	}

	uploadsFS, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	exportsFS, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	runRepo := repository.NewRunRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	metricsSvc := service.NewMetricsService()
	pipelineSvc := service.NewPipelineService(grader.NewClient(cfg.Grader), metricsSvc, cfg.Pipeline, logr)
	uploadSvc := service.NewUploadService(uploadsFS, cfg.Uploads, logr)
	exportSvc := service.NewExportService(exportsFS, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr, nil, nil)
	sessionSvc := service.NewSessionService(cacheRepo, cfg.Session, logr)

	// The queue handler and the run service reference each other, so the
	// queue is built around a late-bound pointer.
	var runSvc *service.RunService
	queue := jobs.NewQueue("grading_runs", func(ctx context.Context, job jobs.Job) error {
		return runSvc.Handle(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Pipeline.FolderConcurrency,
		MaxRetries: cfg.Pipeline.WorkerRetries,
		Logger:     logr,
	})
	runSvc = service.NewRunService(runRepo, uploadSvc, pipelineSvc, queue, exportSvc, metricsSvc, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	defer queue.Stop()
	runSvc.StartCleanup(ctx, cfg.Exports.CleanupInterval)

	uploadHandler := handler.NewUploadHandler(uploadSvc)
	runHandler := handler.NewRunHandler(runSvc)
	exportHandler := handler.NewExportHandler(runSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Download links carry their own HMAC token, so the route sits outside
	// the JWT group.
	api.GET("/export/:token", exportHandler.Download)

	protected := api.Group("")
	protected.Use(middleware.JWT(cfg.JWT.Secret))
	{
		protected.POST("/uploads/submissions", uploadHandler.UploadArchive)
		protected.POST("/uploads/roster", uploadHandler.UploadRoster)

		protected.POST("/runs", runHandler.Start)
		protected.GET("/runs", runHandler.List)
		protected.GET("/runs/:id", runHandler.Status)
		protected.GET("/runs/:id/rows", runHandler.Rows)
		protected.PATCH("/runs/:id/rows/:rowId", runHandler.EditRow)
		protected.POST("/runs/:id/export", runHandler.Export)

		protected.GET("/session", sessionHandler.Restore)
		protected.PUT("/session", sessionHandler.Save)
		protected.DELETE("/session", sessionHandler.Clear)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
