package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/esg-lite/emissions-pipeline/api/handlers"
	"github.com/esg-lite/emissions-pipeline/api/routes"
	"github.com/esg-lite/emissions-pipeline/config"
	"github.com/esg-lite/emissions-pipeline/internal/aggregate"
	"github.com/esg-lite/emissions-pipeline/internal/quota"
	"github.com/esg-lite/emissions-pipeline/internal/reconcile"
	ocrservice "github.com/esg-lite/emissions-pipeline/internal/service/ocr"
	reportservice "github.com/esg-lite/emissions-pipeline/internal/service/report"
	"github.com/esg-lite/emissions-pipeline/internal/store"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/queue"
	"github.com/esg-lite/emissions-pipeline/pkg/storage"
)

func main() {
	cfg := config.Get()

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logging.Level),
		logger.WithEncoding(cfg.Logging.Encoding),
		logger.WithOutputPaths(cfg.Logging.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := store.Open(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to postgres", logger.Error(err))
	}

	documentStore := store.NewDocumentStore(db)
	reportStore := store.NewReportStore(db)
	quotaStore := store.NewQuotaStore(db)

	queueCfg := queue.DefaultConfig(cfg.Redis.Addr, cfg.Redis.DB)
	queueCfg.MaxRetry = cfg.Queue.MaxRetry
	queueCfg.RetryDelay = time.Duration(cfg.Queue.RetryDelaySeconds) * time.Second
	queueCfg.JobTimeout = time.Duration(cfg.Queue.JobTimeoutSeconds) * time.Second
	queueCfg.Retention = time.Duration(cfg.Queue.RetentionHours) * time.Hour
	queueCfg.MaxPending = cfg.Queue.MaxPending

	q, err := queue.NewAsynqQueue(queueCfg, log)
	if err != nil {
		log.Fatal("Failed to connect to queue", logger.Error(err))
	}
	defer q.Close()

	st, err := storage.New(cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", logger.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer redisClient.Close()

	rateLimits := make(map[quota.Tier]int, len(cfg.Quota.RateLimits))
	for tier, limit := range cfg.Quota.RateLimits {
		rateLimits[quota.Tier(tier)] = limit
	}
	gate := quota.NewGate(
		quota.NewRedisCounterStore(redisClient),
		quotaStore,
		&quota.Config{
			Window:           time.Duration(cfg.Quota.WindowSeconds) * time.Second,
			RateLimits:       rateLimits,
			MonthlyDocuments: cfg.Quota.MonthlyDocuments,
			MonthlyReports:   cfg.Quota.MonthlyReports,
		},
		log,
	)

	surgeWindows, err := queue.ParseSurgeWindows(cfg.Queue.SurgeWindows)
	if err != nil {
		log.Fatal("Invalid surge window configuration", logger.Error(err))
	}

	reconciler := reconcile.NewService(q, log)
	ocrSvc := ocrservice.NewService(documentStore, q, st, gate, reconciler, log, &ocrservice.ServiceConfig{
		MaxFileSize:       int64(cfg.OCR.MaxFileSizeMB) * 1024 * 1024,
		AllowedExtensions: cfg.OCR.AllowedExtensions,
		SurgeWindows:      surgeWindows,
	})
	reportSvc := reportservice.NewService(reportStore, documentStore, aggregate.NewEngine(log), gate, log)

	h := handlers.NewHandlers(ocrSvc, reportSvc, gate, handlers.NewHealthHandler(db, q, log), log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
