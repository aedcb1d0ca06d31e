package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/esg-lite/emissions-pipeline/config"
	"github.com/esg-lite/emissions-pipeline/internal/extract"
	ocrservice "github.com/esg-lite/emissions-pipeline/internal/service/ocr"
	"github.com/esg-lite/emissions-pipeline/internal/store"
	"github.com/esg-lite/emissions-pipeline/internal/sweep"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/storage"
	"github.com/esg-lite/emissions-pipeline/pkg/worker"
)

func main() {
	cfg := config.Get()

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logging.Level),
		logger.WithEncoding(cfg.Logging.Encoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
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

	st, err := storage.New(cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", logger.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	extractorFactory, err := extract.NewFactory(ctx, cfg.Textract, log)
	if err != nil {
		log.Fatal("Failed to initialize extractors", logger.Error(err))
	}
	defer extractorFactory.Close()

	processor := ocrservice.NewProcessor(documentStore, st, extractorFactory, log)

	workerCfg := &worker.Config{
		RedisAddr:   cfg.Redis.Addr,
		RedisDB:     cfg.Redis.DB,
		Concurrency: cfg.Queue.Concurrency,
		MaxRetry:    cfg.Queue.MaxRetry,
	}
	ocrWorker, err := worker.NewOCRWorker(workerCfg, processor, log)
	if err != nil {
		log.Error("Failed to create worker", logger.Error(err))
		os.Exit(1)
	}

	if err := ocrWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sweeper := sweep.New(documentStore, st, sweep.Config{
		Schedule:   cfg.OCR.SweepInterval,
		StaleAfter: cfg.OCR.StaleAfter(),
		Retention:  time.Duration(cfg.Queue.RetentionHours) * time.Hour,
	}, log)
	if err := sweeper.Start(); err != nil {
		log.Error("Failed to start sweeper", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	sweeper.Stop()
	ocrWorker.Stop()
	log.Info("Worker stopped")
}
