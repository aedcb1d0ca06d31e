package sweep

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/esg-lite/emissions-pipeline/internal/store"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/storage"
)

// Config drives the periodic maintenance passes.
type Config struct {
	// Schedule is a cron spec, e.g. "@every 5m".
	Schedule string
	// StaleAfter is how long a document may sit in PROCESSING before it is
	// force-failed (retryable, so a reprocess can pick it up).
	StaleAfter time.Duration
	// Retention is the object storage retention window; zero disables the
	// cleanup pass.
	Retention time.Duration
}

// Sweeper runs the background maintenance: failing documents whose worker
// vanished mid-processing, and pruning expired objects from storage.
type Sweeper struct {
	documents *store.DocumentStore
	storage   storage.Storage
	cron      *cron.Cron
	cfg       Config
	logger    logger.Logger
}

func New(documents *store.DocumentStore, st storage.Storage, cfg Config, log logger.Logger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &Sweeper{
		documents: documents,
		storage:   st,
		cron:      cron.New(),
		cfg:       cfg,
		logger:    log,
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Sweeper started",
		logger.String("schedule", s.cfg.Schedule),
		logger.Duration("staleAfter", s.cfg.StaleAfter),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	swept, err := s.documents.FailStale(ctx, s.cfg.StaleAfter, time.Now())
	if err != nil {
		s.logger.Error("stale document sweep failed", logger.Error(err))
	} else if swept > 0 {
		s.logger.Warn("failed stale documents stuck in processing",
			logger.Int64("count", swept),
			logger.Duration("staleAfter", s.cfg.StaleAfter),
		)
	}

	if s.cfg.Retention > 0 {
		threshold := time.Now().Add(-s.cfg.Retention)
		if err := s.storage.CleanupBefore(ctx, threshold); err != nil {
			s.logger.Error("storage retention cleanup failed", logger.Error(err))
		}
	}
}
