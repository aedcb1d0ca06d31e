package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/esg-lite/emissions-pipeline/internal/service/ocr"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/queue"
)

// OCRWorker consumes ocr:process tasks. The high queue gets triple the
// weight of the default queue; asynq still interleaves, so priority stays
// advisory.
type OCRWorker struct {
	BaseWorker
	processor *ocr.Processor
	maxRetry  int
}

func NewOCRWorker(cfg *Config, processor *ocr.Processor, log logger.Logger) (*OCRWorker, error) {
	if cfg.Queues == nil {
		cfg.Queues = map[string]int{
			queue.QueueHigh:    3,
			queue.QueueDefault: 1,
		}
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Minute
			},
		},
	)

	w := &OCRWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		processor: processor,
		maxRetry:  cfg.MaxRetry,
	}

	w.registerHandlers()
	return w, nil
}

func (w *OCRWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeOCRProcess, w.handleOCRProcess)
}

func (w *OCRWorker) handleOCRProcess(ctx context.Context, t *asynq.Task) error {
	jobID, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = w.maxRetry
	}

	var payload queue.JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal job payload",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
		return fmt.Errorf("unmarshal job payload: %v: %w", err, asynq.SkipRetry)
	}

	w.logger.Info("Processing OCR job",
		logger.String("jobId", jobID),
		logger.String("documentId", payload.DocumentID),
		logger.Int("attempt", retried+1),
	)

	err := w.processor.ProcessJob(ctx, jobID, &payload, maxRetry-retried)
	if err == nil {
		return nil
	}
	if errors.Is(err, ocr.ErrNoRetry) {
		// Terminal state is persisted; archive the task instead of retrying.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (w *OCRWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
