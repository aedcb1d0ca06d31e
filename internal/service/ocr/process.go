package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/internal/extract"
	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/internal/store"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/queue"
	"github.com/esg-lite/emissions-pipeline/pkg/storage"
)

// ErrNoRetry tells the worker the failure is permanent or retries are
// exhausted; the document is already marked FAILED.
var ErrNoRetry = errors.New("job failed permanently")

// DocumentExtractor is the extraction entry point, satisfied by
// extract.Factory.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, mimeType string, data []byte) (*extract.Result, error)
}

// Processor is the worker-side half of the pipeline: it claims the document,
// runs extraction and persists the terminal result.
type Processor struct {
	documents *store.DocumentStore
	storage   storage.Storage
	extractor DocumentExtractor
	logger    logger.Logger
	now       func() time.Time
}

func NewProcessor(
	documents *store.DocumentStore,
	st storage.Storage,
	extractor DocumentExtractor,
	log logger.Logger,
) *Processor {
	return &Processor{
		documents: documents,
		storage:   st,
		extractor: extractor,
		logger:    log,
		now:       time.Now,
	}
}

// ProcessJob handles one queued extraction. attemptsLeft is the number of
// queue retries still available after this one.
//
// Returning a plain error asks the queue to retry; the document is moved
// back to QUEUED first so the in-flight invariant holds across attempts.
// Returning ErrNoRetry (or nil) ends the job; the terminal document state
// is already persisted either way.
func (p *Processor) ProcessJob(ctx context.Context, jobID string, payload *queue.JobPayload, attemptsLeft int) error {
	documentID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("%w: bad document id %q", ErrNoRetry, payload.DocumentID)
	}

	log := p.logger.With(
		logger.String("documentId", payload.DocumentID),
		logger.String("jobId", jobID),
	)

	if err := p.documents.ClaimProcessing(ctx, documentID, jobID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The row is no longer QUEUED under this job: a sweeper failed it,
			// a reprocess superseded it, or this is a duplicate delivery.
			log.Warn("skipping job, document not claimable")
			return nil
		}
		return fmt.Errorf("claim processing: %w", err)
	}

	started := p.now()

	data, err := p.fetchDocument(ctx, payload.FileKey)
	if err != nil {
		return p.fail(ctx, log, documentID, jobID, started, extract.Transient(err), attemptsLeft)
	}

	_ = p.documents.UpdateProgress(ctx, documentID, 40, "recognizing text")

	res, err := p.extractor.ExtractDocument(ctx, payload.MimeType, data)
	if err != nil {
		return p.fail(ctx, log, documentID, jobID, started, err, attemptsLeft)
	}

	_ = p.documents.UpdateProgress(ctx, documentID, 80, "persisting results")

	ocrData := &models.OCRData{
		FullText:         res.Text,
		TextPreview:      models.TextPreviewOf(res.Text),
		TextLength:       len([]rune(res.Text)),
		ProcessedAt:      p.now(),
		Provider:         res.Provider,
		Confidence:       res.Confidence,
		ProcessingTimeMs: p.now().Sub(started).Milliseconds(),
		Extraction:       res.Extraction,
	}

	var extractedINN *string
	var innMatches *bool
	if res.INN != "" {
		extractedINN = &res.INN
		valid := extract.ValidINN(res.INN)
		innMatches = &valid
	}

	if err := p.documents.MarkProcessed(ctx, documentID, ocrData, extractedINN, innMatches); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("result discarded, document left PROCESSING state concurrently")
			return nil
		}
		return fmt.Errorf("mark processed: %w", err)
	}

	log.Info("Document processed",
		logger.String("provider", res.Provider),
		logger.Float64("confidence", res.Confidence),
		logger.Int64("processingTimeMs", ocrData.ProcessingTimeMs),
	)
	return nil
}

func (p *Processor) fetchDocument(ctx context.Context, fileKey string) ([]byte, error) {
	reader, err := p.storage.Get(ctx, fileKey)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fileKey, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileKey, err)
	}
	return data, nil
}

// fail routes an extraction error: transient failures with retries left go
// back to QUEUED and bubble up so the queue reschedules; everything else is
// terminal FAILED with the retryable flag persisted for the API.
func (p *Processor) fail(
	ctx context.Context,
	log logger.Logger,
	documentID uuid.UUID,
	jobID string,
	started time.Time,
	cause error,
	attemptsLeft int,
) error {
	transient := extract.IsTransient(cause)

	if transient && attemptsLeft > 0 {
		if err := p.documents.RequeueForRetry(ctx, documentID, jobID); err != nil {
			log.Error("failed to requeue document for retry", logger.Error(err))
		}
		log.Warn("transient extraction failure, retrying",
			logger.Int("attemptsLeft", attemptsLeft),
			logger.Error(cause),
		)
		return cause
	}

	retryable := transient
	ocrData := &models.OCRData{
		ProcessedAt:      p.now(),
		ProcessingTimeMs: p.now().Sub(started).Milliseconds(),
		Error:            cause.Error(),
		ErrorType:        extract.ErrorType(cause),
		Retryable:        &retryable,
	}
	if err := p.documents.MarkFailed(ctx, documentID, ocrData); err != nil {
		log.Error("failed to persist failure", logger.Error(err))
		return fmt.Errorf("mark failed: %w", err)
	}

	log.Error("Document processing failed",
		logger.String("errorType", ocrData.ErrorType),
		logger.Bool("retryable", retryable),
		logger.Error(cause),
	)
	return fmt.Errorf("%w: %v", ErrNoRetry, cause)
}
