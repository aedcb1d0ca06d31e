package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/esg-lite/emissions-pipeline/internal/models"
)

// DocumentStore persists document lifecycle state. Every transition is a
// compare-and-set on the expected prior status, so two concurrent requests
// can never both move the same document into QUEUED.
type DocumentStore struct {
	db *gorm.DB
}

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Create inserts a freshly uploaded document in UPLOADED state.
func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Status = models.StatusUploaded
	doc.ProcessingStage = "uploaded"
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStore) GetByJobID(ctx context.Context, jobID string) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).First(&doc, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document by job: %w", err)
	}
	return &doc, nil
}

// ClaimForQueue transitions a document into QUEUED with the given job id.
// Allowed prior states are UPLOADED, FAILED and PROCESSED (reprocess); a
// document already QUEUED or PROCESSING yields ErrConflict, which is the
// guarantee that at most one job is in flight per document.
func (s *DocumentStore) ClaimForQueue(ctx context.Context, id uuid.UUID, jobID string) error {
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status IN ?", id, []models.DocumentStatus{
			models.StatusUploaded, models.StatusFailed, models.StatusProcessed,
		}).
		Updates(map[string]interface{}{
			"status":              models.StatusQueued,
			"job_id":              jobID,
			"processing_progress": 0,
			"processing_stage":    "queued",
		})
	if res.Error != nil {
		return fmt.Errorf("claim for queue: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ReleaseClaim reverts a QUEUED claim after an enqueue failure, restoring
// the prior status and clearing the job reference.
func (s *DocumentStore) ReleaseClaim(ctx context.Context, id uuid.UUID, jobID string, prior models.DocumentStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status = ? AND job_id = ?", id, models.StatusQueued, jobID).
		Updates(map[string]interface{}{
			"status":           prior,
			"job_id":           nil,
			"processing_stage": "upload pending retry",
		})
	if res.Error != nil {
		return fmt.Errorf("release claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ClaimProcessing marks the worker as owner of the job: QUEUED -> PROCESSING.
func (s *DocumentStore) ClaimProcessing(ctx context.Context, id uuid.UUID, jobID string) error {
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status = ? AND job_id = ?", id, models.StatusQueued, jobID).
		Updates(map[string]interface{}{
			"status":              models.StatusProcessing,
			"processing_progress": 10,
			"processing_stage":    "extracting",
		})
	if res.Error != nil {
		return fmt.Errorf("claim processing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// RequeueForRetry moves a transiently failed document back to QUEUED so the
// queue's own retry can claim it again.
func (s *DocumentStore) RequeueForRetry(ctx context.Context, id uuid.UUID, jobID string) error {
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status = ? AND job_id = ?", id, models.StatusProcessing, jobID).
		Updates(map[string]interface{}{
			"status":              models.StatusQueued,
			"processing_progress": 0,
			"processing_stage":    "retry scheduled",
		})
	if res.Error != nil {
		return fmt.Errorf("requeue for retry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// UpdateProgress reports worker progress; only valid while PROCESSING.
func (s *DocumentStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, stage string) error {
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]interface{}{
			"processing_progress": progress,
			"processing_stage":    stage,
		})
	return res.Error
}

// MarkProcessed finishes the lifecycle on success: PROCESSING -> PROCESSED
// with the full result payload persisted transactionally.
func (s *DocumentStore) MarkProcessed(ctx context.Context, id uuid.UUID, data *models.OCRData, extractedINN *string, innMatches *bool) error {
	raw, err := models.MarshalOCRData(data)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]interface{}{
			"status":              models.StatusProcessed,
			"ocr_processed":       true,
			"ocr_data":            raw,
			"ocr_confidence":      data.Confidence,
			"extracted_inn":       extractedINN,
			"inn_matches":         innMatches,
			"processing_progress": 100,
			"processing_stage":    "completed",
		})
	if res.Error != nil {
		return fmt.Errorf("mark processed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFailed finishes the lifecycle on failure, carrying the retryable flag
// so callers can tell "click reprocess" from "contact support".
func (s *DocumentStore) MarkFailed(ctx context.Context, id uuid.UUID, data *models.OCRData) error {
	raw, err := models.MarshalOCRData(data)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status IN ?", id, []models.DocumentStatus{
			models.StatusProcessing, models.StatusQueued,
		}).
		Updates(map[string]interface{}{
			"status":           models.StatusFailed,
			"ocr_data":         raw,
			"processing_stage": "failed",
		})
	if res.Error != nil {
		return fmt.Errorf("mark failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ListProcessedByIDs returns the subset of the given documents that belong
// to the user and are currently PROCESSED. Report creation snapshots these.
func (s *DocumentStore) ListProcessedByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ? AND status = ?", userID, ids, models.StatusProcessed).
		Order("created_at").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list processed documents: %w", err)
	}
	return docs, nil
}

// FailStale force-fails documents stuck in PROCESSING longer than olderThan.
// The failure is marked retryable so the documents stay eligible for
// reprocess. Returns the number of documents swept.
func (s *DocumentStore) FailStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	retryable := true
	raw, err := models.MarshalOCRData(&models.OCRData{
		ProcessedAt: now,
		Error:       "processing exceeded the staleness timeout without a worker callback",
		ErrorType:   "stale",
		Retryable:   &retryable,
	})
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-olderThan)
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("status = ? AND updated_at < ?", models.StatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":           models.StatusFailed,
			"ocr_data":         raw,
			"processing_stage": "failed",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("fail stale documents: %w", res.Error)
	}
	return res.RowsAffected, nil
}
