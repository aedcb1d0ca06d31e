package ocr

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/internal/quota"
	"github.com/esg-lite/emissions-pipeline/internal/reconcile"
	"github.com/esg-lite/emissions-pipeline/internal/store"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/queue"
	"github.com/esg-lite/emissions-pipeline/pkg/storage"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrForbidden       = errors.New("document belongs to another user")
	ErrAlreadyInFlight = errors.New("document already queued or processing")
	ErrInvalidFile     = errors.New("invalid file")
)

// RateLimitError carries the gate decision so the handler can surface
// Retry-After.
type RateLimitError struct {
	Decision quota.Decision
}

func (e *RateLimitError) Error() string { return e.Decision.Reason }

// ServiceConfig bounds uploads and drives priority selection.
type ServiceConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	SurgeWindows      []queue.SurgeWindow
	MaxBatchSize      int
}

// Service orchestrates the document pipeline: upload into object storage,
// job submission with the at-most-one-in-flight guarantee, and unified
// status lookup.
type Service struct {
	documents  *store.DocumentStore
	queue      queue.Queue
	storage    storage.Storage
	gate       *quota.Gate
	reconciler *reconcile.Service
	logger     logger.Logger
	cfg        *ServiceConfig
	now        func() time.Time
}

func NewService(
	documents *store.DocumentStore,
	q queue.Queue,
	st storage.Storage,
	gate *quota.Gate,
	reconciler *reconcile.Service,
	log logger.Logger,
	cfg *ServiceConfig,
) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 50 * 1024 * 1024
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".tiff"}
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 10
	}
	return &Service{
		documents:  documents,
		queue:      q,
		storage:    st,
		gate:       gate,
		reconciler: reconciler,
		logger:     log,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Identity is the caller resolved by the auth middleware.
type Identity struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Tier           quota.Tier
}

// Upload validates the file, stores its bytes and creates the UPLOADED row.
// Quota is not consumed here; uploading is free, processing is gated.
func (s *Service) Upload(
	ctx context.Context,
	id Identity,
	file multipart.File,
	header *multipart.FileHeader,
	category models.DocumentCategory,
) (*models.Document, error) {
	mimeType, err := s.validateFile(file, header)
	if err != nil {
		return nil, err
	}
	if category == "" {
		category = models.CategoryUnknown
	}
	if !models.ValidCategory(category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidFile, category)
	}

	docID := uuid.New()
	key := fmt.Sprintf("%s/%s%s", id.OrganizationID, docID, strings.ToLower(filepath.Ext(header.Filename)))

	if _, err := s.storage.Store(ctx, file, key); err != nil {
		s.logger.Error("Failed to store uploaded file",
			logger.String("fileName", header.Filename),
			logger.Error(err),
		)
		return nil, fmt.Errorf("store file: %w", err)
	}

	doc := &models.Document{
		ID:             docID,
		UserID:         id.UserID,
		OrganizationID: id.OrganizationID,
		FileKey:        key,
		FileName:       header.Filename,
		MimeType:       mimeType,
		FileSize:       header.Size,
		Category:       category,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("Document uploaded",
		logger.String("documentId", doc.ID.String()),
		logger.String("fileName", doc.FileName),
		logger.Int64("size", doc.FileSize),
	)
	return doc, nil
}

// UploadBatch uploads files concurrently. Partial success is reported as
// such: successfully created documents come back alongside the first error.
func (s *Service) UploadBatch(
	ctx context.Context,
	id Identity,
	headers []*multipart.FileHeader,
	category models.DocumentCategory,
) ([]*models.Document, error) {
	if len(headers) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", ErrInvalidFile, len(headers), s.cfg.MaxBatchSize)
	}

	docs := make([]*models.Document, 0, len(headers))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, header := range headers {
		header := header
		g.Go(func() error {
			file, err := header.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", header.Filename, err)
			}
			defer file.Close()

			doc, err := s.Upload(ctx, id, file, header, category)
			if err != nil {
				return fmt.Errorf("upload %s: %w", header.Filename, err)
			}

			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return docs, err
	}
	return docs, nil
}

// EnqueueResult is the POST /ocr response payload.
type EnqueueResult struct {
	DocumentID    uuid.UUID      `json:"documentId"`
	JobID         string         `json:"jobId"`
	Status        string         `json:"status"`
	Priority      queue.Priority `json:"priority"`
	QueuePosition int            `json:"queuePosition"`
	// EstimatedProcessingTime is a rough wait estimate in seconds.
	EstimatedProcessingTime int `json:"estimatedProcessingTime"`
}

// EnqueueOCR submits one processing job for the document.
//
// The document row is claimed first: a compare-and-set moves it to QUEUED
// with a fresh job id, so a concurrent second request loses the race and
// gets a conflict instead of a duplicate job. Only then is the job pushed;
// if the push fails the claim is released.
func (s *Service) EnqueueOCR(ctx context.Context, id Identity, documentID uuid.UUID) (*EnqueueResult, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.UserID != id.UserID {
		return nil, ErrForbidden
	}
	if doc.Status.InFlight() {
		return nil, ErrAlreadyInFlight
	}

	if decision := s.gate.CheckWindow(ctx, id.OrganizationID, id.Tier); !decision.Allowed {
		return nil, &RateLimitError{Decision: decision}
	}
	if err := s.gate.CheckMonthlyDocuments(ctx, id.OrganizationID); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	prior := doc.Status
	if err := s.documents.ClaimForQueue(ctx, documentID, jobID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyInFlight
		}
		return nil, err
	}

	priority := queue.PriorityFor(s.now(), s.cfg.SurgeWindows)
	payload := &queue.JobPayload{
		DocumentID: doc.ID.String(),
		UserID:     doc.UserID.String(),
		FileKey:    doc.FileKey,
		FileName:   doc.FileName,
		MimeType:   doc.MimeType,
		FileSize:   doc.FileSize,
		Category:   string(doc.Category),
		UserMode:   string(id.Tier),
	}

	info, err := s.queue.Enqueue(ctx, jobID, payload, priority)
	if err != nil {
		if relErr := s.documents.ReleaseClaim(ctx, documentID, jobID, prior); relErr != nil {
			// The row says QUEUED but no job exists. The stale sweeper will
			// eventually fail it; flag it loudly until then.
			s.logger.Error("orphaned claim: enqueue failed and claim release failed",
				logger.String("documentId", documentID.String()),
				logger.String("jobId", jobID),
				logger.Error(relErr),
			)
		}
		return nil, err
	}

	s.gate.RecordRequest(ctx, id.OrganizationID)
	s.gate.RecordDocument(ctx, id.OrganizationID)

	s.logger.Info("OCR job enqueued",
		logger.String("documentId", doc.ID.String()),
		logger.String("jobId", jobID),
		logger.String("queue", info.Queue),
		logger.Int("position", info.Position),
	)

	return &EnqueueResult{
		DocumentID:              doc.ID,
		JobID:                   jobID,
		Status:                  "queued",
		Priority:                priority,
		QueuePosition:           info.Position,
		EstimatedProcessingTime: estimateSeconds(info.Position),
	}, nil
}

// Reprocess re-runs extraction for a finished or failed document. The claim
// itself rejects documents still in flight.
func (s *Service) Reprocess(ctx context.Context, id Identity, documentID uuid.UUID) (*EnqueueResult, error) {
	res, err := s.EnqueueOCR(ctx, id, documentID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Document reprocess requested",
		logger.String("documentId", documentID.String()),
		logger.String("jobId", res.JobID),
	)
	return res, nil
}

// GetStatus resolves the unified processing status by document id.
func (s *Service) GetStatus(ctx context.Context, id Identity, documentID uuid.UUID) (*reconcile.Status, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.UserID != id.UserID {
		return nil, ErrForbidden
	}
	return s.reconciler.Resolve(ctx, doc), nil
}

// GetStatusByJob resolves the unified processing status by job id.
func (s *Service) GetStatusByJob(ctx context.Context, id Identity, jobID string) (*reconcile.Status, error) {
	doc, err := s.documents.GetByJobID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.UserID != id.UserID {
		return nil, ErrForbidden
	}
	return s.reconciler.Resolve(ctx, doc), nil
}

// GetDocument returns the document row with its reconciled status attached.
func (s *Service) GetDocument(ctx context.Context, id Identity, documentID uuid.UUID) (*models.Document, *reconcile.Status, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if doc.UserID != id.UserID {
		return nil, nil, ErrForbidden
	}
	return doc, s.reconciler.Resolve(ctx, doc), nil
}

func (s *Service) validateFile(file multipart.File, header *multipart.FileHeader) (string, error) {
	if header.Size == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidFile)
	}
	if header.Size > s.cfg.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidFile, header.Size, s.cfg.MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowed := false
	for _, a := range s.cfg.AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w: extension %q not allowed", ErrInvalidFile, ext)
	}

	// Sniff the real content type; the client-supplied header is advisory.
	head := make([]byte, 512)
	n, err := file.Read(head)
	if err != nil && n == 0 {
		return "", fmt.Errorf("%w: unreadable file: %v", ErrInvalidFile, err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	mimeType := http.DetectContentType(head[:n])
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !supportedMIME(mimeType) {
		return "", fmt.Errorf("%w: unsupported content type %q", ErrInvalidFile, mimeType)
	}
	return mimeType, nil
}

func supportedMIME(mimeType string) bool {
	switch mimeType {
	case "application/pdf", "image/jpeg", "image/png", "image/tiff":
		return true
	}
	return false
}

// estimateSeconds guesses the wait from the queue backlog. Purely advisory.
func estimateSeconds(position int) int {
	const perJob = 15
	return 30 + position*perJob
}
