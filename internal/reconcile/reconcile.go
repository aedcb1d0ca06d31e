package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/queue"
)

// State is the unified externally-visible document state.
type State string

const (
	StateNotStarted State = "not_started"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateUnknown    State = "unknown"
)

// Status is the single authoritative answer merged from the database record
// and, for in-flight documents, the live queue view.
type Status struct {
	DocumentID uuid.UUID       `json:"documentId"`
	JobID      string          `json:"jobId,omitempty"`
	Status     State           `json:"status"`
	Progress   int             `json:"progress"`
	Stage      string          `json:"stage,omitempty"`
	OCRResults *models.OCRData `json:"ocrResults,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// JobStatusSource is the queue lookup the service consults for in-flight jobs.
type JobStatusSource interface {
	GetJobStatus(ctx context.Context, jobID string) (*queue.JobStatus, error)
}

// Service merges queue-reported status with database-persisted status.
//
// The database is the system of record; the queue is a cache of in-flight
// state only. Queue status wins for status/progress while the document is in
// flight, but terminal database states are always trusted as-is, because the
// queue may have garbage-collected the job after the worker acknowledged it.
type Service struct {
	jobs   JobStatusSource
	logger logger.Logger
}

func NewService(jobs JobStatusSource, log logger.Logger) *Service {
	return &Service{jobs: jobs, logger: log}
}

// Resolve produces the unified status for one document.
func (s *Service) Resolve(ctx context.Context, doc *models.Document) *Status {
	base := s.fromDatabase(doc)

	// Terminal database states are authoritative; whatever the queue still
	// says about the job is stale by definition.
	if doc.Status.Terminal() {
		return base
	}

	if doc.JobID == nil || *doc.JobID == "" {
		return base
	}

	live, err := s.jobs.GetJobStatus(ctx, *doc.JobID)
	if err != nil {
		// A queue failure is never the document's failure. Fall back to the
		// persisted view entirely.
		if !errors.Is(err, queue.ErrJobNotFound) {
			s.logger.Warn("queue status lookup failed, falling back to database view",
				logger.String("documentId", doc.ID.String()),
				logger.String("jobId", *doc.JobID),
				logger.Error(err),
			)
		}
		return base
	}

	return s.merge(doc, base, live)
}

func (s *Service) fromDatabase(doc *models.Document) *Status {
	status := &Status{
		DocumentID: doc.ID,
		Status:     mapDatabaseStatus(doc.Status),
		Progress:   doc.ProcessingProgress,
		Stage:      doc.ProcessingStage,
	}
	if doc.JobID != nil {
		status.JobID = *doc.JobID
	}
	if doc.Status.Terminal() {
		data, err := models.UnmarshalOCRData(doc.OCRData)
		if err != nil {
			s.logger.Error("persisted ocr data is unreadable",
				logger.String("documentId", doc.ID.String()),
				logger.Error(err),
			)
		} else if data != nil {
			if doc.Status == models.StatusProcessed {
				status.OCRResults = data
			} else {
				status.Error = data.Error
			}
		}
	}
	return status
}

func (s *Service) merge(doc *models.Document, base *Status, live *queue.JobStatus) *Status {
	merged := *base

	switch live.State {
	case queue.JobWaiting:
		merged.Status = StateQueued
	case queue.JobActive:
		merged.Status = StateProcessing
		// The database carries worker-reported progress; the queue only
		// knows "active". Keep whichever is further along.
		if live.Progress > merged.Progress {
			merged.Progress = live.Progress
		}
	case queue.JobCompleted:
		// The queue finished but the database has not caught up (worker
		// crash between queue-ack and DB write, or a write still in
		// flight). Never claim completed from the queue alone.
		s.logger.Warn("queue reports completion but database is not terminal",
			logger.String("documentId", doc.ID.String()),
			logger.String("jobId", live.JobID),
			logger.String("databaseStatus", string(doc.Status)),
		)
		merged.Status = StateProcessing
		merged.Progress = 100
	case queue.JobFailed:
		merged.Status = StateFailed
		merged.Error = live.Error
	default:
		merged.Status = StateUnknown
	}

	return &merged
}

func mapDatabaseStatus(s models.DocumentStatus) State {
	switch s {
	case models.StatusUploaded:
		return StateNotStarted
	case models.StatusQueued:
		return StateQueued
	case models.StatusProcessing:
		return StateProcessing
	case models.StatusProcessed:
		return StateCompleted
	case models.StatusFailed:
		return StateFailed
	default:
		return StateUnknown
	}
}
