package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/queue"
)

type fakeJobSource struct {
	status *queue.JobStatus
	err    error
}

func (f *fakeJobSource) GetJobStatus(ctx context.Context, jobID string) (*queue.JobStatus, error) {
	return f.status, f.err
}

func strPtr(s string) *string { return &s }

func docInState(t *testing.T, status models.DocumentStatus, jobID *string, data *models.OCRData) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:     uuid.New(),
		Status: status,
		JobID:  jobID,
	}
	if data != nil {
		raw, err := models.MarshalOCRData(data)
		if err != nil {
			t.Fatalf("marshal ocr data: %v", err)
		}
		doc.OCRData = raw
	}
	return doc
}

func TestResolveTerminalStateIgnoresQueue(t *testing.T) {
	// The queue still reports the job as active, but the database says
	// PROCESSED. The database wins without a queue call mattering.
	src := &fakeJobSource{status: &queue.JobStatus{State: queue.JobActive, Progress: 50}}
	svc := NewService(src, logger.NewTestLogger())

	doc := docInState(t, models.StatusProcessed, strPtr("job-1"), &models.OCRData{
		FullText:   "text",
		Confidence: 0.9,
	})
	got := svc.Resolve(context.Background(), doc)

	if got.Status != StateCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.OCRResults == nil || got.OCRResults.FullText != "text" {
		t.Fatalf("expected persisted results, got %+v", got.OCRResults)
	}
}

func TestResolveFailedCarriesPersistedError(t *testing.T) {
	src := &fakeJobSource{err: queue.ErrJobNotFound}
	svc := NewService(src, logger.NewTestLogger())

	doc := docInState(t, models.StatusFailed, strPtr("job-1"), &models.OCRData{
		Error:     "pdf has no extractable text layer",
		ErrorType: "permanent",
	})
	got := svc.Resolve(context.Background(), doc)

	if got.Status != StateFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error != "pdf has no extractable text layer" {
		t.Fatalf("expected persisted error, got %q", got.Error)
	}
}

func TestResolveQueueFailureFallsBackToDatabase(t *testing.T) {
	log := logger.NewTestLogger()
	src := &fakeJobSource{err: errors.New("redis: connection refused")}
	svc := NewService(src, log)

	doc := docInState(t, models.StatusQueued, strPtr("job-1"), nil)
	got := svc.Resolve(context.Background(), doc)

	if got.Status != StateQueued {
		t.Fatalf("expected database view queued, got %s", got.Status)
	}
	if !log.HasEntry("WARN", "queue status lookup failed") {
		t.Fatalf("expected a fallback warning, entries: %v", log.Entries())
	}
}

func TestResolveQueueWinsWhileInFlight(t *testing.T) {
	tests := []struct {
		name      string
		dbStatus  models.DocumentStatus
		live      *queue.JobStatus
		want      State
		wantError string
	}{
		{
			name:     "waiting maps to queued",
			dbStatus: models.StatusQueued,
			live:     &queue.JobStatus{State: queue.JobWaiting},
			want:     StateQueued,
		},
		{
			name:     "active maps to processing",
			dbStatus: models.StatusQueued,
			live:     &queue.JobStatus{State: queue.JobActive, Progress: 50},
			want:     StateProcessing,
		},
		{
			name:      "queue failure maps to failed with error",
			dbStatus:  models.StatusProcessing,
			live:      &queue.JobStatus{State: queue.JobFailed, Error: "timeout"},
			want:      StateFailed,
			wantError: "timeout",
		},
		{
			name:     "unmapped queue state maps to unknown",
			dbStatus: models.StatusQueued,
			live:     &queue.JobStatus{State: queue.JobState("paused")},
			want:     StateUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&fakeJobSource{status: tt.live}, logger.NewTestLogger())
			doc := docInState(t, tt.dbStatus, strPtr("job-1"), nil)
			got := svc.Resolve(context.Background(), doc)
			if got.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.Status)
			}
			if tt.wantError != "" && got.Error != tt.wantError {
				t.Fatalf("expected error %q, got %q", tt.wantError, got.Error)
			}
		})
	}
}

func TestResolveQueueCompletionNeverTrustedAlone(t *testing.T) {
	// Queue says completed but the database write has not landed. The
	// document must not surface as completed until both sources agree.
	log := logger.NewTestLogger()
	src := &fakeJobSource{status: &queue.JobStatus{State: queue.JobCompleted, Progress: 100}}
	svc := NewService(src, log)

	doc := docInState(t, models.StatusProcessing, strPtr("job-1"), nil)
	got := svc.Resolve(context.Background(), doc)

	if got.Status != StateProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}
	if got.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", got.Progress)
	}
	if !log.HasEntry("WARN", "database is not terminal") {
		t.Fatalf("expected a divergence warning, entries: %v", log.Entries())
	}
}

func TestResolveUploadedIsNotStarted(t *testing.T) {
	svc := NewService(&fakeJobSource{}, logger.NewTestLogger())
	doc := docInState(t, models.StatusUploaded, nil, nil)

	got := svc.Resolve(context.Background(), doc)
	if got.Status != StateNotStarted {
		t.Fatalf("expected not_started, got %s", got.Status)
	}
}
