package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/esg-lite/emissions-pipeline/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createDocument(t *testing.T, s *DocumentStore) *models.Document {
	t.Helper()
	doc := &models.Document{
		UserID:         uuid.New(),
		OrganizationID: uuid.New(),
		FileKey:        "org/doc.pdf",
		FileName:       "doc.pdf",
		MimeType:       "application/pdf",
		FileSize:       1024,
		Category:       models.CategoryTransport,
	}
	if err := s.Create(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func TestCreateSetsUploaded(t *testing.T) {
	s := NewDocumentStore(testDB(t))
	doc := createDocument(t, s)

	got, err := s.Get(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusUploaded {
		t.Fatalf("expected UPLOADED, got %s", got.Status)
	}
	if got.JobID != nil {
		t.Fatalf("fresh document must have no job id")
	}
}

func TestClaimForQueueRejectsSecondClaim(t *testing.T) {
	s := NewDocumentStore(testDB(t))
	doc := createDocument(t, s)
	ctx := context.Background()

	if err := s.ClaimForQueue(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.ClaimForQueue(ctx, doc.ID, "job-2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second claim must conflict, got %v", err)
	}

	got, _ := s.Get(ctx, doc.ID)
	if got.Status != models.StatusQueued || got.JobID == nil || *got.JobID != "job-1" {
		t.Fatalf("claim state corrupted: status=%s job=%v", got.Status, got.JobID)
	}
}

func TestClaimForQueueAllowsRetryFromTerminalStates(t *testing.T) {
	s := NewDocumentStore(testDB(t))
	ctx := context.Background()

	doc := createDocument(t, s)
	if err := s.ClaimForQueue(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ClaimProcessing(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("claim processing: %v", err)
	}
	if err := s.MarkFailed(ctx, doc.ID, &models.OCRData{Error: "boom", ErrorType: "permanent"}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// FAILED documents are eligible for reprocess.
	if err := s.ClaimForQueue(ctx, doc.ID, "job-2"); err != nil {
		t.Fatalf("reclaim after failure: %v", err)
	}
}

func TestReleaseClaimRestoresPriorState(t *testing.T) {
	s := NewDocumentStore(testDB(t))
	doc := createDocument(t, s)
	ctx := context.Background()

	if err := s.ClaimForQueue(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ReleaseClaim(ctx, doc.ID, "job-1", models.StatusUploaded); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, _ := s.Get(ctx, doc.ID)
	if got.Status != models.StatusUploaded {
		t.Fatalf("expected UPLOADED after release, got %s", got.Status)
	}
	if got.JobID != nil {
		t.Fatalf("job id must be cleared, got %v", *got.JobID)
	}
}

func TestClaimProcessingRequiresMatchingJob(t *testing.T) {
	s := NewDocumentStore(testDB(t))
	doc := createDocument(t, s)
	ctx := context.Background()

	if err := s.ClaimProcessing(ctx, doc.ID, "job-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("processing claim without queue claim must conflict, got %v", err)
	}

	if err := s.ClaimForQueue(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ClaimProcessing(ctx, doc.ID, "other-job"); !errors.Is(err, ErrConflict) {
		t.Fatalf("mismatched job id must conflict, got %v", err)
	}
	if err := s.ClaimProcessing(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("claim processing: %v", err)
	}

	got, _ := s.Get(ctx, doc.ID)
	if got.Status != models.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", got.Status)
	}
}

func TestMarkProcessedPersistsResult(t *testing.T) {
	s := NewDocumentStore(testDB(t))
	doc := createDocument(t, s)
	ctx := context.Background()

	if err := s.ClaimForQueue(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ClaimProcessing(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("claim processing: %v", err)
	}

	inn := "7707083893"
	matches := true
	data := &models.OCRData{
		FullText:    "Выбросы: 12,5 тонн",
		TextPreview: "Выбросы: 12,5 тонн",
		TextLength:  18,
		ProcessedAt: time.Now(),
		Provider:    "pdf-text",
		Confidence:  0.99,
		Extraction:  models.NewFlatExtraction(models.FlatExtraction{Emissions: floatPtr(12.5)}),
	}
	if err := s.MarkProcessed(ctx, doc.ID, data, &inn, &matches); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	got, _ := s.Get(ctx, doc.ID)
	if got.Status != models.StatusProcessed || !got.OCRProcessed {
		t.Fatalf("expected PROCESSED with ocrProcessed, got %s %v", got.Status, got.OCRProcessed)
	}
	if got.ProcessingProgress != 100 {
		t.Fatalf("expected progress 100, got %d", got.ProcessingProgress)
	}
	if got.ExtractedINN == nil || *got.ExtractedINN != inn {
		t.Fatalf("expected INN persisted, got %v", got.ExtractedINN)
	}

	decoded, err := models.UnmarshalOCRData(got.OCRData)
	if err != nil {
		t.Fatalf("unmarshal persisted data: %v", err)
	}
	if decoded.Extraction == nil || decoded.Extraction.Kind != models.ExtractionFlat {
		t.Fatalf("extraction payload lost: %+v", decoded.Extraction)
	}

	// A second completion attempt hits a terminal row.
	if err := s.MarkProcessed(ctx, doc.ID, data, nil, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("double completion must conflict, got %v", err)
	}
}

func TestFailStaleSweepsOnlyOldProcessing(t *testing.T) {
	s := NewDocumentStore(testDB(t))
	ctx := context.Background()

	stale := createDocument(t, s)
	if err := s.ClaimForQueue(ctx, stale.ID, "job-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ClaimProcessing(ctx, stale.ID, "job-1"); err != nil {
		t.Fatalf("claim processing: %v", err)
	}

	fresh := createDocument(t, s)

	// Nothing is older than an hour yet.
	swept, err := s.FailStale(ctx, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("fail stale: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected no sweep, got %d", swept)
	}

	// With a zero threshold the processing document is overdue.
	swept, err = s.FailStale(ctx, 0, time.Now())
	if err != nil {
		t.Fatalf("fail stale: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept document, got %d", swept)
	}

	got, _ := s.Get(ctx, stale.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	data, _ := models.UnmarshalOCRData(got.OCRData)
	if data.ErrorType != "stale" || data.Retryable == nil || !*data.Retryable {
		t.Fatalf("stale failure must be retryable, got %+v", data)
	}

	untouched, _ := s.Get(ctx, fresh.ID)
	if untouched.Status != models.StatusUploaded {
		t.Fatalf("uploaded document must not be swept, got %s", untouched.Status)
	}
}

func TestGetByJobID(t *testing.T) {
	s := NewDocumentStore(testDB(t))
	doc := createDocument(t, s)
	ctx := context.Background()

	if _, err := s.GetByJobID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.ClaimForQueue(ctx, doc.ID, "job-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	got, err := s.GetByJobID(ctx, "job-1")
	if err != nil {
		t.Fatalf("get by job: %v", err)
	}
	if got.ID != doc.ID {
		t.Fatalf("wrong document: %s", got.ID)
	}
}

func TestListProcessedByIDsFiltersOwnershipAndStatus(t *testing.T) {
	db := testDB(t)
	s := NewDocumentStore(db)
	ctx := context.Background()

	owner := uuid.New()
	processed := &models.Document{UserID: owner, OrganizationID: uuid.New(), FileName: "a.pdf"}
	if err := s.Create(ctx, processed); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.ClaimForQueue(ctx, processed.ID, "job-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ClaimProcessing(ctx, processed.ID, "job-1"); err != nil {
		t.Fatalf("claim processing: %v", err)
	}
	if err := s.MarkProcessed(ctx, processed.ID, &models.OCRData{ProcessedAt: time.Now()}, nil, nil); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	pending := &models.Document{UserID: owner, OrganizationID: uuid.New(), FileName: "b.pdf"}
	if err := s.Create(ctx, pending); err != nil {
		t.Fatalf("create: %v", err)
	}

	foreign := createDocument(t, s)

	docs, err := s.ListProcessedByIDs(ctx, owner, []uuid.UUID{processed.ID, pending.ID, foreign.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != processed.ID {
		t.Fatalf("expected only the owner's processed document, got %d", len(docs))
	}
}

func TestQuotaStoreIncrements(t *testing.T) {
	db := testDB(t)
	s := NewQuotaStore(db)
	ctx := context.Background()
	orgID := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	usage, err := s.MonthlyUsage(ctx, orgID, now)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.DocumentsCount != 0 || usage.ReportsCount != 0 {
		t.Fatalf("expected zero usage, got %+v", usage)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementDocuments(ctx, orgID, now); err != nil {
			t.Fatalf("increment documents: %v", err)
		}
	}
	if err := s.IncrementReports(ctx, orgID, now); err != nil {
		t.Fatalf("increment reports: %v", err)
	}

	usage, err = s.MonthlyUsage(ctx, orgID, now)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.DocumentsCount != 3 || usage.ReportsCount != 1 {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	// A new month starts a fresh counter row.
	nextMonth := now.AddDate(0, 1, 0)
	usage, err = s.MonthlyUsage(ctx, orgID, nextMonth)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.DocumentsCount != 0 {
		t.Fatalf("new month must reset usage, got %+v", usage)
	}
}

func TestReportUpdateScopesForcesManual(t *testing.T) {
	db := testDB(t)
	s := NewReportStore(db)
	ctx := context.Background()

	report := &models.Report{
		UserID:            uuid.New(),
		OrganizationID:    uuid.New(),
		Type:              models.Report296FZ,
		CalculationMethod: models.CalcAutomatic,
		Scope1:            1, Scope2: 2, Scope3: 3,
		TotalEmissions: 6,
	}
	if err := s.Create(ctx, report); err != nil {
		t.Fatalf("create report: %v", err)
	}

	if err := s.UpdateScopes(ctx, report.ID, 10, 20, 30); err != nil {
		t.Fatalf("update scopes: %v", err)
	}

	got, err := s.Get(ctx, report.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CalculationMethod != models.CalcManual {
		t.Fatalf("manual edit must switch the calculation method, got %s", got.CalculationMethod)
	}
	if got.TotalEmissions != 60 {
		t.Fatalf("total must be recomputed, got %v", got.TotalEmissions)
	}
}

func floatPtr(v float64) *float64 { return &v }
