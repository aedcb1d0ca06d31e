package report

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/esg-lite/emissions-pipeline/internal/aggregate"
	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/internal/quota"
	"github.com/esg-lite/emissions-pipeline/internal/store"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

type fakeCounters struct{}

func (fakeCounters) Get(ctx context.Context, key string) (int64, error) { return 0, nil }
func (fakeCounters) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 1, nil
}

type env struct {
	svc       *Service
	documents *store.DocumentStore
	quotas    *store.QuotaStore
	ident     Identity
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logger.NewTestLogger()
	documents := store.NewDocumentStore(db)
	quotas := store.NewQuotaStore(db)
	gate := quota.NewGate(fakeCounters{}, quotas, &quota.Config{
		Window:           time.Minute,
		RateLimits:       map[quota.Tier]int{quota.TierFree: 3},
		MonthlyDocuments: 100,
		MonthlyReports:   2,
	}, log)

	svc := NewService(store.NewReportStore(db), documents, aggregate.NewEngine(log), gate, log)

	return &env{
		svc:       svc,
		documents: documents,
		quotas:    quotas,
		ident:     Identity{UserID: uuid.New(), OrganizationID: uuid.New()},
	}
}

func (e *env) processedDocument(t *testing.T, category models.DocumentCategory, ext *models.Extraction) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{
		UserID:         e.ident.UserID,
		OrganizationID: e.ident.OrganizationID,
		FileName:       "doc.pdf",
		Category:       category,
	}
	if err := e.documents.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	jobID := uuid.New().String()
	if err := e.documents.ClaimForQueue(ctx, doc.ID, jobID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := e.documents.ClaimProcessing(ctx, doc.ID, jobID); err != nil {
		t.Fatalf("claim processing: %v", err)
	}
	if err := e.documents.MarkProcessed(ctx, doc.ID, &models.OCRData{
		ProcessedAt: time.Now(),
		Extraction:  ext,
	}, nil, nil); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	return doc
}

func floatPtr(v float64) *float64 { return &v }

func TestCreateAutomaticReport(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	transport := e.processedDocument(t, models.CategoryTransport, models.NewTransportExtraction(3000))
	energy := e.processedDocument(t, models.CategoryEnergy, models.NewFlatExtraction(models.FlatExtraction{CO2: floatPtr(2)}))

	rep, err := e.svc.Create(ctx, e.ident, &CreateRequest{
		Type:        models.Report296FZ,
		DocumentIDs: []uuid.UUID{transport.ID, energy.ID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if rep.CalculationMethod != models.CalcAutomatic {
		t.Fatalf("expected automatic method, got %s", rep.CalculationMethod)
	}
	if rep.Scope1 != 3 || rep.Scope2 != 2 {
		t.Fatalf("unexpected scopes: %+v", rep)
	}
	if math.Abs(rep.TotalEmissions-(rep.Scope1+rep.Scope2+rep.Scope3)) > 1e-9 {
		t.Fatalf("total must equal the scope sum: %+v", rep)
	}
	if rep.DocumentCount != 2 {
		t.Fatalf("expected 2 contributing documents, got %d", rep.DocumentCount)
	}

	var totals aggregate.Totals
	if err := json.Unmarshal(rep.EmissionData, &totals); err != nil {
		t.Fatalf("provenance payload unreadable: %v", err)
	}
	if len(totals.Contributions) != 2 {
		t.Fatalf("expected per-document provenance, got %+v", totals)
	}
}

func TestCreateAutomaticSkipsUnprocessedDocuments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	processed := e.processedDocument(t, models.CategoryEnergy, models.NewFlatExtraction(models.FlatExtraction{Emissions: floatPtr(4)}))

	pending := &models.Document{UserID: e.ident.UserID, OrganizationID: e.ident.OrganizationID}
	if err := e.documents.Create(ctx, pending); err != nil {
		t.Fatalf("create: %v", err)
	}

	rep, err := e.svc.Create(ctx, e.ident, &CreateRequest{
		Type:        models.ReportCarbonFootprint,
		DocumentIDs: []uuid.UUID{processed.ID, pending.ID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rep.DocumentCount != 1 || rep.TotalEmissions != 4 {
		t.Fatalf("only processed documents may contribute: %+v", rep)
	}
}

func TestCreateManualReport(t *testing.T) {
	e := newEnv(t)

	rep, err := e.svc.Create(context.Background(), e.ident, &CreateRequest{
		Type:   models.ReportCBAM,
		Manual: &ManualScopes{Scope1: 1.5, Scope2: 2.5, Scope3: 3},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rep.CalculationMethod != models.CalcManual {
		t.Fatalf("expected manual method, got %s", rep.CalculationMethod)
	}
	if rep.TotalEmissions != 7 {
		t.Fatalf("expected total 7, got %v", rep.TotalEmissions)
	}
}

func TestCreateRejectsMixedModes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, e.ident, &CreateRequest{
		Type:        models.ReportCBAM,
		DocumentIDs: []uuid.UUID{uuid.New()},
		Manual:      &ManualScopes{Scope1: 1},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("mixed modes must be rejected, got %v", err)
	}

	_, err = e.svc.Create(ctx, e.ident, &CreateRequest{Type: models.ReportCBAM})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty request must be rejected, got %v", err)
	}

	_, err = e.svc.Create(ctx, e.ident, &CreateRequest{
		Type:   "QUARTERLY",
		Manual: &ManualScopes{},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown type must be rejected, got %v", err)
	}
}

func TestCreateEnforcesMonthlyCeiling(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := e.svc.Create(ctx, e.ident, &CreateRequest{
			Type:   models.ReportCBAM,
			Manual: &ManualScopes{Scope1: 1},
		}); err != nil {
			t.Fatalf("create %d: %v", i+1, err)
		}
	}

	_, err := e.svc.Create(ctx, e.ident, &CreateRequest{
		Type:   models.ReportCBAM,
		Manual: &ManualScopes{Scope1: 1},
	})
	if !errors.Is(err, quota.ErrMonthlyQuotaExceeded) {
		t.Fatalf("expected monthly ceiling, got %v", err)
	}
}

func TestUpdateSwitchesToManual(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	doc := e.processedDocument(t, models.CategoryEnergy, models.NewFlatExtraction(models.FlatExtraction{Emissions: floatPtr(4)}))
	rep, err := e.svc.Create(ctx, e.ident, &CreateRequest{
		Type:        models.Report296FZ,
		DocumentIDs: []uuid.UUID{doc.ID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := e.svc.Update(ctx, e.ident, rep.ID, &ManualScopes{Scope1: 9, Scope2: 0, Scope3: 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CalculationMethod != models.CalcManual {
		t.Fatalf("manual edit must switch the method, got %s", updated.CalculationMethod)
	}
	if updated.TotalEmissions != 10 {
		t.Fatalf("total must be recomputed, got %v", updated.TotalEmissions)
	}

	stranger := Identity{UserID: uuid.New(), OrganizationID: uuid.New()}
	if _, err := e.svc.Update(ctx, stranger, rep.ID, &ManualScopes{Scope1: 1}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
