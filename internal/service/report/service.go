package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/esg-lite/emissions-pipeline/internal/aggregate"
	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/internal/quota"
	"github.com/esg-lite/emissions-pipeline/internal/store"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

var (
	ErrNotFound     = errors.New("report not found")
	ErrForbidden    = errors.New("report belongs to another user")
	ErrInvalidInput = errors.New("invalid report input")
)

// CreateRequest is the POST /reports payload. Exactly one mode applies:
// automatic aggregation over documentIds, or explicit manual scope values.
type CreateRequest struct {
	Type        models.ReportType `json:"type"`
	DocumentIDs []uuid.UUID       `json:"documentIds,omitempty"`
	Manual      *ManualScopes     `json:"manual,omitempty"`
}

// ManualScopes carries user-entered totals in tonnes CO2e.
type ManualScopes struct {
	Scope1 float64 `json:"scope1"`
	Scope2 float64 `json:"scope2"`
	Scope3 float64 `json:"scope3"`
}

// Service builds and serves report snapshots.
type Service struct {
	reports   *store.ReportStore
	documents *store.DocumentStore
	engine    *aggregate.Engine
	gate      *quota.Gate
	logger    logger.Logger
}

func NewService(
	reports *store.ReportStore,
	documents *store.DocumentStore,
	engine *aggregate.Engine,
	gate *quota.Gate,
	log logger.Logger,
) *Service {
	return &Service{
		reports:   reports,
		documents: documents,
		engine:    engine,
		gate:      gate,
		logger:    log,
	}
}

// Identity mirrors the caller identity resolved by the auth middleware.
type Identity struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
}

// Create builds one report snapshot. Automatic mode aggregates the caller's
// documents that are PROCESSED right now; documents still in flight or
// failed simply do not contribute. Manual mode trusts the given scopes.
// The calculation method is recorded unconditionally so the two modes are
// never ambiguous.
func (s *Service) Create(ctx context.Context, id Identity, req *CreateRequest) (*models.Report, error) {
	if !models.ValidReportType(req.Type) {
		return nil, fmt.Errorf("%w: unknown report type %q", ErrInvalidInput, req.Type)
	}
	if req.Manual != nil && len(req.DocumentIDs) > 0 {
		return nil, fmt.Errorf("%w: manual scopes and documentIds are mutually exclusive", ErrInvalidInput)
	}
	if req.Manual == nil && len(req.DocumentIDs) == 0 {
		return nil, fmt.Errorf("%w: either manual scopes or documentIds required", ErrInvalidInput)
	}

	if err := s.gate.CheckMonthlyReports(ctx, id.OrganizationID); err != nil {
		return nil, err
	}

	report := &models.Report{
		ID:             uuid.New(),
		UserID:         id.UserID,
		OrganizationID: id.OrganizationID,
		Type:           req.Type,
	}

	if req.Manual != nil {
		m := req.Manual
		if m.Scope1 < 0 || m.Scope2 < 0 || m.Scope3 < 0 {
			return nil, fmt.Errorf("%w: scope values must be non-negative", ErrInvalidInput)
		}
		report.CalculationMethod = models.CalcManual
		report.Scope1 = m.Scope1
		report.Scope2 = m.Scope2
		report.Scope3 = m.Scope3
		report.TotalEmissions = m.Scope1 + m.Scope2 + m.Scope3
	} else {
		docs, err := s.documents.ListProcessedByIDs(ctx, id.UserID, req.DocumentIDs)
		if err != nil {
			return nil, err
		}

		totals := s.engine.Aggregate(docs)

		provenance, err := json.Marshal(totals)
		if err != nil {
			return nil, fmt.Errorf("marshal emission data: %w", err)
		}

		report.CalculationMethod = models.CalcAutomatic
		report.Scope1 = totals.Scope1
		report.Scope2 = totals.Scope2
		report.Scope3 = totals.Scope3
		report.TotalEmissions = totals.Total
		report.DocumentCount = totals.ContributingCount
		report.EmissionData = datatypes.JSON(provenance)
	}

	if err := s.reports.Create(ctx, report); err != nil {
		return nil, err
	}
	s.gate.RecordReport(ctx, id.OrganizationID)

	s.logger.Info("Report created",
		logger.String("reportId", report.ID.String()),
		logger.String("type", string(report.Type)),
		logger.String("method", string(report.CalculationMethod)),
		logger.Float64("totalEmissions", report.TotalEmissions),
		logger.Int("documentCount", report.DocumentCount),
	)
	return report, nil
}

func (s *Service) Get(ctx context.Context, id Identity, reportID uuid.UUID) (*models.Report, error) {
	report, err := s.reports.Get(ctx, reportID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if report.UserID != id.UserID {
		return nil, ErrForbidden
	}
	return report, nil
}

func (s *Service) List(ctx context.Context, id Identity) ([]models.Report, error) {
	return s.reports.ListForUser(ctx, id.UserID)
}

// Update applies the explicit manual edit, the one mutation reports accept.
func (s *Service) Update(ctx context.Context, id Identity, reportID uuid.UUID, scopes *ManualScopes) (*models.Report, error) {
	if scopes == nil {
		return nil, fmt.Errorf("%w: scope values required", ErrInvalidInput)
	}
	if scopes.Scope1 < 0 || scopes.Scope2 < 0 || scopes.Scope3 < 0 {
		return nil, fmt.Errorf("%w: scope values must be non-negative", ErrInvalidInput)
	}

	existing, err := s.Get(ctx, id, reportID)
	if err != nil {
		return nil, err
	}

	if err := s.reports.UpdateScopes(ctx, reportID, scopes.Scope1, scopes.Scope2, scopes.Scope3); err != nil {
		return nil, err
	}

	s.logger.Info("Report manually edited",
		logger.String("reportId", reportID.String()),
		logger.String("previousMethod", string(existing.CalculationMethod)),
	)
	return s.Get(ctx, id, reportID)
}
