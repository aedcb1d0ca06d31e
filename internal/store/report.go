package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/esg-lite/emissions-pipeline/internal/models"
)

// ReportStore persists report snapshots.
type ReportStore struct {
	db *gorm.DB
}

func NewReportStore(db *gorm.DB) *ReportStore {
	return &ReportStore{db: db}
}

func (s *ReportStore) Create(ctx context.Context, report *models.Report) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *ReportStore) Get(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	var report models.Report
	err := s.db.WithContext(ctx).First(&report, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

func (s *ReportStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Report, error) {
	var reports []models.Report
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// UpdateScopes applies an explicit manual edit. This is the only mutation a
// report accepts after creation; it always switches the calculation method
// to manual_input so the two modes are never silently mixed.
func (s *ReportStore) UpdateScopes(ctx context.Context, id uuid.UUID, scope1, scope2, scope3 float64) error {
	res := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"scope1":             scope1,
			"scope2":             scope2,
			"scope3":             scope3,
			"total_emissions":    scope1 + scope2 + scope3,
			"calculation_method": models.CalcManual,
		})
	if res.Error != nil {
		return fmt.Errorf("update report scopes: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
