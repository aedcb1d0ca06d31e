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

// QuotaStore tracks hard monthly ceilings. Counters live in Postgres so a
// process restart never resets them; unlike the sliding rate window this
// store never fails open.
type QuotaStore struct {
	db *gorm.DB
}

func NewQuotaStore(db *gorm.DB) *QuotaStore {
	return &QuotaStore{db: db}
}

// MonthlyUsage returns the counters for the organization's current month.
// A missing row means zero usage.
func (s *QuotaStore) MonthlyUsage(ctx context.Context, orgID uuid.UUID, now time.Time) (*models.OrganizationQuota, error) {
	month := models.QuotaMonth(now)
	var q models.OrganizationQuota
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND month = ?", orgID, month).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.OrganizationQuota{OrganizationID: orgID, Month: month}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("monthly usage: %w", err)
	}
	return &q, nil
}

// IncrementDocuments bumps the monthly document counter. Called only after
// the gated operation itself succeeded.
func (s *QuotaStore) IncrementDocuments(ctx context.Context, orgID uuid.UUID, now time.Time) error {
	return s.increment(ctx, orgID, now, "documents_count")
}

// IncrementReports bumps the monthly report counter.
func (s *QuotaStore) IncrementReports(ctx context.Context, orgID uuid.UUID, now time.Time) error {
	return s.increment(ctx, orgID, now, "reports_count")
}

func (s *QuotaStore) increment(ctx context.Context, orgID uuid.UUID, now time.Time, column string) error {
	month := models.QuotaMonth(now)
	res := s.db.WithContext(ctx).Model(&models.OrganizationQuota{}).
		Where("organization_id = ? AND month = ?", orgID, month).
		Update(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment %s: %w", column, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	row := &models.OrganizationQuota{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Month:          month,
	}
	switch column {
	case "documents_count":
		row.DocumentsCount = 1
	case "reports_count":
		row.ReportsCount = 1
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		// Lost the insert race to a concurrent request; retry the update once.
		res := s.db.WithContext(ctx).Model(&models.OrganizationQuota{}).
			Where("organization_id = ? AND month = ?", orgID, month).
			Update(column, gorm.Expr(column+" + 1"))
		if res.Error != nil || res.RowsAffected == 0 {
			return fmt.Errorf("increment %s: %w", column, err)
		}
	}
	return nil
}
