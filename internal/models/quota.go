package models

import (
	"time"

	"github.com/google/uuid"
)

// OrganizationQuota tracks hard monthly ceilings per organization. One row
// per (organization, calendar month); counters are incremented atomically at
// admission time and reset by rolling over to a new month row.
type OrganizationQuota struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_org_month" json:"organizationId"`
	Month          string    `gorm:"uniqueIndex:idx_org_month" json:"month"` // "2006-01"
	DocumentsCount int       `json:"documentsCount"`
	ReportsCount   int       `json:"reportsCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// QuotaMonth formats t as the calendar-month key for quota rows.
func QuotaMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}
