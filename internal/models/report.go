package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ReportType enumerates the regulatory report formats.
type ReportType string

const (
	Report296FZ           ReportType = "REPORT_296FZ"
	ReportCBAM            ReportType = "CBAM"
	ReportCarbonFootprint ReportType = "CARBON_FOOTPRINT"
)

// ValidReportType reports whether t is a known report format.
func ValidReportType(t ReportType) bool {
	switch t {
	case Report296FZ, ReportCBAM, ReportCarbonFootprint:
		return true
	}
	return false
}

// CalculationMethod discriminates how report totals were produced. It is
// always set; the two modes are never mixed within one report.
type CalculationMethod string

const (
	CalcAutomatic CalculationMethod = "automatic_from_documents"
	CalcManual    CalculationMethod = "manual_input"
)

// Report is an immutable snapshot of emission totals, built from the
// documents that were PROCESSED at creation time. The only mutation path is
// an explicit manual edit.
//
// Invariant: TotalEmissions == Scope1+Scope2+Scope3 within floating-point
// tolerance, and every scope value is non-negative.
type Report struct {
	ID                uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID         `gorm:"type:uuid;index" json:"userId"`
	OrganizationID    uuid.UUID         `gorm:"type:uuid;index" json:"organizationId"`
	Type              ReportType        `json:"type"`
	CalculationMethod CalculationMethod `json:"calculationMethod"`
	TotalEmissions    float64           `json:"totalEmissions"` // tonnes CO2e
	Scope1            float64           `json:"scope1"`
	Scope2            float64           `json:"scope2"`
	Scope3            float64           `json:"scope3"`
	DocumentCount     int               `json:"documentCount"`
	EmissionData      datatypes.JSON    `json:"emissionData,omitempty"` // per-document provenance
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}
