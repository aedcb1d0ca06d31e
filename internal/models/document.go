package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DocumentStatus is the persisted lifecycle state of an uploaded document.
// The database is the system of record; the queue only knows about in-flight
// jobs.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "UPLOADED"
	StatusQueued     DocumentStatus = "QUEUED"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusProcessed  DocumentStatus = "PROCESSED"
	StatusFailed     DocumentStatus = "FAILED"
)

// Terminal reports whether the status is final. Terminal states are always
// trusted from the database, since the queue may have dropped the job.
func (s DocumentStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// InFlight reports whether a job may currently exist for the document.
func (s DocumentStatus) InFlight() bool {
	return s == StatusQueued || s == StatusProcessing
}

// DocumentCategory tags a document with the operational area it belongs to.
// The category, not the extraction source, decides the emission scope bucket.
type DocumentCategory string

const (
	CategoryProduction DocumentCategory = "PRODUCTION"
	CategorySuppliers  DocumentCategory = "SUPPLIERS"
	CategoryWaste      DocumentCategory = "WASTE"
	CategoryTransport  DocumentCategory = "TRANSPORT"
	CategoryEnergy     DocumentCategory = "ENERGY"
	CategoryOther      DocumentCategory = "OTHER"
	CategoryUnknown    DocumentCategory = "UNKNOWN"
)

// ValidCategory reports whether c is one of the known category tags.
func ValidCategory(c DocumentCategory) bool {
	switch c {
	case CategoryProduction, CategorySuppliers, CategoryWaste,
		CategoryTransport, CategoryEnergy, CategoryOther, CategoryUnknown:
		return true
	}
	return false
}

// Document is one uploaded file.
//
// Invariants:
//   - Status PROCESSED implies OCRProcessed=true and non-null OCRData.
//   - Status QUEUED or PROCESSING implies a non-null JobID.
//   - At most one non-terminal job exists per document; enqueue is rejected
//     while the status is QUEUED or PROCESSING.
type Document struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             uuid.UUID        `gorm:"type:uuid;index" json:"userId"`
	OrganizationID     uuid.UUID        `gorm:"type:uuid;index" json:"organizationId"`
	FileKey            string           `json:"fileKey"`
	FileName           string           `json:"fileName"`
	MimeType           string           `json:"mimeType"`
	FileSize           int64            `json:"fileSize"`
	Status             DocumentStatus   `gorm:"index" json:"status"`
	ProcessingProgress int              `json:"processingProgress"` // 0-100
	ProcessingStage    string           `json:"processingStage"`
	JobID              *string          `gorm:"index" json:"jobId,omitempty"`
	OCRProcessed       bool             `json:"ocrProcessed"`
	OCRData            datatypes.JSON   `json:"ocrData,omitempty"`
	OCRConfidence      *float64         `json:"ocrConfidence,omitempty"` // 0.0-1.0
	ExtractedINN       *string          `json:"extractedINN,omitempty"`
	INNMatches         *bool            `json:"innMatches,omitempty"` // tri-state: nil means unknown
	Category           DocumentCategory `json:"category"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// OCRData is the persisted result payload of one extraction attempt.
// Stored as JSONB in Document.OCRData.
type OCRData struct {
	FullText         string      `json:"fullText,omitempty"`
	TextPreview      string      `json:"textPreview,omitempty"` // first 200 chars
	TextLength       int         `json:"textLength,omitempty"`
	ProcessedAt      time.Time   `json:"processedAt"`
	Provider         string      `json:"provider,omitempty"`
	Confidence       float64     `json:"confidence,omitempty"`
	ProcessingTimeMs int64       `json:"processingTime,omitempty"`
	Extraction       *Extraction `json:"extraction,omitempty"`
	Error            string      `json:"error,omitempty"`
	ErrorType        string      `json:"errorType,omitempty"`
	Retryable        *bool       `json:"retryable,omitempty"`
}

// TextPreviewOf truncates extracted text to the persisted preview length.
func TextPreviewOf(text string) string {
	const previewLen = 200
	runes := []rune(text)
	if len(runes) <= previewLen {
		return text
	}
	return string(runes[:previewLen])
}

// MarshalOCRData serializes an OCRData payload for the JSONB column.
func MarshalOCRData(d *OCRData) (datatypes.JSON, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal ocr data: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// UnmarshalOCRData decodes the JSONB column back into the typed payload.
// A null or empty column yields nil, not an error.
func UnmarshalOCRData(raw datatypes.JSON) (*OCRData, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var d OCRData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("unmarshal ocr data: %w", err)
	}
	return &d, nil
}
