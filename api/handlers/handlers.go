package handlers

import (
	"github.com/esg-lite/emissions-pipeline/internal/quota"
	"github.com/esg-lite/emissions-pipeline/internal/service/ocr"
	"github.com/esg-lite/emissions-pipeline/internal/service/report"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	OCR      *OCRHandler
	Report   *ReportHandler
	Quota    *QuotaHandler
	Health   *HealthHandler
}

func NewHandlers(
	ocrService *ocr.Service,
	reportService *report.Service,
	gate *quota.Gate,
	health *HealthHandler,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(ocrService, log),
		OCR:      NewOCRHandler(ocrService, log),
		Report:   NewReportHandler(reportService, log),
		Quota:    NewQuotaHandler(gate, log),
		Health:   health,
	}
}
