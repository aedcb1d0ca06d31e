package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/api/middleware"
	"github.com/esg-lite/emissions-pipeline/internal/service/ocr"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

type OCRHandler struct {
	service *ocr.Service
	logger  logger.Logger
}

func NewOCRHandler(service *ocr.Service, log logger.Logger) *OCRHandler {
	return &OCRHandler{service: service, logger: log}
}

type enqueueRequest struct {
	DocumentID string `json:"documentId" binding:"required"`
}

// Enqueue handles POST /ocr: submit one processing job for a document.
func (h *OCRHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "documentId is required")
		return
	}
	documentID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "malformed documentId")
		return
	}

	ident := middleware.CallerIdentity(c)
	res, err := h.service.EnqueueOCR(c.Request.Context(), ident, documentID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusAccepted, res)
}

// Status handles GET /ocr?documentId=...|jobId=...: the unified processing
// status resolved across queue and database.
func (h *OCRHandler) Status(c *gin.Context) {
	docParam := c.Query("documentId")
	jobParam := c.Query("jobId")
	ident := middleware.CallerIdentity(c)

	switch {
	case docParam != "":
		documentID, err := uuid.Parse(docParam)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_INPUT", "malformed documentId")
			return
		}
		status, err := h.service.GetStatus(c.Request.Context(), ident, documentID)
		if err != nil {
			respondServiceError(c, h.logger, err)
			return
		}
		respondData(c, http.StatusOK, status)
	case jobParam != "":
		status, err := h.service.GetStatusByJob(c.Request.Context(), ident, jobParam)
		if err != nil {
			respondServiceError(c, h.logger, err)
			return
		}
		respondData(c, http.StatusOK, status)
	default:
		respondError(c, http.StatusBadRequest, "MISSING_PARAMETERS", "documentId or jobId query parameter is required")
	}
}

// Reprocess handles POST /ocr/:documentId/reprocess.
func (h *OCRHandler) Reprocess(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("documentId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "malformed document id")
		return
	}

	ident := middleware.CallerIdentity(c)
	res, err := h.service.Reprocess(c.Request.Context(), ident, documentID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusAccepted, res)
}
