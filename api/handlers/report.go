package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/api/middleware"
	"github.com/esg-lite/emissions-pipeline/internal/service/report"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

type ReportHandler struct {
	service *report.Service
	logger  logger.Logger
}

func NewReportHandler(service *report.Service, log logger.Logger) *ReportHandler {
	return &ReportHandler{service: service, logger: log}
}

func (h *ReportHandler) identity(c *gin.Context) report.Identity {
	ident := middleware.CallerIdentity(c)
	return report.Identity{UserID: ident.UserID, OrganizationID: ident.OrganizationID}
}

// Create handles POST /reports in either automatic or manual mode.
func (h *ReportHandler) Create(c *gin.Context) {
	var req report.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "malformed report request")
		return
	}

	created, err := h.service.Create(c.Request.Context(), h.identity(c), &req)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusCreated, created)
}

// Get handles GET /reports/:id.
func (h *ReportHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "malformed report id")
		return
	}

	rep, err := h.service.Get(c.Request.Context(), h.identity(c), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusOK, rep)
}

// List handles GET /reports.
func (h *ReportHandler) List(c *gin.Context) {
	reports, err := h.service.List(c.Request.Context(), h.identity(c))
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusOK, gin.H{"reports": reports})
}

// Update handles PUT /reports/:id, the explicit manual edit.
func (h *ReportHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "malformed report id")
		return
	}

	var scopes report.ManualScopes
	if err := c.ShouldBindJSON(&scopes); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "malformed scope values")
		return
	}

	updated, err := h.service.Update(c.Request.Context(), h.identity(c), id, &scopes)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusOK, updated)
}
