package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/esg-lite/emissions-pipeline/api/middleware"
	"github.com/esg-lite/emissions-pipeline/internal/quota"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

type QuotaHandler struct {
	gate   *quota.Gate
	logger logger.Logger
}

func NewQuotaHandler(gate *quota.Gate, log logger.Logger) *QuotaHandler {
	return &QuotaHandler{gate: gate, logger: log}
}

// Get handles GET /quota: the organization's current window and monthly
// counters against their limits.
func (h *QuotaHandler) Get(c *gin.Context) {
	ident := middleware.CallerIdentity(c)

	usage, err := h.gate.CurrentUsage(c.Request.Context(), ident.OrganizationID, ident.Tier)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusOK, usage)
}
