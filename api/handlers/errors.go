package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/esg-lite/emissions-pipeline/internal/quota"
	"github.com/esg-lite/emissions-pipeline/internal/service/ocr"
	"github.com/esg-lite/emissions-pipeline/internal/service/report"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/queue"
)

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}

// respondServiceError maps the service error taxonomy onto HTTP. Retryable
// queue conditions come back as 429/503 so clients can back off; everything
// unrecognized is a 500 with the detail kept in the logs only.
func respondServiceError(c *gin.Context, log logger.Logger, err error) {
	var rateErr *ocr.RateLimitError

	switch {
	case errors.Is(err, ocr.ErrNotFound), errors.Is(err, report.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ocr.ErrForbidden), errors.Is(err, report.ErrForbidden):
		respondError(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, ocr.ErrAlreadyInFlight), errors.Is(err, queue.ErrDuplicateJob):
		respondError(c, http.StatusConflict, "ALREADY_PROCESSING", err.Error())
	case errors.As(err, &rateErr):
		c.Header("Retry-After", strconv.Itoa(rateErr.Decision.RetryAfterSeconds))
		respondError(c, http.StatusTooManyRequests, "RATE_LIMITED", rateErr.Decision.Reason)
	case errors.Is(err, queue.ErrQueueFull):
		respondError(c, http.StatusTooManyRequests, "QUEUE_FULL", err.Error())
	case errors.Is(err, quota.ErrMonthlyQuotaExceeded):
		respondError(c, http.StatusForbidden, "MONTHLY_QUOTA_EXCEEDED", err.Error())
	case errors.Is(err, quota.ErrQuotaStoreUnavailable), errors.Is(err, queue.ErrUnavailable):
		respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error())
	case errors.Is(err, ocr.ErrInvalidFile), errors.Is(err, report.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		log.Error("unhandled service error",
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
