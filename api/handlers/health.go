package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/queue"
)

type HealthHandler struct {
	db     *gorm.DB
	queue  queue.Queue
	logger logger.Logger
}

func NewHealthHandler(db *gorm.DB, q queue.Queue, log logger.Logger) *HealthHandler {
	return &HealthHandler{db: db, queue: q, logger: log}
}

// Check handles GET /health: liveness of the database and the queue's Redis.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok", "queue": "ok"}
	healthy := true

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		checks["database"] = err.Error()
		healthy = false
	}

	if err := h.queue.Ping(ctx); err != nil {
		checks["queue"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		h.logger.Warn("health check failed", logger.Any("checks", checks))
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}
