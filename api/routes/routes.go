package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/esg-lite/emissions-pipeline/api/handlers"
	"github.com/esg-lite/emissions-pipeline/api/middleware"
)

// SetupRoutes wires the HTTP surface.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	v1 := r.Group("/api/v1")

	v1.GET("/health", h.Health.Check)

	authed := v1.Group("")
	authed.Use(middleware.Identity())

	docs := authed.Group("/documents")
	{
		docs.POST("", h.Document.Upload)
		docs.POST("/batch", h.Document.UploadBatch)
		docs.GET("/:id", h.Document.Get)
	}

	ocrGroup := authed.Group("/ocr")
	{
		ocrGroup.POST("", h.OCR.Enqueue)
		ocrGroup.GET("", h.OCR.Status)
		ocrGroup.POST("/:documentId/reprocess", h.OCR.Reprocess)
	}

	reports := authed.Group("/reports")
	{
		reports.POST("", h.Report.Create)
		reports.GET("", h.Report.List)
		reports.GET("/:id", h.Report.Get)
		reports.PUT("/:id", h.Report.Update)
	}

	authed.GET("/quota", h.Quota.Get)
}
