package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/api/middleware"
	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/internal/service/ocr"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

type DocumentHandler struct {
	service *ocr.Service
	logger  logger.Logger
}

func NewDocumentHandler(service *ocr.Service, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{service: service, logger: log}
}

// Upload handles POST /documents: one multipart file plus an optional
// category form field.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "file field is required")
		return
	}
	defer file.Close()

	category := models.DocumentCategory(c.PostForm("category"))
	ident := middleware.CallerIdentity(c)

	doc, err := h.service.Upload(c.Request.Context(), ident, file, header, category)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusCreated, doc)
}

// UploadBatch handles POST /documents/batch with a "files" multipart field.
func (h *DocumentHandler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "invalid multipart form")
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "no files provided")
		return
	}

	category := models.DocumentCategory(c.PostForm("category"))
	ident := middleware.CallerIdentity(c)

	docs, err := h.service.UploadBatch(c.Request.Context(), ident, files, category)
	if err != nil {
		// Partial success still reports the documents that made it.
		h.logger.Warn("batch upload incomplete",
			logger.Int("uploaded", len(docs)),
			logger.Int("requested", len(files)),
			logger.Error(err),
		)
		c.JSON(http.StatusMultiStatus, gin.H{
			"success": false,
			"data":    gin.H{"documents": docs},
			"error":   gin.H{"code": "PARTIAL_FAILURE", "message": err.Error()},
		})
		return
	}

	respondData(c, http.StatusCreated, gin.H{"documents": docs})
}

// Get handles GET /documents/:id, returning the row with its reconciled
// processing status.
func (h *DocumentHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "malformed document id")
		return
	}

	ident := middleware.CallerIdentity(c)
	doc, status, err := h.service.GetDocument(c.Request.Context(), ident, id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	respondData(c, http.StatusOK, gin.H{
		"document":   doc,
		"processing": status,
	})
}
