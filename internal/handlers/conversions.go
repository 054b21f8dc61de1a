// conversions.go handles the document-to-form conversion endpoints.
//
// POST   /api/v1/conversions            — upload a document, start a conversion
// GET    /api/v1/conversions            — list the org's conversions
// GET    /api/v1/conversions/:id        — get one conversion
// POST   /api/v1/conversions/:id/accept — create a form from a reviewed conversion
// DELETE /api/v1/conversions/:id        — delete a conversion and its source
package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scrybe-hq/form-intake-api/internal/database"
	"github.com/scrybe-hq/form-intake-api/internal/middleware"
	"github.com/scrybe-hq/form-intake-api/internal/models"
	"github.com/scrybe-hq/form-intake-api/internal/services/conversion"
	"github.com/scrybe-hq/form-intake-api/internal/services/worker"
)

// maxUploadSize caps the multipart body; the validator applies the
// tighter per-type limits afterwards.
const maxUploadSize = 30 << 20 // 30MB

// CreateConversion accepts a multipart document upload and queues the
// processing pipeline.
// POST /api/v1/conversions
//
// Accepts a multipart file upload with field name "file". Returns 202
// with the pending conversion; poll GET /conversions/:id for progress.
func (h *Handler) CreateConversion(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "No file provided. Upload a photo or PDF with the field name 'file'.",
			Code:    http.StatusBadRequest,
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "read_error",
			Message: "Failed to read uploaded file",
			Code:    http.StatusBadRequest,
		})
		return
	}

	orgID := middleware.GetOrgID(c)
	actorID := middleware.GetActorID(c)
	mimeType := header.Header.Get("Content-Type")

	conv, err := h.Converter.Start(c.Request.Context(), orgID, actorID, header.Filename, mimeType, data)
	if err != nil {
		status := http.StatusBadRequest
		errCode := "validation_failed"
		if errors.Is(err, conversion.ErrFeatureDisabled) {
			status = http.StatusForbidden
			errCode = "feature_disabled"
		}
		c.JSON(status, models.ErrorResponse{
			Error:   errCode,
			Message: err.Error(),
			Code:    status,
		})
		return
	}

	if err := h.Worker.Submit(worker.Job{
		ConversionID: conv.ID,
		OrgID:        orgID,
		Type:         worker.JobConversionProcessing,
		CreatedAt:    time.Now(),
	}); err != nil {
		// The record exists as pending; the client can retry or the next
		// deployment restart can requeue it. Surface the backpressure.
		log.Printf("⚠️  Failed to queue conversion %s: %v", conv.ID, err)
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error:   "queue_full",
			Message: "Server is busy; the upload was saved but processing is delayed. Retry later.",
			Code:    http.StatusServiceUnavailable,
		})
		return
	}

	c.JSON(http.StatusAccepted, models.ConversionResponse{Conversion: *conv})
}

// GetConversion retrieves a single conversion by ID.
// GET /api/v1/conversions/:id
func (h *Handler) GetConversion(c *gin.Context) {
	orgID := middleware.GetOrgID(c)
	conv, err := h.Converter.Get(c.Request.Context(), orgID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Conversion not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	resp := models.ConversionResponse{Conversion: *conv}
	if conv.ResultFormID != nil {
		if form, _, err := h.DB.GetForm(c.Request.Context(), orgID, *conv.ResultFormID); err == nil {
			resp.Form = form
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListConversions returns a paginated list of the org's conversions.
// GET /api/v1/conversions?page=1&per_page=20&status=review_required
func (h *Handler) ListConversions(c *gin.Context) {
	var params models.ConversionListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid query parameters",
			Code:    http.StatusBadRequest,
		})
		return
	}

	orgID := middleware.GetOrgID(c)
	conversions, total, err := h.Converter.List(c.Request.Context(), orgID, params)
	if err != nil {
		log.Printf("❌ Failed to list conversions: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to list conversions",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	if conversions == nil {
		conversions = []models.Conversion{}
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PerPage < 1 || params.PerPage > 100 {
		params.PerPage = 20
	}
	totalPages := (total + params.PerPage - 1) / params.PerPage

	c.JSON(http.StatusOK, models.PaginatedResponse[models.Conversion]{
		Data:       conversions,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalItems: total,
		TotalPages: totalPages,
	})
}

// AcceptConversion creates a form from a reviewed conversion.
// POST /api/v1/conversions/:id/accept
func (h *Handler) AcceptConversion(c *gin.Context) {
	var req models.AcceptConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	orgID := middleware.GetOrgID(c)
	actorID := middleware.GetActorID(c)

	conv, form, err := h.Converter.Accept(c.Request.Context(), orgID, actorID, c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: "Conversion not found",
				Code:    http.StatusNotFound,
			})
		case errors.Is(err, conversion.ErrNotReviewable):
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "invalid_state",
				Message: err.Error(),
				Code:    http.StatusConflict,
			})
		case errors.Is(err, conversion.ErrNoFieldsSelected):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "no_fields_selected",
				Message: "No fields selected for form creation",
				Code:    http.StatusBadRequest,
			})
		case errors.Is(err, database.ErrDuplicateFingerprint):
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "duplicate_form",
				Message: err.Error(),
				Code:    http.StatusConflict,
			})
		default:
			log.Printf("❌ Accept conversion failed: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "server_error",
				Message: "Failed to create form",
				Code:    http.StatusInternalServerError,
			})
		}
		return
	}

	c.JSON(http.StatusCreated, models.ConversionResponse{Conversion: *conv, Form: form})
}

// DeleteConversion removes a conversion and its stored source document.
// DELETE /api/v1/conversions/:id
func (h *Handler) DeleteConversion(c *gin.Context) {
	orgID := middleware.GetOrgID(c)
	if err := h.Converter.Delete(c.Request.Context(), orgID, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Conversion not found",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversion deleted"})
}
