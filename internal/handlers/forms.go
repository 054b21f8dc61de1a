// forms.go handles form read endpoints.
//
// Forms are created exclusively through conversion accept — there is no
// direct form-creation endpoint.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scrybe-hq/form-intake-api/internal/middleware"
	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// formResponse pairs a form with its field rows.
type formResponse struct {
	Form   models.Form        `json:"form"`
	Fields []models.FormField `json:"fields"`
}

// GetForm retrieves a form and its fields.
// GET /api/v1/forms/:id
func (h *Handler) GetForm(c *gin.Context) {
	orgID := middleware.GetOrgID(c)
	form, fields, err := h.DB.GetForm(c.Request.Context(), orgID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Form not found",
			Code:    http.StatusNotFound,
		})
		return
	}
	if fields == nil {
		fields = []models.FormField{}
	}
	c.JSON(http.StatusOK, formResponse{Form: *form, Fields: fields})
}

// ListForms returns the org's forms, newest first.
// GET /api/v1/forms
func (h *Handler) ListForms(c *gin.Context) {
	orgID := middleware.GetOrgID(c)
	forms, err := h.DB.ListForms(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to list forms",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if forms == nil {
		forms = []models.Form{}
	}
	c.JSON(http.StatusOK, forms)
}

// ArchiveForm soft-deletes a form. It stops matching in duplicate
// detection but its data is retained.
// DELETE /api/v1/forms/:id
func (h *Handler) ArchiveForm(c *gin.Context) {
	orgID := middleware.GetOrgID(c)
	if err := h.DB.ArchiveForm(c.Request.Context(), orgID, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Form not found",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Form archived"})
}
