// apikeys.go handles API key management endpoints.
//
// Key management sits behind AdminAuth: creating a key for an org is a
// deployment-operator action, not something org users do themselves.
package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scrybe-hq/form-intake-api/internal/middleware"
	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// CreateAPIKey generates a new API key for an org.
// POST /api/v1/keys
//
// Request body:
//
//	{"name": "Intake Kiosk", "org_id": "…", "rate_limit": 200}
//
// Response includes the raw key — SAVE IT! It's only shown once.
func (h *Handler) CreateAPIKey(c *gin.Context) {
	var req models.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "name and org_id are required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	// Go Pattern: crypto/rand is the cryptographically secure random source.
	// NEVER use math/rand for security-sensitive things like API keys!
	rawKey, err := generateAPIKey()
	if err != nil {
		log.Printf("❌ Failed to generate API key: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "generation_error",
			Message: "Failed to generate API key",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = 100 // Default: 100 requests/hour
	}

	// Store the HASH, never the raw key.
	key := &models.APIKey{
		OrgID:     req.OrgID,
		KeyHash:   middleware.HashAPIKey(rawKey),
		KeyPrefix: rawKey[:8] + "...", // First 8 chars for identification
		Name:      req.Name,
		Active:    true,
		RateLimit: rateLimit,
	}

	if err := h.DB.CreateAPIKey(c.Request.Context(), key); err != nil {
		log.Printf("❌ Failed to create API key: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to create API key",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	// The raw value appears in this response and never again.
	c.JSON(http.StatusCreated, models.CreateAPIKeyResponse{
		APIKey: *key,
		RawKey: rawKey,
	})
}

// ListAPIKeys returns an org's API keys (without raw key values).
// GET /api/v1/keys?org_id=…
func (h *Handler) ListAPIKeys(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "org_id query parameter is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	keys, err := h.DB.ListAPIKeys(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to list API keys",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	if keys == nil {
		keys = []models.APIKey{}
	}

	c.JSON(http.StatusOK, keys)
}

// RevokeAPIKey deactivates an API key.
// DELETE /api/v1/keys/:id?org_id=…
func (h *Handler) RevokeAPIKey(c *gin.Context) {
	if err := h.DB.RevokeAPIKey(c.Request.Context(), c.Query("org_id"), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "API key not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}

// SetFeatureFlag toggles a feature flag for an org.
// PUT /api/v1/flags
func (h *Handler) SetFeatureFlag(c *gin.Context) {
	var req struct {
		OrgID   string `json:"org_id" binding:"required"`
		Feature string `json:"feature" binding:"required"`
		Enabled bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "org_id and feature are required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if err := h.DB.SetFeatureFlag(c.Request.Context(), req.OrgID, req.Feature, req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to set feature flag",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Feature flag updated"})
}

// generateAPIKey creates a cryptographically secure random API key.
// Format: "fia_" prefix + 32 random hex characters.
func generateAPIKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "fia_" + hex.EncodeToString(bytes), nil
}
