// Package middleware provides HTTP middleware for the API.
//
// Go Pattern: Middleware in Go is a function that wraps an HTTP handler.
// In Gin, middleware is a gin.HandlerFunc that calls c.Next() to continue
// the chain, or c.Abort() to stop processing. This is similar to Express.js
// middleware, but with explicit control flow.
package middleware

import (
	"crypto/sha256"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scrybe-hq/form-intake-api/internal/database"
	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions.
// Go Pattern: Use unexported types for context keys so other packages
// can't accidentally overwrite your values.
type contextKey string

const apiKeyContextKey contextKey = "api_key"

// APIKeyAuth returns middleware that validates the X-API-Key header.
//
// How it works:
// 1. Read the X-API-Key header
// 2. Hash it (we never store raw keys)
// 3. Look up the hash in the database
// 4. If valid, store the key info in the request context
// 5. If invalid, return 401 Unauthorized
func APIKeyAuth(db *database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader("X-API-Key")
		if rawKey == "" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "Missing X-API-Key header. Create an API key via POST /api/v1/keys",
				Code:    http.StatusUnauthorized,
			})
			c.Abort() // Stop the middleware chain — don't call the handler
			return
		}

		keyHash := HashAPIKey(rawKey)
		apiKey, err := db.GetAPIKeyByHash(c.Request.Context(), keyHash)
		if err != nil {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or revoked API key",
				Code:    http.StatusUnauthorized,
			})
			c.Abort()
			return
		}

		c.Set(string(apiKeyContextKey), apiKey)

		// Update last_used_at (fire and forget — don't block the request)
		go db.UpdateAPIKeyLastUsed(c.Request.Context(), apiKey.ID)

		c.Next()
	}
}

// AdminAuth returns middleware for the key-management endpoints. It
// accepts only the deployment's admin API key from config.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" || c.GetHeader("X-Admin-Key") != adminKey {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "Admin access required",
				Code:    http.StatusUnauthorized,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetAPIKey retrieves the authenticated API key from the request context.
// Call this in your handlers after the auth middleware has run.
func GetAPIKey(c *gin.Context) *models.APIKey {
	val, exists := c.Get(string(apiKeyContextKey))
	if !exists {
		return nil
	}
	// Go Pattern: Type assertion with the comma-ok idiom — safe, won't panic.
	key, ok := val.(*models.APIKey)
	if !ok {
		return nil
	}
	return key
}

// GetOrgID returns the organization the request is acting for, from
// whichever auth path succeeded. Empty string means unauthenticated.
func GetOrgID(c *gin.Context) string {
	if user := GetUser(c); user != nil {
		return user.OrgID
	}
	if key := GetAPIKey(c); key != nil {
		return key.OrgID
	}
	return ""
}

// GetActorID returns the ID recorded as created_by on resources this
// request creates: the user ID for JWT auth, the key ID for API keys.
func GetActorID(c *gin.Context) string {
	if user := GetUser(c); user != nil {
		return user.ID
	}
	if key := GetAPIKey(c); key != nil {
		return key.ID
	}
	return ""
}

// HashAPIKey creates a SHA-256 hash of an API key.
// We store hashes, not raw keys — same principle as password hashing.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}
