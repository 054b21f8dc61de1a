// Package router sets up all HTTP routes for the API.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/scrybe-hq/form-intake-api/internal/database"
	"github.com/scrybe-hq/form-intake-api/internal/handlers"
	"github.com/scrybe-hq/form-intake-api/internal/middleware"
	"github.com/scrybe-hq/form-intake-api/internal/services/conversion"
	"github.com/scrybe-hq/form-intake-api/internal/services/worker"
)

// Setup creates and configures the Gin router with all routes.
func Setup(db *database.DB, wp *worker.Pool, converter *conversion.Service, jwtSecret, adminKey string, allowedOrigins []string) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.CORS(allowedOrigins))

	h := handlers.NewHandler(db, wp, converter, jwtSecret, adminKey)
	rateLimiter := middleware.NewRateLimiter()

	// --- Public Routes (no auth required) ---
	r.GET("/api/v1/health", h.HealthCheck)
	r.POST("/api/v1/auth/register", h.Register)
	r.POST("/api/v1/auth/login", h.Login)

	// --- Admin Routes (deployment operator only) ---
	admin := r.Group("/api/v1")
	admin.Use(middleware.AdminAuth(adminKey))
	{
		admin.POST("/keys", h.CreateAPIKey)
		admin.GET("/keys", h.ListAPIKeys)
		admin.DELETE("/keys/:id", h.RevokeAPIKey)
		admin.PUT("/flags", h.SetFeatureFlag)
	}

	// --- Protected Routes (API key OR JWT) ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.DualAuth(db, jwtSecret))
	protected.Use(rateLimiter.RateLimit())
	{
		protected.GET("/auth/me", h.GetMe)

		// Conversion pipeline
		protected.POST("/conversions", h.CreateConversion)
		protected.GET("/conversions", h.ListConversions)
		protected.GET("/conversions/:id", h.GetConversion)
		protected.POST("/conversions/:id/accept", h.AcceptConversion)
		protected.DELETE("/conversions/:id", h.DeleteConversion)

		// Forms created from accepted conversions
		protected.GET("/forms", h.ListForms)
		protected.GET("/forms/:id", h.GetForm)
		protected.DELETE("/forms/:id", h.ArchiveForm)
	}

	return r
}
