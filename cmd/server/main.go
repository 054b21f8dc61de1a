// Package main is the entry point for the Form Intake API server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrybe-hq/form-intake-api/internal/config"
	"github.com/scrybe-hq/form-intake-api/internal/database"
	"github.com/scrybe-hq/form-intake-api/internal/router"
	"github.com/scrybe-hq/form-intake-api/internal/services/conversion"
	"github.com/scrybe-hq/form-intake-api/internal/services/detect"
	"github.com/scrybe-hq/form-intake-api/internal/services/extract"
	"github.com/scrybe-hq/form-intake-api/internal/services/openrouter"
	"github.com/scrybe-hq/form-intake-api/internal/services/security"
	"github.com/scrybe-hq/form-intake-api/internal/services/worker"
	"github.com/scrybe-hq/form-intake-api/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("🚀 Form Intake API %s starting...", Version)

	// Step 1: Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	log.Printf("📋 Config loaded: port=%s, workers=%d, gin_mode=%s", cfg.Port, cfg.WorkerCount, cfg.GinMode)

	os.Setenv("GIN_MODE", cfg.GinMode)

	// Step 2: Connect to Database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✅ Database connected")

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	// Step 3: Blob Storage
	var blobs storage.Store
	switch cfg.BlobBackend {
	case "s3":
		blobs, err = storage.NewS3Store(context.Background(), cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			log.Fatalf("❌ Failed to initialize S3 storage: %v", err)
		}
		log.Printf("✅ Blob storage: S3 bucket %s", cfg.S3Bucket)
	default:
		blobs, err = storage.NewLocalStore(cfg.BlobDir)
		if err != nil {
			log.Fatalf("❌ Failed to initialize local storage: %v", err)
		}
		log.Printf("✅ Blob storage: local directory %s", cfg.BlobDir)
	}

	// Step 4: Create Services
	client := openrouter.New(cfg.OpenRouterAPIKey)
	if client.IsConfigured() {
		log.Println("✅ OpenRouter configured (vision OCR + field enhancement enabled)")
	} else {
		log.Println("⚠️  No OpenRouter API key set — scanned documents and photos cannot be processed")
	}

	extractor := extract.New(client, cfg.VisionModel)
	detector := detect.New(client, cfg.OpenRouterModel)
	validator := security.NewValidator(security.Config{
		MaxPhotoBytes: cfg.MaxPhotoBytes,
		MaxPDFBytes:   cfg.MaxPDFBytes,
	})
	converter := conversion.New(db, blobs, validator, extractor, detector)

	// Step 5: Create and Start Worker Pool
	wp := worker.NewPool(cfg.WorkerCount, cfg.JobQueueSize, db, blobs, converter)
	wp.Start()
	defer wp.Stop()

	if cfg.AdminAPIKey != "" {
		log.Println("✅ Admin API key configured (key management protected)")
	} else {
		log.Println("⚠️  No admin API key set (key management endpoints disabled — set ADMIN_API_KEY)")
	}

	// Step 6: Setup HTTP Router
	r := router.Setup(db, wp, converter, cfg.JWTSecret, cfg.AdminAPIKey, cfg.AllowedOrigins)

	// Step 7: Start the HTTP Server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://localhost:%s", cfg.Port)
		log.Printf("📖 Health check: http://localhost:%s/api/v1/health", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	// Step 8: Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("🛑 Received signal %v, shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	log.Println("👋 Server stopped. Goodbye!")
}
