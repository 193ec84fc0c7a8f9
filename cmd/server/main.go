package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slabworks/slab-market/backend/internal/api"
	"github.com/slabworks/slab-market/backend/internal/database"
	"github.com/slabworks/slab-market/backend/internal/services"
)

func main() {
	// Database path
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./slab_market.db"
	}

	// Initialize database
	if err := database.Initialize(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// dev_bypass is only reachable when explicitly enabled; default
	// production configuration never honors it
	allowDevBypass := os.Getenv("ALLOW_DEV_BYPASS") == "true"
	if allowDevBypass {
		log.Println("WARNING: dev bypass flag enabled; do not run this in production")
	}

	// Initialize services
	psaScraper := services.NewPSAScraper(os.Getenv("PSA_BASE_URL"))
	verificationService := services.NewVerificationService(psaScraper)
	verificationCache := services.NewVerificationCacheService(database.GetDB(), verificationService)
	imageStorage := services.NewImageStorageService()

	// Setup router
	router := api.SetupRouter(database.GetDB(), verificationCache, imageStorage, []byte(jwtSecret), allowDevBypass)

	// Get port from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
