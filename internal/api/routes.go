package api

import (
	"os"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/slabworks/slab-market/backend/internal/api/handlers"
	"github.com/slabworks/slab-market/backend/internal/metrics"
	"github.com/slabworks/slab-market/backend/internal/services"
)

// requestMetrics records one counter increment per request, labeled with
// the route template (not the raw URL) to keep cardinality bounded.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

func SetupRouter(db *gorm.DB, verificationCache *services.VerificationCacheService, imageStorage *services.ImageStorageService, jwtSecret []byte, allowDevBypass bool) *gin.Engine {
	router := gin.Default()
	router.Use(requestMetrics())

	// CORS configuration - allow origins from environment or use defaults
	config := cors.DefaultConfig()
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	config.AllowCredentials = false // Explicitly set
	router.Use(cors.New(config))

	// Initialize handlers
	cardHandler := handlers.NewCardHandler(db)
	certificateHandler := handlers.NewCertificateHandler(verificationCache, allowDevBypass)

	// Serve re-hosted card images
	if imageStorage != nil {
		router.Static("/images/cards", imageStorage.GetStorageDir())
	}

	// API routes
	api := router.Group("/api")
	{
		// Card routes
		cards := api.Group("/cards")
		{
			cards.GET("/search", cardHandler.SearchCards)
			cards.GET("/:id", cardHandler.GetCard)
		}

		api.GET("/sets", cardHandler.ListSets)

		// Certificate routes: authenticated so the rate limiter has a
		// user identity to count against
		certificates := api.Group("/certificates")
		certificates.Use(RequireUser(jwtSecret))
		{
			certificates.POST("/verify", certificateHandler.VerifyCertificate)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
