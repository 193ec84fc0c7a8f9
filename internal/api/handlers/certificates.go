package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slabworks/slab-market/backend/internal/models"
	"github.com/slabworks/slab-market/backend/internal/services"
)

type CertificateHandler struct {
	cache *services.VerificationCacheService
	// allowDevBypass gates the dev_bypass query flag; false in production
	// so the bypass path cannot be reached by default configuration.
	allowDevBypass bool
}

func NewCertificateHandler(cache *services.VerificationCacheService, allowDevBypass bool) *CertificateHandler {
	return &CertificateHandler{
		cache:          cache,
		allowDevBypass: allowDevBypass,
	}
}

// VerifyCertificate checks a slab's certificate against its grading
// company. Verification failure is a normal outcome and still returns
// 200 with valid:false; only malformed requests get 4xx.
func (h *CertificateHandler) VerifyCertificate(c *gin.Context) {
	var req models.VerifyCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "grading_company and certificate_number are required"})
		return
	}

	opts := services.VerifyOptions{
		SkipCache: c.Query("skip_cache") == "true",
		DevBypass: h.allowDevBypass && c.Query("dev_bypass") == "true",
	}

	// Set by the auth middleware; the rate limiter counts against it.
	userID := c.GetString("user_id")

	if !opts.DevBypass {
		limited, err := h.cache.CheckRateLimit(userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check rate limit"})
			return
		}
		if limited {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many verification requests, try again in a minute"})
			return
		}
	}

	result, fromCache := h.cache.Verify(c.Request.Context(), userID, req.GradingCompany, req.CertificateNumber, req.Grade, opts)

	c.Header("X-Cache", cacheHeader(fromCache))
	c.JSON(http.StatusOK, result)
}

func cacheHeader(fromCache bool) string {
	if fromCache {
		return "HIT"
	}
	return "MISS"
}
