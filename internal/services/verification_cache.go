package services

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slabworks/slab-market/backend/internal/metrics"
	"github.com/slabworks/slab-market/backend/internal/models"
)

const (
	// CertificateCacheTTL is how long a verification result is served
	// before the certificate is re-scraped.
	CertificateCacheTTL = 24 * time.Hour

	rateLimitWindow      = time.Minute
	rateLimitMaxRequests = 10

	hotCacheSize = 256
)

// VerificationCacheService fronts the VerificationService with a TTL cache
// keyed by (grading_company, certificate_number) and a per-user request
// rate ceiling. The persisted cache is best-effort: write failures are
// logged and swallowed, never surfaced to the verification caller.
//
// The read-then-write is deliberately not transactional: concurrent
// requests for the same uncached certificate may each scrape and upsert,
// which is wasteful but idempotent.
type VerificationCacheService struct {
	db       *gorm.DB
	verifier *VerificationService
	hot      *expirable.LRU[string, models.VerificationResult]
	now      func() time.Time
}

func NewVerificationCacheService(db *gorm.DB, verifier *VerificationService) *VerificationCacheService {
	return &VerificationCacheService{
		db:       db,
		verifier: verifier,
		hot:      expirable.NewLRU[string, models.VerificationResult](hotCacheSize, nil, CertificateCacheTTL),
		now:      time.Now,
	}
}

func cacheKey(company, certNumber string) string {
	return strings.ToLower(strings.TrimSpace(company)) + ":" + strings.TrimSpace(certNumber)
}

// CheckRateLimit reports whether userID has exceeded the verification
// request ceiling: at least rateLimitMaxRequests cache writes in the
// trailing window. Row counting is approximate abuse mitigation, not a
// strict token bucket.
func (s *VerificationCacheService) CheckRateLimit(userID string) (bool, error) {
	cutoff := s.now().Add(-rateLimitWindow)

	var count int64
	err := s.db.Model(&models.CertificateVerification{}).
		Where("user_id = ? AND last_checked_at > ?", userID, cutoff).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	if count >= rateLimitMaxRequests {
		metrics.CertRateLimitRejections.Inc()
		return true, nil
	}
	return false, nil
}

// Verify returns a verification result for the certificate, serving from
// cache when a fresh, structurally healthy entry exists and scraping
// otherwise. The second return value reports whether the result came from
// cache.
func (s *VerificationCacheService) Verify(ctx context.Context, userID, company, certNumber, grade string, opts VerifyOptions) (models.VerificationResult, bool) {
	normalized := NormalizeGradingCompany(company)
	key := cacheKey(normalized, certNumber)

	if !opts.SkipCache && normalized != "" {
		if result, ok := s.hot.Get(key); ok && s.resultHealthy(result) {
			metrics.CertCacheHits.WithLabelValues("memory").Inc()
			return result, true
		}
		if result, ok := s.lookupStored(normalized, certNumber); ok {
			metrics.CertCacheHits.WithLabelValues("store").Inc()
			s.hot.Add(key, result)
			return result, true
		}
		metrics.CertCacheMisses.Inc()
	}

	result := s.verifier.Verify(ctx, company, certNumber, grade)

	// Failures are cached too, so hammering a bad cert number does not
	// hammer the provider.
	s.store(normalized, certNumber, userID, result)
	if normalized != "" {
		s.hot.Add(key, result)
	}

	return result, false
}

// lookupStored returns a usable cached result, or ok=false when the entry
// is absent, expired, or fails re-validation.
func (s *VerificationCacheService) lookupStored(company, certNumber string) (models.VerificationResult, bool) {
	var entry models.CertificateVerification
	err := s.db.
		Where("grading_company = ? AND certificate_number = ?", company, strings.TrimSpace(certNumber)).
		First(&entry).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			log.Printf("VerificationCache: lookup failed for %s/%s: %v", company, certNumber, err)
		}
		return models.VerificationResult{}, false
	}

	if s.now().Sub(entry.LastCheckedAt) >= CertificateCacheTTL {
		return models.VerificationResult{}, false
	}

	result := models.VerificationResult{
		Verified: entry.Verified,
		Valid:    entry.Valid,
		Error:    entry.ErrorMessage,
	}
	if entry.Data != "" {
		var data models.CertificateData
		if err := json.Unmarshal([]byte(entry.Data), &data); err != nil {
			log.Printf("VerificationCache: discarding undecodable payload for %s/%s: %v", company, certNumber, err)
			metrics.CertCacheSelfHeals.Inc()
			return models.VerificationResult{}, false
		}
		result.Data = &data
	}

	// Self-healing re-validation: a structurally invalid payload cached by
	// an earlier scraper version is treated as a miss and re-scraped.
	if !s.resultHealthy(result) {
		log.Printf("VerificationCache: cached payload for %s/%s failed shape validation, forcing refresh", company, certNumber)
		metrics.CertCacheSelfHeals.Inc()
		return models.VerificationResult{}, false
	}

	return result, true
}

func (s *VerificationCacheService) resultHealthy(result models.VerificationResult) bool {
	if !result.Valid {
		// Cached failures carry no payload to validate.
		return result.Data == nil
	}
	return CertificateDataHealthy(result.Data)
}

// store upserts the verification outcome with a fresh timestamp. The
// cache is a performance optimization, not a correctness dependency, so
// write errors are logged and dropped.
func (s *VerificationCacheService) store(company, certNumber, userID string, result models.VerificationResult) {
	if company == "" {
		// Unknown companies are not cacheable; there is no stable key.
		return
	}

	entry := models.CertificateVerification{
		GradingCompany:    company,
		CertificateNumber: strings.TrimSpace(certNumber),
		Verified:          result.Verified,
		Valid:             result.Valid,
		ErrorMessage:      result.Error,
		UserID:            userID,
		LastCheckedAt:     s.now(),
	}
	if result.Data != nil {
		payload, err := json.Marshal(result.Data)
		if err != nil {
			log.Printf("VerificationCache: failed to encode payload for %s/%s: %v", company, certNumber, err)
		} else {
			entry.Data = string(payload)
		}
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "grading_company"}, {Name: "certificate_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"verified", "valid", "data", "error_message", "user_id", "last_checked_at", "updated_at",
		}),
	}).Create(&entry).Error
	if err != nil {
		log.Printf("VerificationCache: failed to store result for %s/%s: %v", company, certNumber, err)
	}
}
