package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/slabworks/slab-market/backend/internal/metrics"
	"github.com/slabworks/slab-market/backend/internal/models"
)

const (
	insertChunkSize         = 50
	insertChunkDelay        = 500 * time.Millisecond
	maxReportedImportErrors = 10
)

// ImportStats is an explicit value threaded through and returned by each
// import stage; the multi-set driver merges per-set stats into a run
// total. Skipped counts exact-key duplicates, fuzzy duplicates and
// validation failures together; the per-cause counters break them out.
type ImportStats struct {
	Total              int      `json:"total"`
	Inserted           int      `json:"inserted"`
	Skipped            int      `json:"skipped"`
	ValidationErrors   int      `json:"validation_errors"`
	DuplicatesDetected int      `json:"duplicates_detected"`
	ImagesUploaded     int      `json:"images_uploaded"`
	ImageFailures      int      `json:"image_failures"`
	Errors             []string `json:"errors,omitempty"`
}

// Merge folds another stats value into this one.
func (s *ImportStats) Merge(other ImportStats) {
	s.Total += other.Total
	s.Inserted += other.Inserted
	s.Skipped += other.Skipped
	s.ValidationErrors += other.ValidationErrors
	s.DuplicatesDetected += other.DuplicatesDetected
	s.ImagesUploaded += other.ImagesUploaded
	s.ImageFailures += other.ImageFailures
	s.Errors = append(s.Errors, other.Errors...)
}

func (s *ImportStats) recordError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// PrintReport logs the final per-category counts plus the first few
// errors with enough context to locate the offending source rows.
func (s *ImportStats) PrintReport(label string) {
	log.Printf("Import report for %s: total=%d inserted=%d skipped=%d validation_errors=%d duplicates=%d images_uploaded=%d image_failures=%d",
		label, s.Total, s.Inserted, s.Skipped, s.ValidationErrors, s.DuplicatesDetected, s.ImagesUploaded, s.ImageFailures)
	for i, e := range s.Errors {
		if i >= maxReportedImportErrors {
			log.Printf("  ... and %d more errors", len(s.Errors)-maxReportedImportErrors)
			break
		}
		log.Printf("  error: %s", e)
	}
}

// CatalogImportService pulls a set's cards from the upstream catalog API,
// deduplicates them against the batch and the store, validates, optionally
// re-hosts images, resolves slug collisions and inserts in chunks.
type CatalogImportService struct {
	client       *CatalogClient
	db           *gorm.DB
	images       *ImageStorageService
	threshold    float64
	fuzzyEnabled bool
	uploadImages bool
	chunkDelay   time.Duration
}

func NewCatalogImportService(client *CatalogClient, db *gorm.DB, images *ImageStorageService, threshold float64, fuzzyEnabled, uploadImages bool) *CatalogImportService {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &CatalogImportService{
		client:       client,
		db:           db,
		images:       images,
		threshold:    threshold,
		fuzzyEnabled: fuzzyEnabled,
		uploadImages: uploadImages,
		chunkDelay:   insertChunkDelay,
	}
}

// ImportSet imports one set's cards. Per-record validation failures and
// fuzzy duplicates are skipped and counted, never fatal; a store insert
// failure aborts this set's import with the accumulated error (the
// multi-set driver continues to the next set).
func (s *CatalogImportService) ImportSet(ctx context.Context, set models.Set, limit int) (ImportStats, error) {
	stats := ImportStats{}

	raw, err := s.client.FetchSetCards(ctx, set, limit)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch cards for set %q: %w", set.Name, err)
	}
	stats.Total = len(raw)
	log.Printf("CatalogImport: fetched %d cards for set %q", len(raw), set.Name)

	// Overlapping upstream pages can return the same card twice; collapse
	// by identity key before normalizing.
	unique := dedupeBatch(raw, &stats)

	setName := strings.TrimSpace(set.Name)
	var existing []models.Card
	if err := s.db.Where("set_name = ?", setName).Find(&existing).Error; err != nil {
		return stats, fmt.Errorf("failed to load existing cards for set %q: %w", setName, err)
	}

	existingKeys := make(map[string]bool, len(existing))
	for _, card := range existing {
		existingKeys[cardBatchKey(card.SetName, card.Name, card.CardNumber)] = true
	}

	var candidates []models.Card
	for _, rc := range unique {
		card := NormalizeCard(rc, &set)

		if existingKeys[cardBatchKey(card.SetName, card.Name, card.CardNumber)] {
			stats.Skipped++
			continue
		}

		if errs := ValidateCard(card); len(errs) > 0 {
			stats.ValidationErrors++
			stats.Skipped++
			stats.recordError("card %q (#%s): %s", card.Name, card.CardNumber, strings.Join(errs, "; "))
			continue
		}

		if s.fuzzyEnabled {
			if dups := FindPotentialDuplicates(card, existing, s.threshold); len(dups) > 0 {
				stats.DuplicatesDetected++
				stats.Skipped++
				log.Printf("CatalogImport: skipping %q (#%s), likely duplicate of %q (score %.3f)",
					card.Name, card.CardNumber, dups[0].Card.Name, dups[0].Similarity)
				continue
			}
		}

		candidates = append(candidates, card)
	}

	if s.uploadImages && s.images != nil {
		s.mirrorImages(ctx, candidates, &stats)
	}

	if err := s.resolveSlugs(candidates); err != nil {
		return stats, err
	}

	if err := s.insertChunked(ctx, candidates, &stats); err != nil {
		return stats, err
	}

	metrics.ImportCardsInserted.Add(float64(stats.Inserted))
	metrics.ImportCardsSkipped.Add(float64(stats.Skipped))

	var total int64
	if err := s.db.Model(&models.Card{}).Count(&total).Error; err == nil {
		metrics.CardDatabaseSize.Set(float64(total))
	}

	return stats, nil
}

func cardBatchKey(setName, name, number string) string {
	return strings.ToLower(strings.TrimSpace(setName)) + "|" +
		strings.ToLower(strings.TrimSpace(name)) + "|" +
		strings.ToLower(strings.TrimSpace(number))
}

func dedupeBatch(raw []RawCard, stats *ImportStats) []RawCard {
	seen := make(map[string]bool, len(raw))
	unique := make([]RawCard, 0, len(raw))
	for _, rc := range raw {
		key := cardBatchKey(rc.Set.Name, rc.Name, rc.Number)
		if seen[key] {
			stats.Skipped++
			continue
		}
		seen[key] = true
		unique = append(unique, rc)
	}
	return unique
}

// mirrorImages re-hosts each candidate's image. Individual failures keep
// the upstream URL and are counted, never fatal for the batch.
func (s *CatalogImportService) mirrorImages(ctx context.Context, cards []models.Card, stats *ImportStats) {
	for i := range cards {
		if cards[i].ImageURL == "" {
			continue
		}
		hosted, err := s.images.MirrorCardImage(ctx, cards[i].ID, cards[i].ImageURL)
		if err != nil {
			stats.ImageFailures++
			log.Printf("CatalogImport: image mirror failed for %q: %v", cards[i].Name, err)
			continue
		}
		cards[i].ImageURL = hosted
		stats.ImagesUploaded++
	}
}

// resolveSlugs appends hash suffixes where a candidate slug collides with
// a stored slug or another candidate in the same batch.
func (s *CatalogImportService) resolveSlugs(cards []models.Card) error {
	if len(cards) == 0 {
		return nil
	}

	var stored []string
	if err := s.db.Model(&models.Card{}).Pluck("slug", &stored).Error; err != nil {
		return fmt.Errorf("failed to load existing slugs: %w", err)
	}

	taken := make(map[string]bool, len(stored)+len(cards))
	for _, slug := range stored {
		taken[slug] = true
	}

	for i := range cards {
		resolved := ResolveSlugCollision(
			cards[i].Slug,
			CardIdentityKey(cards[i].SetName, cards[i].Name, cards[i].CardNumber),
			func(candidate string) bool { return taken[candidate] },
		)
		if resolved != cards[i].Slug {
			log.Printf("CatalogImport: slug collision, %q -> %q", cards[i].Slug, resolved)
			cards[i].Slug = resolved
		}
		taken[resolved] = true
	}
	return nil
}

func (s *CatalogImportService) insertChunked(ctx context.Context, cards []models.Card, stats *ImportStats) error {
	for start := 0; start < len(cards); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(cards) {
			end = len(cards)
		}
		chunk := cards[start:end]

		if err := s.db.Create(&chunk).Error; err != nil {
			stats.recordError("insert chunk %d-%d failed: %v", start, end, err)
			return fmt.Errorf("failed to insert cards %d-%d: %w", start, end, err)
		}
		stats.Inserted += len(chunk)

		if end < len(cards) && s.chunkDelay > 0 {
			select {
			case <-time.After(s.chunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
