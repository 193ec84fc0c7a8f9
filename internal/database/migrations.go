package database

import (
	"log"

	"gorm.io/gorm"

	"github.com/slabworks/slab-market/backend/internal/models"
	"github.com/slabworks/slab-market/backend/internal/services"
)

// RunMigrations runs custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	if err := backfillCardSlugs(db); err != nil {
		return err
	}
	return nil
}

// backfillCardSlugs generates slugs for rows created before the slug
// column existed (manual seller entries imported from the old schema).
// Safe to run repeatedly: only rows with an empty slug are touched.
func backfillCardSlugs(db *gorm.DB) error {
	if !db.Migrator().HasColumn("cards", "slug") {
		return nil
	}

	var missing []models.Card
	if err := db.Where("slug IS NULL OR slug = ''").Find(&missing).Error; err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	var taken []string
	if err := db.Model(&models.Card{}).Where("slug IS NOT NULL AND slug != ''").Pluck("slug", &taken).Error; err != nil {
		return err
	}
	takenSet := make(map[string]bool, len(taken))
	for _, slug := range taken {
		takenSet[slug] = true
	}

	updated := 0
	for _, card := range missing {
		slug := services.GenerateCardSlug(card.Name, card.SetName, card.CardNumber)
		slug = services.ResolveSlugCollision(
			slug,
			services.CardIdentityKey(card.SetName, card.Name, card.CardNumber),
			func(candidate string) bool { return takenSet[candidate] },
		)
		takenSet[slug] = true

		if err := db.Model(&models.Card{}).Where("id = ?", card.ID).Update("slug", slug).Error; err != nil {
			log.Printf("Warning: failed to backfill slug for card %s: %v", card.ID, err)
			continue
		}
		updated++
	}

	if updated > 0 {
		log.Printf("Backfilled slugs for %d cards", updated)
	}
	return nil
}
