package models

import (
	"time"
)

// Card is a canonical catalog entry for a single trading card.
// IDs are deterministic UUIDs derived from (set_name, name, card_number)
// so re-imports always map a logical card to the same row. Slug is the
// presentation-layer identifier and is globally unique.
type Card struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null;index"`
	SetName     string    `json:"set_name" gorm:"not null;index"`
	CardNumber  string    `json:"card_number,omitempty"`
	Slug        string    `json:"slug" gorm:"uniqueIndex;not null"`
	Year        *int      `json:"year,omitempty"`
	Rarity      string    `json:"rarity,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CategoryID  string    `json:"category_id,omitempty" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Set is a card set/expansion (e.g. "Base Set", "Jungle").
type Set struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	ExternalID  string    `json:"external_id" gorm:"index"` // upstream catalog API set id
	Name        string    `json:"name" gorm:"not null;index"`
	Era         string    `json:"era,omitempty"`
	Language    string    `json:"language,omitempty" gorm:"default:'English'"`
	ReleaseYear *int      `json:"release_year,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CardSearchResult struct {
	Cards      []Card `json:"cards"`
	TotalCount int    `json:"total_count"`
	HasMore    bool   `json:"has_more"`
}
