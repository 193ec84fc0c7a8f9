package services

import (
	"strings"
	"testing"

	"github.com/slabworks/slab-market/backend/internal/models"
)

func TestNormalizeCard(t *testing.T) {
	raw := RawCard{
		ID:          "base1-4",
		Name:        "  Charizard  ",
		Number:      "4/102",
		Rarity:      "Rare Holo",
		FlavorText:  "Spits fire that is hot enough to melt boulders.",
		ReleaseDate: "1999/01/09",
		Images: RawCardImages{
			Small: "https://images.example.com/base1/4.png",
			Large: "https://images.example.com/base1/4_hires.png",
		},
		Set: RawCardSet{ID: "base1", Name: "Base"},
	}
	year := 1999
	set := &models.Set{ID: "base1", Name: "Base Set", ReleaseYear: &year}

	card := NormalizeCard(raw, set)

	if card.Name != "Charizard" {
		t.Errorf("Name = %q, want trimmed %q", card.Name, "Charizard")
	}
	if card.SetName != "Base Set" {
		t.Errorf("SetName = %q, want local set name to win over upstream", card.SetName)
	}
	if card.Year == nil || *card.Year != 1999 {
		t.Errorf("Year = %v, want 1999 from set release year", card.Year)
	}
	if card.ImageURL != "https://images.example.com/base1/4_hires.png" {
		t.Errorf("ImageURL = %q, want the large variant", card.ImageURL)
	}
	if card.Slug != "base-set-charizard-4102" {
		t.Errorf("Slug = %q, want %q", card.Slug, "base-set-charizard-4102")
	}
	if card.ID != DeterministicCardID("Base Set", "Charizard", "4/102") {
		t.Errorf("ID not derived from identity key: %q", card.ID)
	}
	if card.Rarity != "Rare Holo" || card.Description == "" {
		t.Errorf("rarity/description not carried over: %q / %q", card.Rarity, card.Description)
	}
}

func TestNormalizeCardFallbacks(t *testing.T) {
	t.Run("year from release date when set has none", func(t *testing.T) {
		raw := RawCard{Name: "Pikachu", ReleaseDate: "2003/06/18", Set: RawCardSet{Name: "Skyridge"}}
		card := NormalizeCard(raw, nil)
		if card.Year == nil || *card.Year != 2003 {
			t.Errorf("Year = %v, want 2003", card.Year)
		}
	})

	t.Run("year absent when nothing provides it", func(t *testing.T) {
		raw := RawCard{Name: "Pikachu", Set: RawCardSet{Name: "Skyridge"}}
		card := NormalizeCard(raw, nil)
		if card.Year != nil {
			t.Errorf("Year = %v, want nil", *card.Year)
		}
	})

	t.Run("unparseable release date ignored", func(t *testing.T) {
		raw := RawCard{Name: "Pikachu", ReleaseDate: "unknown", Set: RawCardSet{Name: "Skyridge"}}
		card := NormalizeCard(raw, nil)
		if card.Year != nil {
			t.Errorf("Year = %v, want nil", *card.Year)
		}
	})

	t.Run("small image when large missing", func(t *testing.T) {
		raw := RawCard{
			Name:   "Pikachu",
			Images: RawCardImages{Small: "https://images.example.com/p.png"},
			Set:    RawCardSet{Name: "Skyridge"},
		}
		card := NormalizeCard(raw, nil)
		if card.ImageURL != "https://images.example.com/p.png" {
			t.Errorf("ImageURL = %q, want small variant fallback", card.ImageURL)
		}
	})

	t.Run("upstream set name when no local set", func(t *testing.T) {
		raw := RawCard{Name: "Pikachu", Set: RawCardSet{Name: "Skyridge"}}
		card := NormalizeCard(raw, nil)
		if card.SetName != "Skyridge" {
			t.Errorf("SetName = %q, want upstream %q", card.SetName, "Skyridge")
		}
	})
}

func TestValidateCard(t *testing.T) {
	goodYear := 1999
	lowYear := 1899
	highYear := 2101
	edgeLow := 1900
	edgeHigh := 2100

	tests := []struct {
		name    string
		card    models.Card
		wantErr string // substring of an expected message; empty means valid
	}{
		{
			name:    "valid card",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "base-set-charizard-4102", Year: &goodYear, ImageURL: "https://images.example.com/4.png"},
			wantErr: "",
		},
		{
			name:    "missing name",
			card:    models.Card{SetName: "Base Set", Slug: "base-set-4102"},
			wantErr: "name is required",
		},
		{
			name:    "missing set name",
			card:    models.Card{Name: "Charizard", Slug: "charizard"},
			wantErr: "set_name is required",
		},
		{
			name:    "year below range",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "base-set-charizard", Year: &lowYear},
			wantErr: "year 1899 out of range",
		},
		{
			name:    "year above range",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "base-set-charizard", Year: &highYear},
			wantErr: "year 2101 out of range",
		},
		{
			name:    "year at lower edge accepted",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "base-set-charizard", Year: &edgeLow},
			wantErr: "",
		},
		{
			name:    "year at upper edge accepted",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "base-set-charizard", Year: &edgeHigh},
			wantErr: "",
		},
		{
			name:    "nil year accepted",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "base-set-charizard"},
			wantErr: "",
		},
		{
			name:    "relative image url rejected",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "base-set-charizard", ImageURL: "/images/4.png"},
			wantErr: "not a valid http(s) URL",
		},
		{
			name:    "ftp image url rejected",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "base-set-charizard", ImageURL: "ftp://images.example.com/4.png"},
			wantErr: "not a valid http(s) URL",
		},
		{
			name:    "empty slug rejected",
			card:    models.Card{Name: "Charizard", SetName: "Base Set"},
			wantErr: "slug",
		},
		{
			name:    "uppercase slug rejected",
			card:    models.Card{Name: "Charizard", SetName: "Base Set", Slug: "Base-Set-Charizard"},
			wantErr: "slug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateCard(tt.card)
			if tt.wantErr == "" {
				if len(errs) != 0 {
					t.Errorf("expected valid, got errors: %v", errs)
				}
				return
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.wantErr) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected an error containing %q, got %v", tt.wantErr, errs)
			}
		})
	}
}

func TestValidateCardCollectsAllErrors(t *testing.T) {
	badYear := 1800
	card := models.Card{Year: &badYear, ImageURL: "not-a-url", Slug: "BAD SLUG"}

	errs := ValidateCard(card)
	if len(errs) != 5 {
		t.Errorf("expected 5 errors (name, set, year, image, slug), got %d: %v", len(errs), errs)
	}
}
