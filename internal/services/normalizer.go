package services

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/slabworks/slab-market/backend/internal/models"
)

// RawCard is the upstream catalog API's card payload shape.
type RawCard struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Number      string        `json:"number"`
	Rarity      string        `json:"rarity"`
	FlavorText  string        `json:"flavorText"`
	ReleaseDate string        `json:"releaseDate"`
	Images      RawCardImages `json:"images"`
	Set         RawCardSet    `json:"set"`
}

type RawCardImages struct {
	Small string `json:"small"`
	Large string `json:"large"`
}

type RawCardSet struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"releaseDate"`
}

var (
	leadingYear = regexp.MustCompile(`^(19|20)\d{2}`)
	slugShape   = regexp.MustCompile(`^[a-z0-9-]+$`)
)

const (
	minCardYear = 1900
	maxCardYear = 2100
)

// NormalizeCard maps an upstream card payload into the internal card schema.
// Pure function: no I/O, no side effects, so it stays independently testable.
// Year resolution prefers the set's release year over the card's releaseDate;
// image resolution prefers the large variant over the small one.
func NormalizeCard(raw RawCard, set *models.Set) models.Card {
	name := strings.TrimSpace(raw.Name)

	setName := strings.TrimSpace(raw.Set.Name)
	if set != nil && strings.TrimSpace(set.Name) != "" {
		setName = strings.TrimSpace(set.Name)
	}

	number := strings.TrimSpace(raw.Number)

	var year *int
	if set != nil && set.ReleaseYear != nil {
		y := *set.ReleaseYear
		year = &y
	} else if m := leadingYear.FindString(strings.TrimSpace(raw.ReleaseDate)); m != "" {
		y := int(m[0]-'0')*1000 + int(m[1]-'0')*100 + int(m[2]-'0')*10 + int(m[3]-'0')
		year = &y
	}

	imageURL := raw.Images.Large
	if imageURL == "" {
		imageURL = raw.Images.Small
	}

	return models.Card{
		ID:          DeterministicCardID(setName, name, number),
		Name:        name,
		SetName:     setName,
		CardNumber:  number,
		Slug:        GenerateCardSlug(name, setName, number),
		Year:        year,
		Rarity:      strings.TrimSpace(raw.Rarity),
		Description: strings.TrimSpace(raw.FlavorText),
		ImageURL:    imageURL,
	}
}

// ValidateCard checks a normalized card against insertion rules. Returned
// messages are collected per record so one bad card never aborts a batch.
func ValidateCard(card models.Card) []string {
	var errs []string

	if strings.TrimSpace(card.Name) == "" {
		errs = append(errs, "name is required")
	}
	if strings.TrimSpace(card.SetName) == "" {
		errs = append(errs, "set_name is required")
	}
	if card.Year != nil && (*card.Year < minCardYear || *card.Year > maxCardYear) {
		errs = append(errs, fmt.Sprintf("year %d out of range [%d, %d]", *card.Year, minCardYear, maxCardYear))
	}
	if card.ImageURL != "" {
		u, err := url.Parse(card.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("image_url %q is not a valid http(s) URL", card.ImageURL))
		}
	}
	if card.Slug == "" || !slugShape.MatchString(card.Slug) {
		errs = append(errs, fmt.Sprintf("slug %q must match ^[a-z0-9-]+$", card.Slug))
	}

	return errs
}
