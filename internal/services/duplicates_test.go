package services

import (
	"testing"

	"github.com/slabworks/slab-market/backend/internal/models"
)

func TestFindPotentialDuplicatesIdenticalCard(t *testing.T) {
	candidate := models.Card{Name: "Charizard", SetName: "Base Set", CardNumber: "4/102"}
	existing := []models.Card{
		{ID: "a", Name: "Charizard", SetName: "Base Set", CardNumber: "4/102"},
	}

	results := FindPotentialDuplicates(candidate, existing, DefaultSimilarityThreshold)
	if len(results) != 1 {
		t.Fatalf("expected 1 duplicate, got %d", len(results))
	}
	if results[0].Similarity != 1 {
		t.Errorf("identical card scored %f, want 1", results[0].Similarity)
	}
	if results[0].NameSimilarity != 1 || results[0].NumberSimilarity != 1 {
		t.Errorf("component scores = (%f, %f), want (1, 1)",
			results[0].NameSimilarity, results[0].NumberSimilarity)
	}
}

func TestFindPotentialDuplicatesCaseInsensitiveName(t *testing.T) {
	candidate := models.Card{Name: "CHARIZARD", SetName: "Base Set", CardNumber: "4/102"}
	existing := []models.Card{
		{ID: "a", Name: "charizard", SetName: "Base Set", CardNumber: "4/102"},
	}

	results := FindPotentialDuplicates(candidate, existing, DefaultSimilarityThreshold)
	if len(results) != 1 || results[0].Similarity != 1 {
		t.Fatalf("case difference should not affect matching, got %+v", results)
	}
}

func TestFindPotentialDuplicatesDifferentSetNeverMatches(t *testing.T) {
	candidate := models.Card{Name: "Charizard", SetName: "Base Set", CardNumber: "4/102"}
	existing := []models.Card{
		{ID: "a", Name: "Charizard", SetName: "Base Set 2", CardNumber: "4/102"},
	}

	// Even a perfect name/number match in another set is not a duplicate.
	results := FindPotentialDuplicates(candidate, existing, 0)
	if len(results) != 0 {
		t.Errorf("expected no cross-set matches, got %d", len(results))
	}
}

func TestFindPotentialDuplicatesMissingNumberIsNeutral(t *testing.T) {
	candidate := models.Card{Name: "Charizard", SetName: "Base Set", CardNumber: ""}
	existing := []models.Card{
		{ID: "a", Name: "Charizard", SetName: "Base Set", CardNumber: "4/102"},
	}

	results := FindPotentialDuplicates(candidate, existing, DefaultSimilarityThreshold)
	if len(results) != 1 {
		t.Fatalf("expected 1 duplicate, got %d", len(results))
	}
	if results[0].NumberSimilarity != 1 {
		t.Errorf("missing number should score neutral 1, got %f", results[0].NumberSimilarity)
	}
}

func TestFindPotentialDuplicatesThreshold(t *testing.T) {
	candidate := models.Card{Name: "Charizard", SetName: "Base Set", CardNumber: "4/102"}
	existing := []models.Card{
		{ID: "a", Name: "Blastoise", SetName: "Base Set", CardNumber: "2/102"},
	}

	if got := FindPotentialDuplicates(candidate, existing, DefaultSimilarityThreshold); len(got) != 0 {
		t.Errorf("dissimilar card passed default threshold: %+v", got)
	}
	// Lowering the threshold to zero admits everything in the set.
	if got := FindPotentialDuplicates(candidate, existing, 0); len(got) != 1 {
		t.Errorf("zero threshold should admit same-set cards, got %d", len(got))
	}
}

func TestFindPotentialDuplicatesSortedByScore(t *testing.T) {
	candidate := models.Card{Name: "Charizard", SetName: "Base Set", CardNumber: "4/102"}
	existing := []models.Card{
		{ID: "far", Name: "Charizord", SetName: "Base Set", CardNumber: "44/102"},
		{ID: "exact", Name: "Charizard", SetName: "Base Set", CardNumber: "4/102"},
		{ID: "close", Name: "Charizard", SetName: "Base Set", CardNumber: "4/10"},
	}

	results := FindPotentialDuplicates(candidate, existing, 0.5)
	if len(results) < 2 {
		t.Fatalf("expected at least 2 candidates, got %d", len(results))
	}
	if results[0].Card.ID != "exact" {
		t.Errorf("best match should sort first, got %q", results[0].Card.ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted descending at index %d: %f > %f",
				i, results[i].Similarity, results[i-1].Similarity)
		}
	}
}
