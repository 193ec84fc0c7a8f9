package services

import (
	"sort"
	"strings"

	"github.com/slabworks/slab-market/backend/internal/models"
)

// DefaultSimilarityThreshold is the combined-score cutoff above which two
// cards are considered likely duplicates. Empirical, not derived;
// overridable via SIMILARITY_THRESHOLD.
const DefaultSimilarityThreshold = 0.85

// Name carries most of the discriminating signal; number differences are
// often format noise ("4/102" vs "4"), so they are under-weighted to avoid
// false negatives while still breaking ties between same-named cards.
const (
	duplicateNameWeight   = 0.7
	duplicateNumberWeight = 0.3
)

// DuplicateCandidate scores one existing card as a potential duplicate of
// a candidate card. Ephemeral: produced per-comparison and discarded after
// the import batch decides insert/skip.
type DuplicateCandidate struct {
	Card             models.Card `json:"card"`
	Similarity       float64     `json:"similarity"`
	NameSimilarity   float64     `json:"name_similarity"`
	NumberSimilarity float64     `json:"number_similarity"`
}

// FindPotentialDuplicates ranks cards from existing that likely refer to
// the same real-world card as candidate. Only cards in the same set are
// considered; a missing card number on either side is treated as
// non-distinguishing rather than a penalty. Results are sorted by combined
// score, highest first.
func FindPotentialDuplicates(candidate models.Card, existing []models.Card, threshold float64) []DuplicateCandidate {
	var results []DuplicateCandidate

	candidateName := strings.ToLower(strings.TrimSpace(candidate.Name))
	candidateNumber := strings.TrimSpace(candidate.CardNumber)

	for _, other := range existing {
		if other.SetName != candidate.SetName {
			continue
		}

		nameSim := Similarity(candidateName, strings.ToLower(strings.TrimSpace(other.Name)))

		numberSim := 1.0
		otherNumber := strings.TrimSpace(other.CardNumber)
		if candidateNumber != "" && otherNumber != "" {
			numberSim = Similarity(candidateNumber, otherNumber)
		}

		combined := duplicateNameWeight*nameSim + duplicateNumberWeight*numberSim
		if combined < threshold {
			continue
		}

		results = append(results, DuplicateCandidate{
			Card:             other,
			Similarity:       combined,
			NameSimilarity:   nameSim,
			NumberSimilarity: numberSim,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	return results
}
