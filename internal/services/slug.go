package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

var (
	nonSlugChars  = regexp.MustCompile(`[^a-z0-9\s_-]`)
	separatorRuns = regexp.MustCompile(`[\s_-]+`)

	// Namespace for deterministic card identifiers. Changing this would
	// re-key every imported card, so it is frozen.
	cardIDNamespace = uuid.MustParse("8c2e9d4a-1f6b-4e3c-9a7d-5b0e2c8f4a61")
)

// GenerateSlug converts free text into a lowercase, URL-safe identifier:
// diacritics are stripped, punctuation removed, and whitespace/underscore/
// hyphen runs collapse into single hyphens. Empty input yields "".
// The function is idempotent: an already-slugged string passes through
// unchanged.
func GenerateSlug(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return ""
	}

	s = stripDiacritics(s)
	s = nonSlugChars.ReplaceAllString(s, "")
	s = separatorRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// GenerateCardSlug composes a card's canonical slug from its set name,
// card name and optional card number. Empty segments are dropped, so
// omitting the card number just drops the trailing segment.
func GenerateCardSlug(name, setName, cardNumber string) string {
	parts := make([]string, 0, 3)
	for _, raw := range []string{setName, name, cardNumber} {
		if seg := GenerateSlug(raw); seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "-")
}

// CardIdentityKey builds the semantic key identifying one logical card.
// The same key always produces the same deterministic ID and the same
// collision suffix.
func CardIdentityKey(setName, name, cardNumber string) string {
	return fmt.Sprintf("%s::%s::%s", strings.TrimSpace(setName), strings.TrimSpace(name), strings.TrimSpace(cardNumber))
}

// DeterministicCardID derives a version-5 UUID from the card's identity
// key, so re-imports of the same logical card always map to the same row.
func DeterministicCardID(setName, name, cardNumber string) string {
	key := CardIdentityKey(setName, name, cardNumber)
	return uuid.NewSHA1(cardIDNamespace, []byte(key)).String()
}

// ResolveSlugCollision returns a slug that does not collide according to
// exists. On collision a 6-char hex digest of the identity key is appended;
// if that still collides the digest window widens until a free slug is
// found. The database unique index on cards.slug remains the authoritative
// backstop.
func ResolveSlugCollision(slug, identityKey string, exists func(string) bool) string {
	if !exists(slug) {
		return slug
	}

	sum := sha256.Sum256([]byte(identityKey))
	digest := hex.EncodeToString(sum[:])

	for width := 6; width <= len(digest); width += 2 {
		candidate := slug + "-" + digest[:width]
		if !exists(candidate) {
			return candidate
		}
	}

	// Full digest collided too; only reachable with an adversarial exists.
	return slug + "-" + digest
}

// stripDiacritics decomposes the string and drops combining marks, so
// "Pokémon" becomes "Pokemon".
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
