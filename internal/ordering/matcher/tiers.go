package matcher

import (
	"fmt"
	"strings"

	"order-workers/internal/models"
)

// Tier boundaries, lower bound inclusive.
const (
	HighThreshold   = 0.8
	MediumThreshold = 0.5
	LowThreshold    = 0.2

	maxAlternates = 3
)

// TierFor buckets a score.
func TierFor(score float64) models.Tier {
	switch {
	case score >= HighThreshold:
		return models.TierHigh
	case score >= MediumThreshold:
		return models.TierMedium
	case score >= LowThreshold:
		return models.TierLow
	}
	return models.TierNone
}

// Apply moves a PENDING candidate to MATCHED or CLARIFYING according to the
// tier of its best result. Confirmed products are returned unchanged.
func Apply(candidate models.ExtractedProduct, results []models.MatchResult) models.ExtractedProduct {
	if candidate.Status == models.ProductConfirmed {
		return candidate
	}

	p := candidate
	p.MatchTier = models.TierNone
	p.MatchScore = 0
	p.Alternatives = nil
	p.MatchedCatalogID = ""
	p.MatchedCatalogName = ""
	p.SuggestedQuestion = ""

	if len(results) > 0 {
		p.MatchTier = TierFor(results[0].Score)
		p.MatchScore = results[0].Score
		n := min(len(results), maxAlternates)
		p.Alternatives = append([]models.MatchResult(nil), results[:n]...)
	}

	switch p.MatchTier {
	case models.TierHigh:
		p.Status = models.ProductMatched
		p.MatchedCatalogID = results[0].CatalogID
		p.MatchedCatalogName = results[0].CatalogName
	case models.TierMedium:
		p.Status = models.ProductClarifying
		p.SuggestedQuestion = disambiguationQuestion(p.MentionText, p.Alternatives)
	default:
		p.Status = models.ProductClarifying
		p.SuggestedQuestion = unknownProductQuestion(p.MentionText)
	}
	if p.QuantityUncertain && p.Status == models.ProductMatched {
		p.Status = models.ProductClarifying
		p.SuggestedQuestion = QuantityQuestion(p.MatchedCatalogName, p.MentionText)
	}
	return p
}

// AggregateTier is the worst tier among products that matched anything, or
// NONE when none did.
func AggregateTier(products []models.ExtractedProduct) models.Tier {
	worst := models.TierNone
	for _, p := range products {
		if p.MatchTier == "" || p.MatchTier == models.TierNone {
			continue
		}
		if worst == models.TierNone || p.MatchTier.Rank() < worst.Rank() {
			worst = p.MatchTier
		}
	}
	return worst
}

// Confirm promotes MATCHED products with a HIGH tier to CONFIRMED, but only
// when no product in the message is awaiting clarification.
func Confirm(products []models.ExtractedProduct) []models.ExtractedProduct {
	out := append([]models.ExtractedProduct(nil), products...)
	for _, p := range out {
		if p.NeedsClarification() {
			return out
		}
	}
	for i := range out {
		if out[i].Status == models.ProductMatched && out[i].MatchTier == models.TierHigh {
			out[i].Status = models.ProductConfirmed
		}
	}
	return out
}

func disambiguationQuestion(mention string, alternates []models.MatchResult) string {
	names := make([]string, 0, len(alternates))
	seen := make(map[string]bool, len(alternates))
	for _, a := range alternates {
		if seen[a.CatalogName] {
			continue
		}
		seen[a.CatalogName] = true
		names = append(names, a.CatalogName)
	}
	return fmt.Sprintf("Cuando dices \"%s\", ¿te refieres a %s?", mention, joinOptions(names))
}

// QuantityQuestion asks for a whole quantity when the message gave a fraction.
func QuantityQuestion(product, mention string) string {
	return fmt.Sprintf("Entendí \"%s\". ¿Cuántas unidades de %s necesitas?", mention, product)
}

func unknownProductQuestion(mention string) string {
	return fmt.Sprintf("No pude identificar el producto \"%s\". ¿Me puedes decir el nombre exacto?", mention)
}

// joinOptions renders "a", "a o b" and "a, b o c".
func joinOptions(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " o " + names[len(names)-1]
}
