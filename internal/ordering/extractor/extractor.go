// Package extractor turns an oracle proposal or, failing that, the raw message
// text into candidate product mentions.
package extractor

import (
	"strings"

	"order-workers/internal/models"
	"order-workers/internal/ordering/intent"
	"order-workers/internal/ordering/textnorm"
)

const (
	// HeuristicConfidence sits below the oracle's usual 0.7–0.95 range.
	HeuristicConfidence = 0.5

	maxQualifiers = 3
)

// Extractor builds PENDING ExtractedProducts.
type Extractor struct {
	keywords map[string]bool
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithKeywords extends the heuristic product vocabulary.
func WithKeywords(words ...string) Option {
	return func(e *Extractor) {
		for _, w := range words {
			for _, tok := range textnorm.PhraseTokens(w) {
				e.keywords[tok] = true
			}
		}
	}
}

// New creates an Extractor with the built-in vocabulary.
func New(opts ...Option) *Extractor {
	e := &Extractor{keywords: make(map[string]bool, len(defaultKeywords))}
	for _, k := range defaultKeywords {
		e.keywords[k] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract adopts non-empty oracle proposals and otherwise falls back to the
// heuristic scan. An empty result is valid.
func (e *Extractor) Extract(text string, proposals []models.ProductProposal) []models.ExtractedProduct {
	if products := e.FromProposals(proposals); len(products) > 0 {
		return products
	}
	return e.Heuristic(text)
}

// FromProposals converts oracle proposals, skipping nameless ones.
func (e *Extractor) FromProposals(proposals []models.ProductProposal) []models.ExtractedProduct {
	products := make([]models.ExtractedProduct, 0, len(proposals))
	for _, p := range proposals {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		normalized := textnorm.NormalizePhrase(name)
		if normalized == "" {
			normalized = textnorm.Fold(name)
		}
		products = append(products, models.ExtractedProduct{
			MentionText:    name,
			NormalizedName: normalized,
			Quantity:       atLeastOne(p.Quantity),
			Unit:           canonicalUnit(p.Unit),
			Confidence:     intent.ClampConfidence(p.Confidence),
			Status:         models.ProductPending,
			Source:         models.SourceOracle,
		})
	}
	return products
}

// Heuristic scans for <number> [x] [unit] [de] <keyword> and
// <keyword> [x] <number> [unit] adjacency patterns. Quantity defaults to 1.
// A number followed by a volume or weight unit after the keyword is a size
// and never the quantity. Fractional quantities are rounded and flagged so the
// matcher asks for the real amount.
func (e *Extractor) Heuristic(text string) []models.ExtractedProduct {
	tokens := textnorm.Normalize(text).Tokens
	var products []models.ExtractedProduct
	floor := 0 // tokens before floor already belong to a previous product

	for i := 0; i < len(tokens); i++ {
		if !e.isKeyword(tokens[i]) {
			continue
		}

		start := i
		nameEnd := e.phraseEnd(tokens, i)
		end := nameEnd
		var quantity *textnorm.Token
		unit := ""

		// look behind: <number> [x] [unit] [de] <keyword>
		j := i - 1
		if j >= floor && tokens[j].Text == "de" {
			j--
		}
		if j >= floor && tokens[j].IsUnit() {
			unit = tokens[j].Unit
			start = j
			j--
		}
		if j >= floor && tokens[j].Text == "x" {
			j--
		}
		if j >= floor && tokens[j].IsNumber {
			quantity = &tokens[j]
			start = j
		}

		// look ahead: <keyword> [x] <number> [unit]
		k := end
		if k < len(tokens) && tokens[k].Text == "x" {
			k++
		}
		if k < len(tokens) && tokens[k].IsNumber {
			switch {
			case k+1 < len(tokens) && tokens[k+1].IsMeasure():
				end = k + 2
			case quantity == nil:
				quantity = &tokens[k]
				end = k + 1
				if unit == "" && end < len(tokens) && tokens[end].IsUnit() {
					unit = tokens[end].Unit
					end++
				}
			}
		}

		p := models.ExtractedProduct{
			MentionText:    words(tokens[start:end]),
			NormalizedName: textnorm.NormalizePhrase(words(tokens[i:nameEnd])),
			Quantity:       1,
			Unit:           unit,
			Confidence:     HeuristicConfidence,
			Status:         models.ProductPending,
			Source:         models.SourceHeuristic,
		}
		if quantity != nil {
			p.Quantity = atLeastOne(quantity.Number)
			p.QuantityUncertain = quantity.Decimal
		}
		products = append(products, p)

		floor = end
		i = end - 1
	}

	return products
}

// phraseEnd returns the exclusive end of the product phrase starting at the
// keyword at position i.
func (e *Extractor) phraseEnd(tokens []textnorm.Token, i int) int {
	end := i + 1
	for added := 0; added < maxQualifiers && end < len(tokens); added++ {
		t := tokens[end]
		if t.Text == "de" && end+1 < len(tokens) && e.isQualifier(tokens[end+1]) {
			end += 2
			continue
		}
		if !e.isQualifier(t) {
			break
		}
		end++
	}
	return end
}

func (e *Extractor) isKeyword(t textnorm.Token) bool {
	if t.IsNumber || t.IsUnit() || textnorm.IsStopword(t.Text) {
		return false
	}
	return e.keywords[t.Text] || e.keywords[textnorm.Singularize(t.Text)]
}

func (e *Extractor) isQualifier(t textnorm.Token) bool {
	if t.IsNumber || t.IsUnit() || textnorm.IsStopword(t.Text) || breakWords[t.Text] {
		return false
	}
	return !e.isKeyword(t)
}

func words(tokens []textnorm.Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

func atLeastOne(q int) int {
	if q < 1 {
		return 1
	}
	return q
}

func canonicalUnit(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if u, ok := textnorm.CanonicalUnit(raw); ok {
		return u
	}
	return textnorm.Fold(raw)
}
