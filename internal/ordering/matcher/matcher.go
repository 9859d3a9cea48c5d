// Package matcher scores product candidates against the catalog with layered
// strategies and turns the best score into a confidence tier.
package matcher

import (
	"sort"
	"strings"

	"order-workers/internal/models"
	"order-workers/internal/ordering/textnorm"
)

// Fixed strategy scores.
const (
	ScoreExactAlias      = 1.0
	ScoreTrainingExample = 0.9
	ScoreMisspelling     = 0.85

	keywordBase  = 0.4
	keywordRange = 0.35

	FuzzyCap   = 0.6
	FuzzyFloor = 0.2
)

type entry struct {
	id       string
	name     string
	names    []string
	examples []string
	typos    map[string]bool
	keywords map[string]bool
}

// Index holds the normalized form of the active part of a catalog. It is
// read-only once built and safe for concurrent use.
type Index struct {
	entries []entry
	df      map[string]int
}

// NewIndex normalizes the active entries of catalog.
func NewIndex(catalog []models.CatalogEntry) *Index {
	idx := &Index{df: make(map[string]int)}
	for _, c := range catalog {
		if !c.Active {
			continue
		}

		e := entry{
			id:       c.ID,
			name:     c.Name,
			typos:    make(map[string]bool, len(c.CommonMisspellings)),
			keywords: make(map[string]bool, len(c.Keywords)),
		}
		e.names = appendPhrases(e.names, c.Name)
		e.names = appendPhrases(e.names, c.Aliases...)
		e.examples = appendPhrases(e.examples, c.AITrainingExamples...)
		for _, m := range appendPhrases(nil, c.CommonMisspellings...) {
			e.typos[m] = true
		}
		for _, k := range c.Keywords {
			for _, tok := range textnorm.PhraseTokens(k) {
				e.keywords[tok] = true
			}
		}
		for k := range e.keywords {
			idx.df[k]++
		}

		idx.entries = append(idx.entries, e)
	}
	return idx
}

// Len returns the number of active entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Match scores the candidate against every active entry and returns one result
// per entry that scored, ordered by score, match type priority, name and id.
func (idx *Index) Match(candidate models.ExtractedProduct) []models.MatchResult {
	phrase := candidatePhrase(candidate)
	if phrase == "" {
		return nil
	}
	tokens := strings.Fields(phrase)

	var results []models.MatchResult
	for _, e := range idx.entries {
		matchType, score, ok := idx.score(e, phrase, tokens)
		if !ok {
			continue
		}
		results = append(results, models.MatchResult{
			CatalogID:   e.id,
			CatalogName: e.name,
			MatchType:   matchType,
			Score:       score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if pa, pb := a.MatchType.Priority(), b.MatchType.Priority(); pa != pb {
			return pa > pb
		}
		if a.CatalogName != b.CatalogName {
			return a.CatalogName < b.CatalogName
		}
		return a.CatalogID < b.CatalogID
	})
	return results
}

// Match is a convenience wrapper for a single lookup.
func Match(candidate models.ExtractedProduct, catalog []models.CatalogEntry) []models.MatchResult {
	return NewIndex(catalog).Match(candidate)
}

// score evaluates the strategies in priority order; the first that fires
// decides the entry's result.
func (idx *Index) score(e entry, phrase string, tokens []string) (models.MatchType, float64, bool) {
	for _, n := range e.names {
		if n == phrase {
			return models.MatchExactAlias, ScoreExactAlias, true
		}
	}

	for _, ex := range e.examples {
		if containsWords(ex, phrase) || containsWords(phrase, ex) {
			return models.MatchTrainingExample, ScoreTrainingExample, true
		}
	}

	if e.typos[phrase] {
		return models.MatchMisspelling, ScoreMisspelling, true
	}

	if s, ok := idx.keywordScore(e, tokens); ok {
		return models.MatchKeyword, s, true
	}

	best := 0.0
	for _, n := range e.names {
		best = max(best, similarity(phrase, n))
	}
	best = min(best, FuzzyCap)
	if best < FuzzyFloor {
		return "", 0, false
	}
	return models.MatchFuzzy, best, true
}

// keywordScore is 0.4 + 0.35 × coverage × specificity, where specificity is
// the mean inverse document frequency of the matched keywords.
func (idx *Index) keywordScore(e entry, tokens []string) (float64, bool) {
	if len(e.keywords) == 0 || len(tokens) == 0 {
		return 0, false
	}

	matched := 0
	specificity := 0.0
	for _, t := range tokens {
		if !e.keywords[t] {
			continue
		}
		matched++
		specificity += 1 / float64(idx.df[t])
	}
	if matched == 0 {
		return 0, false
	}

	coverage := float64(matched) / float64(len(tokens))
	specificity /= float64(matched)
	return keywordBase + keywordRange*coverage*specificity, true
}

func candidatePhrase(c models.ExtractedProduct) string {
	if p := textnorm.NormalizePhrase(c.NormalizedName); p != "" {
		return p
	}
	return textnorm.NormalizePhrase(c.MentionText)
}

func appendPhrases(dst []string, raw ...string) []string {
	for _, r := range raw {
		if p := textnorm.NormalizePhrase(r); p != "" {
			dst = append(dst, p)
		}
	}
	return dst
}

// containsWords reports whether needle appears in haystack on word boundaries.
func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
