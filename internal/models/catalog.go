// internal/models/catalog.go
package models

// CatalogEntry is owned by the catalog store; the resolution pipeline only reads it.
type CatalogEntry struct {
	ID                 string   `json:"id" yaml:"id" db:"id"`
	Name               string   `json:"name" yaml:"name" db:"name"`
	Aliases            []string `json:"aliases,omitempty" yaml:"aliases" db:"aliases"`
	AITrainingExamples []string `json:"aiTrainingExamples,omitempty" yaml:"ai_training_examples" db:"ai_training_examples"`
	CommonMisspellings []string `json:"commonMisspellings,omitempty" yaml:"common_misspellings" db:"common_misspellings"`
	Keywords           []string `json:"keywords,omitempty" yaml:"keywords" db:"keywords"`
	Active             bool     `json:"active" yaml:"active" db:"active"`
}

// MatchType identifies which matching strategy produced a result.
type MatchType string

const (
	MatchExactAlias      MatchType = "EXACT_ALIAS"
	MatchTrainingExample MatchType = "TRAINING_EXAMPLE"
	MatchMisspelling     MatchType = "MISSPELLING"
	MatchKeyword         MatchType = "KEYWORD"
	MatchFuzzy           MatchType = "FUZZY"
)

// Priority orders match types for tie breaking; higher wins.
func (m MatchType) Priority() int {
	switch m {
	case MatchExactAlias:
		return 5
	case MatchTrainingExample:
		return 4
	case MatchMisspelling:
		return 3
	case MatchKeyword:
		return 2
	case MatchFuzzy:
		return 1
	}
	return 0
}

// MatchResult scores one catalog entry against one candidate.
type MatchResult struct {
	CatalogID   string    `json:"catalogId"`
	CatalogName string    `json:"catalogName"`
	MatchType   MatchType `json:"matchType"`
	Score       float64   `json:"score"`
}

// Tier buckets a match score.
type Tier string

const (
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
	TierNone   Tier = "NONE"
)

// Rank orders tiers from NONE (0) to HIGH (3).
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	}
	return 0
}
