// internal/models/product.go
package models

// ProductStatus tracks a candidate through matching. It never returns to PENDING.
type ProductStatus string

const (
	ProductPending    ProductStatus = "PENDING"
	ProductMatched    ProductStatus = "MATCHED"
	ProductConfirmed  ProductStatus = "CONFIRMED"
	ProductClarifying ProductStatus = "CLARIFYING"
)

// ProductSource records where a candidate came from.
type ProductSource string

const (
	SourceOracle    ProductSource = "ORACLE"
	SourceHeuristic ProductSource = "HEURISTIC"
)

// ProductProposal is a raw product suggestion returned by the language-model oracle.
type ProductProposal struct {
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Unit       string  `json:"unit,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ExtractedProduct is a product mention found in a message.
type ExtractedProduct struct {
	MentionText        string        `json:"mentionText"`
	NormalizedName     string        `json:"normalizedName"`
	Quantity           int           `json:"quantity"`
	Unit               string        `json:"unit,omitempty"`
	Confidence         float64       `json:"confidence"`
	Status             ProductStatus `json:"status"`
	Source             ProductSource `json:"source"`
	MatchedCatalogID   string        `json:"matchedCatalogId,omitempty"`
	MatchedCatalogName string        `json:"matchedCatalogName,omitempty"`
	MatchTier          Tier          `json:"matchTier,omitempty"`
	MatchScore         float64       `json:"matchScore"`
	Alternatives       []MatchResult `json:"alternatives,omitempty"`
	ClarificationAsked bool          `json:"clarificationAsked"`
	// QuantityUncertain is set when the quantity was read from a fraction
	// and has to be confirmed with the customer.
	QuantityUncertain bool   `json:"quantityUncertain,omitempty"`
	SuggestedQuestion string `json:"suggestedQuestion,omitempty"`
}

// IsResolved reports whether the product points at a concrete catalog entry.
func (p ExtractedProduct) IsResolved() bool {
	return p.Status == ProductMatched || p.Status == ProductConfirmed
}

// NeedsClarification reports whether the customer has to be asked about this product.
func (p ExtractedProduct) NeedsClarification() bool {
	return p.Status == ProductClarifying
}
