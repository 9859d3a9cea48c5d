// Package intent maps free-form oracle intent labels onto the fixed intent set.
package intent

import (
	"math"
	"strings"

	"order-workers/internal/models"
	"order-workers/internal/ordering/textnorm"
)

var labels = map[string]models.IntentKind{
	"buy":       models.IntentBuy,
	"purchase":  models.IntentBuy,
	"order":     models.IntentBuy,
	"compra":    models.IntentBuy,
	"comprar":   models.IntentBuy,
	"pedido":    models.IntentBuy,
	"pedir":     models.IntentBuy,
	"question":  models.IntentQuestion,
	"inquiry":   models.IntentQuestion,
	"pregunta":  models.IntentQuestion,
	"consulta":  models.IntentQuestion,
	"complaint": models.IntentComplaint,
	"queja":     models.IntentComplaint,
	"reclamo":   models.IntentComplaint,
	"other":     models.IntentOther,
	"otro":      models.IntentOther,
}

// NormalizeKind maps an oracle label such as "Purchase", "pedido" or
// "BUY_INTENT" to an IntentKind. Unknown labels become OTHER.
func NormalizeKind(label string) models.IntentKind {
	folded := textnorm.Fold(strings.TrimSpace(label))
	if folded == "" {
		return models.IntentOther
	}
	if kind, ok := labels[folded]; ok {
		return kind
	}
	for _, part := range strings.FieldsFunc(folded, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.' || r == '/'
	}) {
		if kind, ok := labels[part]; ok {
			return kind
		}
	}
	return models.IntentOther
}

// ClampConfidence forces a score into [0,1]; NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Normalize builds a MessageIntent from raw oracle output.
func Normalize(label string, confidence float64, reasoning string) models.MessageIntent {
	return models.MessageIntent{
		Kind:       NormalizeKind(label),
		Confidence: ClampConfidence(confidence),
		Reasoning:  strings.TrimSpace(reasoning),
	}
}
