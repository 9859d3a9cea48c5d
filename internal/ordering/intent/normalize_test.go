package intent

import (
	"math"
	"testing"

	"order-workers/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKind(t *testing.T) {
	tests := []struct {
		label string
		want  models.IntentKind
	}{
		{"BUY", models.IntentBuy},
		{"purchase", models.IntentBuy},
		{"Pedido", models.IntentBuy},
		{"BUY_INTENT", models.IntentBuy},
		{"product-order", models.IntentBuy},
		{"question", models.IntentQuestion},
		{"consulta", models.IntentQuestion},
		{"COMPLAINT", models.IntentComplaint},
		{"queja", models.IntentComplaint},
		{"greeting", models.IntentOther},
		{"", models.IntentOther},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKind(tt.label))
		})
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
}

func TestNormalize(t *testing.T) {
	got := Normalize(" compra ", 1.2, "  wants water ")
	assert.Equal(t, models.MessageIntent{
		Kind:       models.IntentBuy,
		Confidence: 1,
		Reasoning:  "wants water",
	}, got)
}
