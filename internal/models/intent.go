// internal/models/intent.go
package models

// IntentKind is the normalized purpose of an inbound chat message.
type IntentKind string

const (
	IntentBuy       IntentKind = "BUY"
	IntentQuestion  IntentKind = "QUESTION"
	IntentComplaint IntentKind = "COMPLAINT"
	IntentOther     IntentKind = "OTHER"
)

// MessageIntent is produced once per message and never mutated afterwards.
type MessageIntent struct {
	Kind       IntentKind `json:"kind"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// IsPurchase reports whether the intent can lead to an order.
func (i MessageIntent) IsPurchase() bool {
	return i.Kind == IntentBuy
}

// UnknownIntent is used when the oracle gave no usable answer.
func UnknownIntent(reason string) MessageIntent {
	return MessageIntent{Kind: IntentOther, Confidence: 0, Reasoning: reason}
}
