// internal/models/analysis.go
package models

import "time"

// Message is one inbound chat message.
type Message struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	ConversationID string    `json:"conversationId"`
	CustomerID     string    `json:"customerId"`
	ReceivedAt     time.Time `json:"receivedAt"`
	Context        string    `json:"context,omitempty"`
}

// DetectionMethod records how a continuation decision was reached.
type DetectionMethod string

const (
	DetectionTemporal       DetectionMethod = "TEMPORAL"
	DetectionExplicitPhrase DetectionMethod = "EXPLICIT_PHRASE"
	DetectionNone           DetectionMethod = "NONE"
)

// ContinuationDecision is computed fresh per message and never persisted on its own.
type ContinuationDecision struct {
	IsContinuation  bool            `json:"isContinuation"`
	TargetOrderID   string          `json:"targetOrderId,omitempty"`
	Confidence      float64         `json:"confidence"`
	DetectionMethod DetectionMethod `json:"detectionMethod"`
	Reasoning       string          `json:"reasoning"`
}

// MessageAnalysis is the pipeline output for a single message.
type MessageAnalysis struct {
	MessageID             string             `json:"messageId"`
	Intent                MessageIntent      `json:"intent"`
	ExtractedProducts     []ExtractedProduct `json:"extractedProducts"`
	DeliveryDate          string             `json:"deliveryDate,omitempty"`
	RequiresClarification bool               `json:"requiresClarification"`
	SuggestedQuestion     string             `json:"suggestedQuestion,omitempty"`
	ConfidenceTier        Tier               `json:"confidenceTier"`
	ProcessingTime        time.Duration      `json:"processingTime"`
}

// ResolvedProducts returns the products that point at a catalog entry.
func (a MessageAnalysis) ResolvedProducts() []ExtractedProduct {
	out := make([]ExtractedProduct, 0, len(a.ExtractedProducts))
	for _, p := range a.ExtractedProducts {
		if p.IsResolved() {
			out = append(out, p)
		}
	}
	return out
}

// FirstClarifying returns the first product, in extraction order, awaiting clarification.
func (a MessageAnalysis) FirstClarifying() (ExtractedProduct, bool) {
	for _, p := range a.ExtractedProducts {
		if p.NeedsClarification() {
			return p, true
		}
	}
	return ExtractedProduct{}, false
}

// ResolutionState is a state of the per-message decision machine.
type ResolutionState string

const (
	StateReceived ResolutionState = "RECEIVED"
	StateAnalyzed ResolutionState = "ANALYZED"
	StateResolved ResolutionState = "RESOLVED"
)

// Action is the terminal outcome for a message.
type Action string

const (
	ActionCreateOrder      Action = "CREATE_ORDER"
	ActionMergeIntoOrder   Action = "MERGE_INTO_ORDER"
	ActionAskClarification Action = "ASK_CLARIFICATION"
	ActionNoAction         Action = "NO_ACTION"
)

// CommitsOrder reports whether the action writes an order.
func (a Action) CommitsOrder() bool {
	return a == ActionCreateOrder || a == ActionMergeIntoOrder
}

// Decision is what the caller persists for a message.
type Decision struct {
	State         ResolutionState `json:"state"`
	Action        Action          `json:"action"`
	TargetOrderID string          `json:"targetOrderId,omitempty"`
	Question      string          `json:"question,omitempty"`
	Reasoning     string          `json:"reasoning"`
}
