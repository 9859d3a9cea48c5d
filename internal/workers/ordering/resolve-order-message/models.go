// internal/workers/ordering/resolve-order-message/models.go
package resolveordermessage

import (
	"time"

	"order-workers/internal/models"
	"order-workers/internal/ordering/pipeline"
)

type Input struct {
	MessageID      string     `json:"messageId"`
	Text           string     `json:"text"`
	ConversationID string     `json:"conversationId"`
	CustomerID     string     `json:"customerId,omitempty"`
	ReceivedAt     *time.Time `json:"receivedAt,omitempty"`
	Context        string     `json:"context,omitempty"`
}

// Message converts the job input. A missing receivedAt is taken as now.
func (in *Input) Message(now time.Time) models.Message {
	receivedAt := now
	if in.ReceivedAt != nil {
		receivedAt = in.ReceivedAt.UTC()
	}
	return models.Message{
		ID:             in.MessageID,
		Text:           in.Text,
		ConversationID: in.ConversationID,
		CustomerID:     in.CustomerID,
		ReceivedAt:     receivedAt,
		Context:        in.Context,
	}
}

type Output struct {
	MessageID             string                      `json:"messageId"`
	Action                models.Action               `json:"action"`
	OrderID               string                      `json:"orderId,omitempty"`
	Question              string                      `json:"question,omitempty"`
	Reasoning             string                      `json:"reasoning"`
	Intent                models.IntentKind           `json:"intent"`
	IntentConfidence      float64                     `json:"intentConfidence"`
	ConfidenceTier        models.Tier                 `json:"confidenceTier"`
	RequiresClarification bool                        `json:"requiresClarification"`
	Products              []models.ExtractedProduct   `json:"products"`
	DeliveryDate          string                      `json:"deliveryDate,omitempty"`
	Continuation          models.ContinuationDecision `json:"continuation"`
	OracleFallback        string                      `json:"oracleFallback,omitempty"`
	Duplicate             bool                        `json:"duplicate"`
	EventID               string                      `json:"eventId,omitempty"`
	ProcessingTimeMs      int64                       `json:"processingTimeMs"`
}

func newOutput(res *pipeline.Resolution) *Output {
	a := res.Analysis
	products := a.ExtractedProducts
	if products == nil {
		products = []models.ExtractedProduct{}
	}
	return &Output{
		MessageID:             a.MessageID,
		Action:                res.Decision.Action,
		OrderID:               res.Decision.TargetOrderID,
		Question:              res.Decision.Question,
		Reasoning:             res.Decision.Reasoning,
		Intent:                a.Intent.Kind,
		IntentConfidence:      a.Intent.Confidence,
		ConfidenceTier:        a.ConfidenceTier,
		RequiresClarification: a.RequiresClarification,
		Products:              products,
		DeliveryDate:          a.DeliveryDate,
		Continuation:          res.Continuation,
		OracleFallback:        res.OracleFallback,
		ProcessingTimeMs:      a.ProcessingTime.Milliseconds(),
	}
}
