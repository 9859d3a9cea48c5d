// internal/models/event.go
package models

import "time"

// OrderEventType names what happened to an order.
type OrderEventType string

const (
	OrderCreatedEvent OrderEventType = "order.created"
	OrderMergedEvent  OrderEventType = "order.merged"
)

// OrderEvent is published after an order commit so downstream systems
// (fulfilment, the chat front end) can react.
type OrderEvent struct {
	Type           OrderEventType `json:"type"`
	OrderID        string         `json:"orderId"`
	ConversationID string         `json:"conversationId"`
	CustomerID     string         `json:"customerId,omitempty"`
	MessageID      string         `json:"messageId"`
	Items          []OrderItem    `json:"items"`
	DeliveryDate   string         `json:"deliveryDate,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

// EventTypeFor maps a committing action onto its event type.
func EventTypeFor(a Action) OrderEventType {
	if a == ActionMergeIntoOrder {
		return OrderMergedEvent
	}
	return OrderCreatedEvent
}
