// internal/models/order.go
package models

import "time"

// OrderStatus is the lifecycle state of a persisted order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the order can no longer receive items.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderPending, OrderConfirmed:
		return false
	}
	return true
}

// Order is a purchase order as seen by the resolution pipeline.
type Order struct {
	ID             string      `json:"id" yaml:"id" db:"id"`
	ConversationID string      `json:"conversationId" yaml:"conversation_id" db:"conversation_id"`
	CustomerID     string      `json:"customerId" yaml:"customer_id" db:"customer_id"`
	Status         OrderStatus `json:"status" yaml:"status" db:"status"`
	DeliveryDate   string      `json:"deliveryDate,omitempty" yaml:"delivery_date" db:"delivery_date"`
	CreatedAt      time.Time   `json:"createdAt" yaml:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt" yaml:"updated_at" db:"updated_at"`
	Items          []OrderItem `json:"items,omitempty" yaml:"items"`
}

// OrderItem is one catalog product line on an order.
type OrderItem struct {
	CatalogID   string `json:"catalogId" yaml:"catalog_id" db:"catalog_id"`
	CatalogName string `json:"catalogName" yaml:"catalog_name" db:"catalog_name"`
	Quantity    int    `json:"quantity" yaml:"quantity" db:"quantity"`
	Unit        string `json:"unit,omitempty" yaml:"unit" db:"unit"`
	MentionText string `json:"mentionText,omitempty" yaml:"mention_text" db:"mention_text"`
}

// ItemsFromProducts converts resolved products into order lines.
func ItemsFromProducts(products []ExtractedProduct) []OrderItem {
	items := make([]OrderItem, 0, len(products))
	for _, p := range products {
		if !p.IsResolved() {
			continue
		}
		items = append(items, OrderItem{
			CatalogID:   p.MatchedCatalogID,
			CatalogName: p.MatchedCatalogName,
			Quantity:    p.Quantity,
			Unit:        p.Unit,
			MentionText: p.MentionText,
		})
	}
	return items
}
