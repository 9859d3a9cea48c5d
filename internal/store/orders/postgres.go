// Package orders persists the orders that resolved chat messages create or
// extend.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-workers/internal/models"

	"github.com/google/uuid"
)

// MaxRecentOrders caps how many open orders are considered for continuation.
const MaxRecentOrders = 20

var (
	ErrDuplicateMessage = errors.New("DUPLICATE_MESSAGE")
	ErrNothingToCommit  = errors.New("decision does not commit an order")
)

const recentOrdersQuery = `SELECT id, conversation_id, customer_id, status, COALESCE(delivery_date, ''), created_at, updated_at
FROM orders
WHERE conversation_id = $1 AND status IN ('PENDING', 'CONFIRMED') AND created_at >= $2
ORDER BY created_at DESC
LIMIT $3`

const (
	claimMessageSQL = `INSERT INTO processed_messages (message_id, conversation_id, action, processed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (message_id) DO NOTHING`

	insertOrderSQL = `INSERT INTO orders (id, conversation_id, customer_id, status, delivery_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $6)`

	touchOrderSQL = `UPDATE orders
SET updated_at = $2, delivery_date = COALESCE(NULLIF($3, ''), delivery_date)
WHERE id = $1 AND status IN ('PENDING', 'CONFIRMED')`

	upsertItemSQL = `INSERT INTO order_items (order_id, catalog_id, catalog_name, quantity, unit, mention_text)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (order_id, catalog_id) DO UPDATE SET quantity = order_items.quantity + EXCLUDED.quantity`

	recordOrderSQL = `UPDATE processed_messages SET order_id = $2, action = $3 WHERE message_id = $1`
)

// CommitRequest carries one committing decision.
type CommitRequest struct {
	MessageID      string
	ConversationID string
	CustomerID     string
	Action         models.Action
	TargetOrderID  string
	Items          []models.OrderItem
	DeliveryDate   string
	At             time.Time
}

// CommitResult says which order received the items. Action differs from the
// request when a merge target closed before the commit and a new order was
// opened instead.
type CommitResult struct {
	OrderID string        `json:"orderId"`
	Action  models.Action `json:"action"`
}

type PostgresStore struct {
	db    *sql.DB
	newID func() string
}

type Option func(*PostgresStore)

func WithIDFunc(fn func() string) Option {
	return func(s *PostgresStore) { s.newID = fn }
}

func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecentOrders returns open orders of a conversation created at or after
// since, newest first. Items are not loaded.
func (s *PostgresStore) RecentOrders(ctx context.Context, conversationID string, since time.Time) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, recentOrdersQuery, conversationID, since, MaxRecentOrders)
	if err != nil {
		return nil, fmt.Errorf("query recent orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var o models.Order
		var customerID sql.NullString
		if err := rows.Scan(&o.ID, &o.ConversationID, &customerID, &o.Status, &o.DeliveryDate, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.CustomerID = customerID.String
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read recent orders: %w", err)
	}
	return out, nil
}

// Commit applies a CREATE_ORDER or MERGE_INTO_ORDER decision in one
// transaction. A message id that was already committed yields
// ErrDuplicateMessage and changes nothing.
func (s *PostgresStore) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if !req.Action.CommitsOrder() {
		return nil, fmt.Errorf("%w: %s", ErrNothingToCommit, req.Action)
	}
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, claimMessageSQL, req.MessageID, req.ConversationID, string(req.Action), req.At)
	if err != nil {
		return nil, fmt.Errorf("claim message %s: %w", req.MessageID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("claim message %s: %w", req.MessageID, err)
	} else if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMessage, req.MessageID)
	}

	result := &CommitResult{Action: req.Action}
	if req.Action == models.ActionMergeIntoOrder {
		merged, err := s.touch(ctx, tx, req)
		if err != nil {
			return nil, err
		}
		if merged {
			result.OrderID = req.TargetOrderID
		} else {
			result.Action = models.ActionCreateOrder
		}
	}

	if result.OrderID == "" {
		result.OrderID = s.newID()
		if _, err := tx.ExecContext(ctx, insertOrderSQL,
			result.OrderID, req.ConversationID, nullable(req.CustomerID), string(models.OrderPending), req.DeliveryDate, req.At,
		); err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}
	}

	for _, item := range req.Items {
		if _, err := tx.ExecContext(ctx, upsertItemSQL,
			result.OrderID, item.CatalogID, item.CatalogName, item.Quantity, item.Unit, item.MentionText,
		); err != nil {
			return nil, fmt.Errorf("upsert item %s: %w", item.CatalogID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, recordOrderSQL, req.MessageID, result.OrderID, string(result.Action)); err != nil {
		return nil, fmt.Errorf("record processed message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	return result, nil
}

// touch bumps the merge target. It reports false when the target is gone or
// no longer open.
func (s *PostgresStore) touch(ctx context.Context, tx *sql.Tx, req CommitRequest) (bool, error) {
	if req.TargetOrderID == "" {
		return false, nil
	}
	res, err := tx.ExecContext(ctx, touchOrderSQL, req.TargetOrderID, req.At, req.DeliveryDate)
	if err != nil {
		return false, fmt.Errorf("update order %s: %w", req.TargetOrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order %s: %w", req.TargetOrderID, err)
	}
	return n == 1, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
