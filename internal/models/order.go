package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

type OrderItemRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

type OrderRequest struct {
	EventID      string             `json:"event_id"`
	Items        []OrderItemRequest `json:"items"`
	SeatIDs      []string           `json:"seat_ids,omitempty"`
	ReferralCode string             `json:"referral_code,omitempty"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID           string          `bun:"id,pk" json:"id"`
	UserID       string          `bun:"user_id,notnull" json:"user_id"`
	EventID      string          `bun:"event_id,notnull" json:"event_id"`
	Status       OrderStatus     `bun:"status,notnull" json:"status"`
	Total        decimal.Decimal `bun:"total,type:numeric(12,2),notnull" json:"total"`
	Currency     string          `bun:"currency,notnull" json:"currency"`
	SeatIDs      []string        `bun:"seat_ids" json:"seat_ids,omitempty"`
	ReferralCode string          `bun:"referral_code,nullzero" json:"referral_code,omitempty"`
	PaymentID    string          `bun:"payment_id,nullzero" json:"payment_id,omitempty"`
	CreatedAt    time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time       `bun:"updated_at,notnull" json:"updated_at"`
	CompletedAt  time.Time       `bun:"completed_at,nullzero" json:"completed_at,omitempty"`

	Items []OrderItem `bun:"-" json:"items,omitempty"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID           string          `bun:"id,pk" json:"id"`
	OrderID      string          `bun:"order_id,notnull" json:"order_id"`
	TicketTypeID string          `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	Quantity     int             `bun:"quantity,notnull" json:"quantity"`
	UnitPrice    decimal.Decimal `bun:"unit_price,type:numeric(12,2),notnull" json:"unit_price"`
}

// CheckoutEvent is streamed to organizers when an order completes.
type CheckoutEvent struct {
	OrderID     string          `json:"order_id"`
	EventID     string          `json:"event_id"`
	OrganizerID string          `json:"organizer_id"`
	UserID      string          `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	TicketCount int             `json:"ticket_count"`
	CompletedAt time.Time       `json:"completed_at"`
}
