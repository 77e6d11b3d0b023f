package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketStatusValid     TicketStatus = "valid"
	TicketStatusCheckedIn TicketStatus = "checked_in"
	TicketStatusCancelled TicketStatus = "cancelled"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID              string          `bun:"id,pk" json:"id"`
	OrderID         string          `bun:"order_id,notnull" json:"order_id"`
	EventID         string          `bun:"event_id,notnull" json:"event_id"`
	TicketTypeID    string          `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	UserID          string          `bun:"user_id,notnull" json:"user_id"`
	SeatID          string          `bun:"seat_id,nullzero" json:"seat_id,omitempty"`
	QRPayload       string          `bun:"qr_payload,notnull" json:"qr_payload"`
	QRCode          []byte          `bun:"qr_code" json:"qr_code,omitempty"`
	PriceAtPurchase decimal.Decimal `bun:"price_at_purchase,type:numeric(12,2),notnull" json:"price_at_purchase"`
	Status          TicketStatus    `bun:"status,notnull" json:"status"`
	IssuedAt        time.Time       `bun:"issued_at,notnull" json:"issued_at"`
	CheckedInAt     time.Time       `bun:"checked_in_at,nullzero" json:"checked_in_at,omitempty"`
}
