package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusSuccess   PaymentStatus = "success"
	StatusFailed    PaymentStatus = "failed"
	StatusRefunded  PaymentStatus = "refunded"
	StatusCancelled PaymentStatus = "cancelled"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID                string                 `bun:"id,pk" json:"id"`
	OrderID           string                 `bun:"order_id,nullzero" json:"order_id,omitempty"`
	Provider          string                 `bun:"provider,notnull" json:"provider"`
	ProviderPaymentID string                 `bun:"provider_payment_id,nullzero" json:"provider_payment_id,omitempty"`
	Status            PaymentStatus          `bun:"status,notnull" json:"status"`
	Amount            decimal.Decimal        `bun:"amount,type:numeric(12,2),notnull" json:"amount"`
	Currency          string                 `bun:"currency,notnull" json:"currency"`
	RefundedAmount    decimal.Decimal        `bun:"refunded_amount,type:numeric(12,2),notnull" json:"refunded_amount"`
	IdempotencyKey    string                 `bun:"idempotency_key,notnull" json:"idempotency_key"`
	RawResponse       map[string]interface{} `bun:"raw_response" json:"raw_response,omitempty"`
	CreatedAt         time.Time              `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt         time.Time              `bun:"updated_at,notnull" json:"updated_at"`
}

// PaymentEvent is published to Kafka whenever a payment changes state.
type PaymentEvent struct {
	Type              string          `json:"type"`
	PaymentID         string          `json:"payment_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	OrderID           string          `json:"order_id,omitempty"`
	Provider          string          `json:"provider"`
	Status            PaymentStatus   `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	RefundedAmount    decimal.Decimal `json:"refunded_amount"`
	Currency          string          `json:"currency"`
	Timestamp         time.Time       `json:"timestamp"`
}

// FullyRefunded reports whether the refunds cover the whole charge.
func (e *PaymentEvent) FullyRefunded() bool {
	return e.Amount.IsPositive() && e.RefundedAmount.GreaterThanOrEqual(e.Amount)
}
