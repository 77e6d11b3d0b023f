package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type ReferralCode struct {
	bun.BaseModel `bun:"table:referral_codes"`

	ID          string    `bun:"id,pk" json:"id"`
	Code        string    `bun:"code,notnull,unique" json:"code"`
	OrganizerID string    `bun:"organizer_id,notnull" json:"organizer_id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	EventID     string    `bun:"event_id,nullzero" json:"event_id,omitempty"`
	IsActive    bool      `bun:"is_active,notnull" json:"is_active"`
	UsesCount   int       `bun:"uses_count,notnull" json:"uses_count"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

type EarningStatus string

const (
	EarningStatusPending EarningStatus = "pending"
	EarningStatusPaid    EarningStatus = "paid"
	EarningStatusVoided  EarningStatus = "voided"
)

type CommissionEarning struct {
	bun.BaseModel `bun:"table:commission_earnings"`

	ID             string          `bun:"id,pk" json:"id"`
	ReferralCodeID string          `bun:"referral_code_id,notnull" json:"referral_code_id"`
	UserID         string          `bun:"user_id,notnull" json:"user_id"`
	OrganizerID    string          `bun:"organizer_id,notnull" json:"organizer_id"`
	OrderID        string          `bun:"order_id,notnull,unique" json:"order_id"`
	OrderTotal     decimal.Decimal `bun:"order_total,type:numeric(12,2),notnull" json:"order_total"`
	Rate           decimal.Decimal `bun:"rate,type:numeric(5,2),notnull" json:"rate"`
	Amount         decimal.Decimal `bun:"amount,type:numeric(12,2),notnull" json:"amount"`
	Status         EarningStatus   `bun:"status,notnull" json:"status"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
	PaidAt         time.Time       `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
}

type EarningsSummary struct {
	UserID  string          `json:"user_id"`
	Pending decimal.Decimal `json:"pending"`
	Paid    decimal.Decimal `json:"paid"`
	Total   decimal.Decimal `json:"total"`
	Count   int             `json:"count"`
}
