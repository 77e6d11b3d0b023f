package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type UserFollow struct {
	bun.BaseModel `bun:"table:user_follows"`

	ID          string    `bun:"id,pk" json:"id"`
	FollowerID  string    `bun:"follower_id,notnull" json:"follower_id"`
	OrganizerID string    `bun:"organizer_id,notnull" json:"organizer_id"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

type Permission string

const (
	PermissionSellTickets Permission = "sell_tickets"
	PermissionWorkEvents  Permission = "work_events"
	PermissionCoOrganize  Permission = "co_organize"
)

type FollowerPromotion struct {
	bun.BaseModel `bun:"table:follower_promotions"`

	ID             string          `bun:"id,pk" json:"id"`
	OrganizerID    string          `bun:"organizer_id,notnull" json:"organizer_id"`
	FollowerID     string          `bun:"follower_id,notnull" json:"follower_id"`
	CanSellTickets bool            `bun:"can_sell_tickets,notnull" json:"can_sell_tickets"`
	CanWorkEvents  bool            `bun:"can_work_events,notnull" json:"can_work_events"`
	IsCoOrganizer  bool            `bun:"is_co_organizer,notnull" json:"is_co_organizer"`
	CommissionRate decimal.Decimal `bun:"commission_rate,type:numeric(5,2),notnull" json:"commission_rate"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

func (p *FollowerPromotion) Grants(perm Permission) bool {
	switch perm {
	case PermissionSellTickets:
		return p.CanSellTickets
	case PermissionWorkEvents:
		return p.CanWorkEvents
	case PermissionCoOrganize:
		return p.IsCoOrganizer
	}
	return false
}

type PromotionRequest struct {
	CanSellTickets bool            `json:"can_sell_tickets"`
	CanWorkEvents  bool            `json:"can_work_events"`
	IsCoOrganizer  bool            `json:"is_co_organizer"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}
