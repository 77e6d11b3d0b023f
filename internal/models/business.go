package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BusinessStatus string

const (
	BusinessStatusPending   BusinessStatus = "pending"
	BusinessStatusApproved  BusinessStatus = "approved"
	BusinessStatusRejected  BusinessStatus = "rejected"
	BusinessStatusSuspended BusinessStatus = "suspended"
)

func (s BusinessStatus) Valid() bool {
	switch s {
	case BusinessStatusPending, BusinessStatusApproved, BusinessStatusRejected, BusinessStatusSuspended:
		return true
	}
	return false
}

type CommunityBusiness struct {
	bun.BaseModel `bun:"table:community_businesses"`

	ID           string         `bun:"id,pk" json:"id"`
	OwnerID      string         `bun:"owner_id,notnull" json:"owner_id"`
	Name         string         `bun:"name,notnull" json:"name"`
	Description  string         `bun:"description" json:"description"`
	Category     string         `bun:"category,notnull" json:"category"`
	ContactEmail string         `bun:"contact_email,notnull" json:"contact_email"`
	ContactPhone string         `bun:"contact_phone" json:"contact_phone,omitempty"`
	Website      string         `bun:"website" json:"website,omitempty"`
	Address      string         `bun:"address" json:"address,omitempty"`
	City         string         `bun:"city" json:"city,omitempty"`
	State        string         `bun:"state" json:"state,omitempty"`
	ImageURL     string         `bun:"image_url" json:"image_url,omitempty"`
	Status       BusinessStatus `bun:"status,notnull" json:"status"`
	CreatedAt    time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time      `bun:"updated_at,notnull" json:"updated_at"`
}

type BusinessFilter struct {
	Category string
	City     string
	Search   string
	Status   BusinessStatus
	Limit    int
	Offset   int
}
