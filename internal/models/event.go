package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type EventType string

const (
	EventTypeSimple   EventType = "simple"
	EventTypeTicketed EventType = "ticketed"
	EventTypePremium  EventType = "premium"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeSimple, EventTypeTicketed, EventTypePremium:
		return true
	}
	return false
}

type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCancelled EventStatus = "cancelled"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID               string           `bun:"id,pk" json:"id"`
	OrganizerID      string           `bun:"organizer_id,notnull" json:"organizer_id"`
	Title            string           `bun:"title,notnull" json:"title"`
	Description      string           `bun:"description" json:"description"`
	OrganizationName string           `bun:"organization_name" json:"organization_name"`
	EventType        EventType        `bun:"event_type,notnull" json:"event_type"`
	Categories       []string         `bun:"categories" json:"categories"`
	StartsAt         time.Time        `bun:"starts_at,notnull" json:"starts_at"`
	EndsAt           time.Time        `bun:"ends_at,nullzero" json:"ends_at,omitempty"`
	Address          string           `bun:"address" json:"address"`
	VenueImageURL    string           `bun:"venue_image_url,nullzero" json:"venue_image_url,omitempty"`
	SeatingChartURL  string           `bun:"seating_chart_url,nullzero" json:"seating_chart_url,omitempty"`
	SeatingSections  []SeatingSection `bun:"seating_sections" json:"seating_sections,omitempty"`
	Status           EventStatus      `bun:"status,notnull" json:"status"`
	CreatedAt        time.Time        `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time        `bun:"updated_at,notnull" json:"updated_at"`
}

type SeatingSection struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID          string          `bun:"id,pk" json:"id"`
	EventID     string          `bun:"event_id,notnull" json:"event_id"`
	Name        string          `bun:"name,notnull" json:"name"`
	Description string          `bun:"description" json:"description,omitempty"`
	Price       decimal.Decimal `bun:"price,type:numeric(12,2),notnull" json:"price"`
	Quantity    int             `bun:"quantity,notnull" json:"quantity"`
	Sold        int             `bun:"sold,notnull" json:"sold"`
	CreatedAt   time.Time       `bun:"created_at,notnull" json:"created_at"`
}

func (t *TicketType) Available() int {
	return t.Quantity - t.Sold
}
