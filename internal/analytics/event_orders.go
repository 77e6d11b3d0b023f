package analytics

import (
	"context"

	"ms-stepping/internal/models"
)

// OrderSortField defines the valid fields for sorting orders
type OrderSortField string

const (
	OrderSortByTotal     OrderSortField = "total"
	OrderSortByCreatedAt OrderSortField = "created_at"
)

// EventOrderOptions filters and orders the orders of an event.
type EventOrderOptions struct {
	Status   models.OrderStatus
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// GetEventOrders returns an event's orders to its organizer.
func (s *Service) GetEventOrders(ctx context.Context, userID, eventID string, opts EventOrderOptions) ([]models.Order, error) {
	if _, err := s.authorize(ctx, userID, eventID); err != nil {
		return nil, err
	}
	return s.DB.EventOrders(ctx, eventID, opts)
}

