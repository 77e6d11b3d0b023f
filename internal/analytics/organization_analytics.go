package analytics

import (
	"context"
	"fmt"

	"ms-stepping/internal/models"
)

// EventSummary is one event's line in organizer-wide analytics.
type EventSummary struct {
	EventID   string             `json:"event_id"`
	Title     string             `json:"title"`
	Status    models.EventStatus `json:"status"`
	EventType models.EventType   `json:"event_type"`
	SalesTotals
}

// OrganizerAnalytics represents aggregated analytics data for all events of an organizer
type OrganizerAnalytics struct {
	OrganizerID string `json:"organizer_id"`
	EventCount  int    `json:"event_count"`
	SalesTotals
	DailySales []DailySalesMetrics `json:"daily_sales"`
	Events     []EventSummary      `json:"events"`
}

// GetOrganizerAnalytics returns revenue analytics across every event the
// organizer owns, counting completed orders only.
func (s *Service) GetOrganizerAnalytics(ctx context.Context, organizerID string) (*OrganizerAnalytics, error) {
	events, err := s.Events.ListEventsByOrganizer(ctx, organizerID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return s.summarize(ctx, organizerID, events)
}

func (s *Service) summarize(ctx context.Context, organizerID string, events []models.Event) (*OrganizerAnalytics, error) {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	orders, err := s.DB.OrdersForEvents(ctx, ids, models.OrderStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	byEvent := make(map[string][]models.Order, len(events))
	for _, o := range orders {
		byEvent[o.EventID] = append(byEvent[o.EventID], o)
	}

	out := &OrganizerAnalytics{
		OrganizerID: organizerID,
		EventCount:  len(events),
		SalesTotals: totals(orders),
		DailySales:  dailySales(orders),
		Events:      make([]EventSummary, 0, len(events)),
	}
	for _, e := range events {
		out.Events = append(out.Events, EventSummary{
			EventID:     e.ID,
			Title:       e.Title,
			Status:      e.Status,
			EventType:   e.EventType,
			SalesTotals: totals(byEvent[e.ID]),
		})
	}
	return out, nil
}
