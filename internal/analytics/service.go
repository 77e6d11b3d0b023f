// Package analytics reports sales and admission figures to organizers.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	ticketdb "ms-stepping/internal/tickets/db"

	"github.com/shopspring/decimal"
)

var ErrForbidden = errors.New("analytics are only available to the event organizer")

type Store interface {
	OrdersForEvents(ctx context.Context, eventIDs []string, status models.OrderStatus) ([]models.Order, error)
	EventOrders(ctx context.Context, eventID string, opts EventOrderOptions) ([]models.Order, error)
}

type EventLookup interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error)
	ListEventsByOrganizer(ctx context.Context, organizerID string) ([]models.Event, error)
}

type TicketCounter interface {
	CountsForEvent(ctx context.Context, eventID string) (ticketdb.TicketCounts, error)
}

// Service handles analytics operations
type Service struct {
	DB      Store
	Events  EventLookup
	Tickets TicketCounter
	Logger  *logger.Logger
}

func NewService(db Store, events EventLookup, tickets TicketCounter, log *logger.Logger) *Service {
	return &Service{DB: db, Events: events, Tickets: tickets, Logger: log}
}

// EventAnalytics represents aggregated analytics data for an event
type EventAnalytics struct {
	EventID string `json:"event_id"`
	Title   string `json:"title"`
	SalesTotals
	Capacity    int                   `json:"capacity"`
	DailySales  []DailySalesMetrics   `json:"daily_sales"`
	SalesByType []TicketTypeMetrics   `json:"sales_by_ticket_type"`
	CheckIns    ticketdb.TicketCounts `json:"check_ins"`
	CheckInRate decimal.Decimal       `json:"check_in_rate"`
}

type SalesTotals struct {
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	OrderCount   int             `json:"order_count"`
	TicketsSold  int             `json:"tickets_sold"`
}

// TicketTypeMetrics contains sales metrics for a specific ticket type
type TicketTypeMetrics struct {
	TicketTypeID string          `json:"ticket_type_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	TicketsSold  int             `json:"tickets_sold"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// DailySalesMetrics contains metrics for a single day
type DailySalesMetrics struct {
	Date        string          `json:"date"`
	Revenue     decimal.Decimal `json:"revenue"`
	TicketsSold int             `json:"tickets_sold"`
	Orders      int             `json:"orders"`
}

// authorize loads the event and checks that userID organizes it.
func (s *Service) authorize(ctx context.Context, userID, eventID string) (*models.Event, error) {
	event, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != userID {
		s.Logger.Warn("ANALYTICS", fmt.Sprintf("User %s attempted to access analytics for event %s", userID, eventID))
		return nil, ErrForbidden
	}
	return event, nil
}

// GetEventAnalytics returns revenue and admission analytics for one event,
// counting completed orders only.
func (s *Service) GetEventAnalytics(ctx context.Context, userID, eventID string) (*EventAnalytics, error) {
	event, err := s.authorize(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	orders, err := s.DB.OrdersForEvents(ctx, []string{eventID}, models.OrderStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	types, err := s.Events.GetTicketTypes(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load ticket types: %w", err)
	}
	counts, err := s.Tickets.CountsForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}

	out := &EventAnalytics{
		EventID:     event.ID,
		Title:       event.Title,
		SalesTotals: totals(orders),
		DailySales:  dailySales(orders),
		SalesByType: salesByType(orders, types),
		CheckIns:    counts,
		CheckInRate: decimal.Zero,
	}
	for _, tt := range types {
		out.Capacity += tt.Quantity
	}
	if admitted := counts.Issued - counts.Cancelled; admitted > 0 {
		out.CheckInRate = decimal.NewFromInt(int64(counts.CheckedIn)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(admitted))).
			Round(1)
	}
	s.Logger.Debug("ANALYTICS", fmt.Sprintf("Event %s: %d orders, %d tickets, revenue %s", eventID, out.OrderCount, out.TicketsSold, out.TotalRevenue))
	return out, nil
}

func totals(orders []models.Order) SalesTotals {
	t := SalesTotals{TotalRevenue: decimal.Zero}
	for _, o := range orders {
		t.TotalRevenue = t.TotalRevenue.Add(o.Total)
		t.OrderCount++
		for _, it := range o.Items {
			t.TicketsSold += it.Quantity
		}
	}
	return t
}

func saleDay(o models.Order) string {
	at := o.CompletedAt
	if at.IsZero() {
		at = o.CreatedAt
	}
	return at.UTC().Format(time.DateOnly)
}

func dailySales(orders []models.Order) []DailySalesMetrics {
	byDay := make(map[string]*DailySalesMetrics)
	for _, o := range orders {
		day := saleDay(o)
		m, ok := byDay[day]
		if !ok {
			m = &DailySalesMetrics{Date: day, Revenue: decimal.Zero}
			byDay[day] = m
		}
		m.Revenue = m.Revenue.Add(o.Total)
		m.Orders++
		for _, it := range o.Items {
			m.TicketsSold += it.Quantity
		}
	}
	out := make([]DailySalesMetrics, 0, len(byDay))
	for _, m := range byDay {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func salesByType(orders []models.Order, types []models.TicketType) []TicketTypeMetrics {
	out := make([]TicketTypeMetrics, 0, len(types))
	index := make(map[string]int, len(types))
	for _, tt := range types {
		index[tt.ID] = len(out)
		out = append(out, TicketTypeMetrics{
			TicketTypeID: tt.ID,
			Name:         tt.Name,
			Price:        tt.Price,
			Quantity:     tt.Quantity,
			Revenue:      decimal.Zero,
		})
	}
	for _, o := range orders {
		for _, it := range o.Items {
			i, ok := index[it.TicketTypeID]
			if !ok {
				continue
			}
			out[i].TicketsSold += it.Quantity
			out[i].Revenue = out[i].Revenue.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	return out
}
