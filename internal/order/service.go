// Package order places, completes and cancels ticket orders.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-stepping/internal/config"
	"ms-stepping/internal/kafka"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/monitoring"
	orderdb "ms-stepping/internal/order/db"
	"ms-stepping/internal/utils"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = orderdb.ErrNotFound
	ErrNotPending       = orderdb.ErrNotPending
	ErrNotCompleted     = orderdb.ErrNotCompleted
	ErrValidation       = errors.New("invalid order")
	ErrForbidden        = errors.New("order belongs to another user")
	ErrSoldOut          = orderdb.ErrSoldOut
	ErrSeatsUnavailable = errors.New("one or more seats are unavailable")
	ErrEventClosed      = errors.New("event is not on sale")
)

type DBLayer interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	CompleteOrder(ctx context.Context, order *models.Order) error
	CancelOrder(ctx context.Context, id string) error
	RefundOrder(ctx context.Context, order *models.Order) error
}

type SeatLocker interface {
	LockSeats(ctx context.Context, eventID string, seatIDs []string, orderID string) (bool, error)
	UnlockSeats(ctx context.Context, eventID string, seatIDs []string, orderID string) error
}

// OrderHolds tracks how long a pending order may wait for payment.
type OrderHolds interface {
	HoldOrder(ctx context.Context, orderID string) error
	ReleaseOrder(ctx context.Context, orderID string) error
}

type EventLookup interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error)
}

type TicketIssuer interface {
	IssueTickets(ctx context.Context, order *models.Order) ([]models.Ticket, error)
	TakenSeats(ctx context.Context, eventID string, seatIDs []string) ([]string, error)
	CancelForOrder(ctx context.Context, orderID string) (int, error)
}

type Referrals interface {
	Resolve(ctx context.Context, code string) (*models.ReferralCode, error)
	RecordCommission(ctx context.Context, order *models.Order) (*models.CommissionEarning, error)
	VoidCommission(ctx context.Context, orderID string) error
}

type CheckoutEmitter interface {
	EmitCheckoutEvent(evt models.CheckoutEvent)
}

type OrderService struct {
	DB        DBLayer
	Seats     SeatLocker
	Holds     OrderHolds
	Events    EventLookup
	Tickets   TicketIssuer
	Referrals Referrals
	Emitter   CheckoutEmitter
	Producer  kafka.Publisher
	Topics    config.TopicConfig
	Currency  string
	Logger    *logger.Logger
}

// OrderMessage is published on every order state change.
type OrderMessage struct {
	Type        string             `json:"type"`
	OrderID     string             `json:"order_id"`
	EventID     string             `json:"event_id"`
	UserID      string             `json:"user_id"`
	Status      models.OrderStatus `json:"status"`
	Total       decimal.Decimal    `json:"total"`
	Currency    string             `json:"currency"`
	PaymentID   string             `json:"payment_id,omitempty"`
	TicketCount int                `json:"ticket_count,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// PlaceOrder prices the requested items from the event's ticket types, holds
// the seats of a premium event and stores a pending order.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.Order, error) {
	if req.EventID == "" || len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: event_id and at least one item are required", ErrValidation)
	}
	event, err := s.Events.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusPublished || event.EventType == models.EventTypeSimple {
		return nil, ErrEventClosed
	}

	types, err := s.Events.GetTicketTypes(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.TicketType, len(types))
	for _, tt := range types {
		byID[tt.ID] = tt
	}

	order := &models.Order{
		ID:       utils.GenerateID(),
		UserID:   userID,
		EventID:  event.ID,
		Status:   models.OrderStatusPending,
		Total:    decimal.Zero,
		Currency: s.Currency,
	}
	quantity := 0
	requested := make(map[string]int)
	for _, item := range req.Items {
		tt, ok := byID[item.TicketTypeID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown ticket type %q", ErrValidation, item.TicketTypeID)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		requested[tt.ID] += item.Quantity
		if requested[tt.ID] > tt.Available() {
			return nil, fmt.Errorf("%w: %s has %d left", ErrSoldOut, tt.Name, tt.Available())
		}
		quantity += item.Quantity
		order.Total = order.Total.Add(tt.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		order.Items = append(order.Items, models.OrderItem{
			ID:           utils.GenerateID(),
			OrderID:      order.ID,
			TicketTypeID: tt.ID,
			Quantity:     item.Quantity,
			UnitPrice:    tt.Price,
		})
	}
	order.Total = order.Total.Round(2)

	seats, err := normalizeSeats(event, req.SeatIDs, quantity)
	if err != nil {
		return nil, err
	}
	order.SeatIDs = seats

	if code := strings.TrimSpace(req.ReferralCode); code != "" && s.Referrals != nil {
		ref, err := s.Referrals.Resolve(ctx, code)
		switch {
		case err != nil:
			s.Logger.Warn("ORDER", fmt.Sprintf("Ignoring referral code %s: %v", code, err))
		case ref.OrganizerID != event.OrganizerID || (ref.EventID != "" && ref.EventID != event.ID):
			s.Logger.Warn("ORDER", fmt.Sprintf("Ignoring referral code %s: not valid for event %s", code, event.ID))
		default:
			order.ReferralCode = ref.Code
		}
	}

	if len(seats) > 0 {
		taken, err := s.Tickets.TakenSeats(ctx, event.ID, seats)
		if err != nil {
			return nil, fmt.Errorf("failed to check seats: %w", err)
		}
		if len(taken) > 0 {
			return nil, fmt.Errorf("%w: %s already sold", ErrSeatsUnavailable, strings.Join(taken, ", "))
		}
		ok, err := s.Seats.LockSeats(ctx, event.ID, seats, order.ID)
		if err != nil {
			return nil, fmt.Errorf("redis lock error: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: held by another checkout", ErrSeatsUnavailable)
		}
	}

	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	if err := s.DB.CreateOrder(ctx, order); err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Failed to create order %s: %v. Rolling back seat holds.", order.ID, err))
		s.releaseSeats(ctx, order)
		return nil, err
	}

	if s.Holds != nil {
		if err := s.Holds.HoldOrder(ctx, order.ID); err != nil {
			s.Logger.Warn("ORDER", fmt.Sprintf("Failed to start payment window for order %s: %v", order.ID, err))
		}
	}

	s.Logger.LogOrder("PLACED", order.ID, fmt.Sprintf("user=%s event=%s tickets=%d total=%s", userID, event.ID, quantity, order.Total))
	monitoring.TrackOrder(string(order.Status))
	s.publish(s.Topics.OrderCreated, "order.created", order, 0)
	return order, nil
}

// normalizeSeats enforces that premium events pick one seat per ticket and
// other events pick none.
func normalizeSeats(event *models.Event, seatIDs []string, quantity int) ([]string, error) {
	seen := make(map[string]bool)
	var seats []string
	for _, id := range seatIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		seats = append(seats, id)
	}
	if event.EventType != models.EventTypePremium {
		if len(seats) > 0 {
			return nil, fmt.Errorf("%w: %s events have no reserved seating", ErrValidation, event.EventType)
		}
		return nil, nil
	}
	if len(seats) != quantity {
		return nil, fmt.Errorf("%w: choose %d seats, got %d", ErrValidation, quantity, len(seats))
	}
	return seats, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.DB.GetOrderByID(ctx, id)
}

// OrganizesOrder reports whether userID organizes the event orderID was
// placed for. Unknown orders report false.
func (s *OrderService) OrganizesOrder(ctx context.Context, userID, orderID string) (bool, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if errors.Is(err, orderdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	event, err := s.Events.GetEvent(ctx, order.EventID)
	if err != nil {
		return false, err
	}
	return event.OrganizerID == userID, nil
}

// PlacedOrder reports whether userID placed orderID.
func (s *OrderService) PlacedOrder(ctx context.Context, userID, orderID string) (bool, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if errors.Is(err, orderdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return order.UserID == userID, nil
}

// GetOrderForUser returns an order only to the user who placed it.
func (s *OrderService) GetOrderForUser(ctx context.Context, userID, id string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return s.DB.ListByUser(ctx, userID)
}

// CompleteOrder marks a paid order completed, issues its tickets, records the
// referral commission and notifies the organizer. Completing an order that is
// already completed returns it with its tickets and changes nothing.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID, paymentID string) (*models.Order, []models.Ticket, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	switch order.Status {
	case models.OrderStatusCompleted:
		s.Logger.LogOrder("COMPLETE", orderID, "already completed")
		tickets, err := s.Tickets.IssueTickets(ctx, order)
		return order, tickets, err
	case models.OrderStatusPending:
	default:
		return nil, nil, fmt.Errorf("%w: order %s is %s", ErrNotPending, orderID, order.Status)
	}

	now := time.Now().UTC()
	order.PaymentID = paymentID
	order.CompletedAt = now
	order.UpdatedAt = now
	if err := s.DB.CompleteOrder(ctx, order); err != nil {
		if errors.Is(err, orderdb.ErrNotPending) {
			// Lost a race with a concurrent completion or cancellation.
			return s.CompleteOrder(ctx, orderID, paymentID)
		}
		if errors.Is(err, orderdb.ErrSoldOut) {
			// Paid after the stock ran out; the caller refunds the payment.
			s.Logger.LogOrder("SOLD_OUT", orderID, fmt.Sprintf("payment=%s arrived after stock ran out", paymentID))
			if cerr := s.cancel(ctx, order); cerr != nil {
				s.Logger.Warn("ORDER", fmt.Sprintf("Failed to cancel sold out order %s: %v", orderID, cerr))
			}
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to complete order %s: %w", orderID, err)
	}
	order.Status = models.OrderStatusCompleted

	tickets, err := s.Tickets.IssueTickets(ctx, order)
	if err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Order %s completed but ticket issue failed: %v", orderID, err))
		return order, nil, err
	}
	s.releaseSeats(ctx, order)

	if order.ReferralCode != "" && s.Referrals != nil {
		if _, err := s.Referrals.RecordCommission(ctx, order); err != nil {
			s.Logger.Warn("ORDER", fmt.Sprintf("Failed to record commission for order %s: %v", orderID, err))
		}
	}

	if s.Emitter != nil {
		evt := models.CheckoutEvent{
			OrderID:     order.ID,
			EventID:     order.EventID,
			UserID:      order.UserID,
			Total:       order.Total,
			Currency:    order.Currency,
			TicketCount: len(tickets),
			CompletedAt: now,
		}
		if event, err := s.Events.GetEvent(ctx, order.EventID); err == nil {
			evt.OrganizerID = event.OrganizerID
		}
		s.Emitter.EmitCheckoutEvent(evt)
	}

	s.Logger.LogOrder("COMPLETED", orderID, fmt.Sprintf("payment=%s tickets=%d", paymentID, len(tickets)))
	monitoring.TrackOrder(string(order.Status))
	s.publish(s.Topics.OrderCompleted, "order.completed", order, len(tickets))
	return order, tickets, nil
}

// CancelOrder cancels the caller's pending order and releases its seats.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) error {
	order, err := s.GetOrderForUser(ctx, userID, orderID)
	if err != nil {
		return err
	}
	return s.cancel(ctx, order)
}

// ExpireOrder cancels a pending order on behalf of the system, e.g. after a
// failed payment.
func (s *OrderService) ExpireOrder(ctx context.Context, orderID string) error {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	return s.cancel(ctx, order)
}

func (s *OrderService) cancel(ctx context.Context, order *models.Order) error {
	if order.Status != models.OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", ErrNotPending, order.ID, order.Status)
	}
	if err := s.DB.CancelOrder(ctx, order.ID); err != nil {
		return err
	}
	order.Status = models.OrderStatusCancelled
	s.releaseSeats(ctx, order)

	s.Logger.LogOrder("CANCELLED", order.ID, "")
	monitoring.TrackOrder(string(order.Status))
	s.publish(s.Topics.OrderCancelled, "order.cancelled", order, 0)
	return nil
}

// RefundOrder marks a completed order refunded and voids its tickets and any
// pending referral commission. Seats of voided tickets become available again.
func (s *OrderService) RefundOrder(ctx context.Context, orderID string) error {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == models.OrderStatusRefunded {
		return nil
	}
	if err := s.DB.RefundOrder(ctx, order); err != nil {
		return err
	}
	order.Status = models.OrderStatusRefunded
	voided, err := s.Tickets.CancelForOrder(ctx, order.ID)
	if err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Order %s refunded but tickets not voided: %v", order.ID, err))
		return err
	}
	if order.ReferralCode != "" && s.Referrals != nil {
		if err := s.Referrals.VoidCommission(ctx, order.ID); err != nil {
			s.Logger.Warn("ORDER", fmt.Sprintf("Failed to void commission for order %s: %v", order.ID, err))
		}
	}
	s.Logger.LogOrder("REFUNDED", order.ID, fmt.Sprintf("voided %d tickets", voided))
	monitoring.TrackOrder(string(order.Status))
	return nil
}

func (s *OrderService) releaseSeats(ctx context.Context, order *models.Order) {
	if s.Holds != nil {
		if err := s.Holds.ReleaseOrder(ctx, order.ID); err != nil {
			s.Logger.Warn("ORDER", fmt.Sprintf("Failed to clear payment window for order %s: %v", order.ID, err))
		}
	}
	if len(order.SeatIDs) == 0 || s.Seats == nil {
		return
	}
	if err := s.Seats.UnlockSeats(ctx, order.EventID, order.SeatIDs, order.ID); err != nil {
		s.Logger.Warn("ORDER", fmt.Sprintf("Failed to release seats for order %s: %v", order.ID, err))
	}
}

func (s *OrderService) publish(topic, eventType string, order *models.Order, ticketCount int) {
	err := kafka.PublishJSON(s.Producer, topic, order.ID, OrderMessage{
		Type:        eventType,
		OrderID:     order.ID,
		EventID:     order.EventID,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
		Currency:    order.Currency,
		PaymentID:   order.PaymentID,
		TicketCount: ticketCount,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Kafka publish error (%s) for order %s: %v", eventType, order.ID, err))
	}
}
