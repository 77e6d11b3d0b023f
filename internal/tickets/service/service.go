package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	ticketdb "ms-stepping/internal/tickets/db"
	qr "ms-stepping/internal/tickets/qr_genrator"
	"ms-stepping/internal/utils"
)

var (
	ErrForbidden        = errors.New("not allowed to access this ticket")
	ErrNotFound         = ticketdb.ErrNotFound
	ErrAlreadyCheckedIn = ticketdb.ErrAlreadyCheckedIn
	ErrNotValid         = ticketdb.ErrNotValid
)

type TicketDBLayer interface {
	CreateTickets(ctx context.Context, tickets []models.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error)
	TakenSeats(ctx context.Context, eventID string, seatIDs []string) ([]string, error)
	CheckIn(ctx context.Context, id string, at time.Time) (*models.Ticket, error)
	CancelByOrder(ctx context.Context, orderID string) (int, error)
	CountsForEvent(ctx context.Context, eventID string) (ticketdb.TicketCounts, error)
	GetTotalTicketsCount(ctx context.Context) (int, error)
}

// StaffChecker decides who may scan tickets at an event's door.
type StaffChecker interface {
	CanScan(ctx context.Context, userID, eventID string) (bool, error)
}

type TicketService struct {
	DB     TicketDBLayer
	QR     *qr.QRGenerator
	Staff  StaffChecker
	Logger *logger.Logger
}

func NewTicketService(db TicketDBLayer, qrSecret string, staff StaffChecker, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, QR: qr.NewQRGenerator(qrSecret), Staff: staff, Logger: log}
}

// IssueTickets creates one ticket per unit of every order item, assigning the
// order's seats in sequence. An order that already has tickets gets them back
// unchanged.
func (s *TicketService) IssueTickets(ctx context.Context, order *models.Order) ([]models.Ticket, error) {
	existing, err := s.DB.GetTicketsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check tickets for order %s: %w", order.ID, err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	now := time.Now().UTC()
	var issued []models.Ticket
	seat := 0
	for _, item := range order.Items {
		for i := 0; i < item.Quantity; i++ {
			t := models.Ticket{
				ID:              utils.GenerateID(),
				OrderID:         order.ID,
				EventID:         order.EventID,
				TicketTypeID:    item.TicketTypeID,
				UserID:          order.UserID,
				PriceAtPurchase: item.UnitPrice,
				Status:          models.TicketStatusValid,
				IssuedAt:        now,
			}
			if seat < len(order.SeatIDs) {
				t.SeatID = order.SeatIDs[seat]
				seat++
			}
			payload, png, err := s.QR.Generate(&t)
			if err != nil {
				return nil, fmt.Errorf("failed to generate QR for ticket %s: %w", t.ID, err)
			}
			t.QRPayload, t.QRCode = payload, png
			issued = append(issued, t)
		}
	}

	if err := s.DB.CreateTickets(ctx, issued); err != nil {
		s.Logger.Error("TICKETS", fmt.Sprintf("Failed to store %d tickets for order %s: %v", len(issued), order.ID, err))
		return nil, err
	}
	s.Logger.Info("TICKETS", fmt.Sprintf("Issued %d tickets for order %s", len(issued), order.ID))
	return issued, nil
}

// GetTicket returns a ticket to its holder or to the event's door staff.
func (s *TicketService) GetTicket(ctx context.Context, userID, ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.UserID == userID {
		return ticket, nil
	}
	if err := s.requireStaff(ctx, userID, ticket.EventID); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *TicketService) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	tickets, err := s.DB.GetTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

func (s *TicketService) GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	tickets, err := s.DB.GetTicketsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for user %s: %w", userID, err)
	}
	return tickets, nil
}

func (s *TicketService) TakenSeats(ctx context.Context, eventID string, seatIDs []string) ([]string, error) {
	return s.DB.TakenSeats(ctx, eventID, seatIDs)
}

// CheckIn admits a ticket. A second check-in of the same ticket fails with
// ErrAlreadyCheckedIn.
func (s *TicketService) CheckIn(ctx context.Context, staffID, ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.requireStaff(ctx, staffID, ticket.EventID); err != nil {
		return nil, err
	}
	checked, err := s.DB.CheckIn(ctx, ticketID, time.Now().UTC())
	if err != nil {
		s.Logger.Warn("TICKETS", fmt.Sprintf("Check-in of %s by %s refused: %v", ticketID, staffID, err))
		return checked, err
	}
	s.Logger.Info("TICKETS", fmt.Sprintf("Ticket %s checked in by %s", ticketID, staffID))
	return checked, nil
}

// CheckInByQR admits the ticket named by a scanned QR payload. The payload
// must be the one issued with the ticket.
func (s *TicketService) CheckInByQR(ctx context.Context, staffID, payload string) (*models.Ticket, error) {
	claims, err := s.QR.Decode(payload)
	if err != nil {
		s.Logger.LogSecurity("QR_REJECTED", fmt.Sprintf("Undecodable QR scanned by %s", staffID))
		return nil, err
	}
	ticket, err := s.DB.GetTicketByID(ctx, claims.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.QRPayload != payload {
		s.Logger.LogSecurity("QR_MISMATCH", fmt.Sprintf("Ticket %s scanned with a payload it was not issued", ticket.ID))
		return nil, qr.ErrInvalidPayload
	}
	return s.CheckIn(ctx, staffID, ticket.ID)
}

// CancelForOrder voids the valid tickets of an order.
func (s *TicketService) CancelForOrder(ctx context.Context, orderID string) (int, error) {
	n, err := s.DB.CancelByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Logger.Info("TICKETS", fmt.Sprintf("Cancelled %d tickets of order %s", n, orderID))
	}
	return n, nil
}

func (s *TicketService) CountsForEvent(ctx context.Context, eventID string) (ticketdb.TicketCounts, error) {
	return s.DB.CountsForEvent(ctx, eventID)
}

func (s *TicketService) GetTotalTicketsCount(ctx context.Context) (int, error) {
	return s.DB.GetTotalTicketsCount(ctx)
}

func (s *TicketService) requireStaff(ctx context.Context, userID, eventID string) error {
	if s.Staff == nil {
		return ErrForbidden
	}
	ok, err := s.Staff.CanScan(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
