package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-stepping/internal/models"

	"github.com/uptrace/bun"
)

var (
	ErrNotFound         = errors.New("ticket not found")
	ErrAlreadyCheckedIn = errors.New("ticket already checked in")
	ErrNotValid         = errors.New("ticket is not valid for entry")
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateSchema(ctx context.Context) error {
	_, err := d.Bun.NewCreateTable().Model((*models.Ticket)(nil)).IfNotExists().Exec(ctx)
	return err
}

// CreateTickets inserts every ticket of an order in one statement.
func (d *DB) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&tickets).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	ticket := new(models.Ticket)
	err := d.Bun.NewSelect().Model(ticket).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (d *DB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("issued_at ASC", "id ASC").
		Scan(ctx)
	return tickets, err
}

func (d *DB) GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("user_id = ?", userID).
		Order("issued_at DESC").
		Scan(ctx)
	return tickets, err
}

// TakenSeats returns the seats of seatIDs already sold for eventID.
func (d *DB) TakenSeats(ctx context.Context, eventID string, seatIDs []string) ([]string, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	var taken []string
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("seat_id").
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Where("status != ?", models.TicketStatusCancelled).
		Scan(ctx, &taken)
	return taken, err
}

// CheckIn marks a valid ticket as used. A ticket can be checked in once.
func (d *DB) CheckIn(ctx context.Context, id string, at time.Time) (*models.Ticket, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketStatusCheckedIn).
		Set("checked_in_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.TicketStatusValid).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	ticket, err := d.GetTicketByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if ticket.Status == models.TicketStatusCheckedIn {
			return ticket, ErrAlreadyCheckedIn
		}
		return ticket, ErrNotValid
	}
	return ticket, nil
}

// CancelByOrder voids every ticket of an order, e.g. after a refund.
func (d *DB) CancelByOrder(ctx context.Context, orderID string) (int, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketStatusCancelled).
		Where("order_id = ?", orderID).
		Where("status = ?", models.TicketStatusValid).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
