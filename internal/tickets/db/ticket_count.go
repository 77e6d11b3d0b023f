package db

import (
	"context"

	"ms-stepping/internal/models"
)

// TicketCounts is the admission tally of one event.
type TicketCounts struct {
	Issued    int `json:"issued"`
	CheckedIn int `json:"checked_in"`
	Cancelled int `json:"cancelled"`
}

type statusCount struct {
	Status models.TicketStatus `bun:"status"`
	N      int                 `bun:"n"`
}

// GetTotalTicketsCount returns the number of tickets ever issued.
func (d *DB) GetTotalTicketsCount(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
}

// CountsForEvent tallies an event's tickets by status.
func (d *DB) CountsForEvent(ctx context.Context, eventID string) (TicketCounts, error) {
	var rows []statusCount
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS n").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return TicketCounts{}, err
	}
	var c TicketCounts
	for _, r := range rows {
		c.Issued += r.N
		switch r.Status {
		case models.TicketStatusCheckedIn:
			c.CheckedIn = r.N
		case models.TicketStatusCancelled:
			c.Cancelled = r.N
		}
	}
	return c, nil
}
