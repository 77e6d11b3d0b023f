package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-stepping/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// CreateSchema creates the events and ticket_types tables. Used by tests and
// by deployments without SQL migrations.
func (d *DB) CreateSchema(ctx context.Context) error {
	for _, model := range []interface{}{(*models.Event)(nil), (*models.TicketType)(nil)} {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvent stores an event and its ticket types in one transaction.
func (d *DB) InsertEvent(ctx context.Context, event *models.Event, ticketTypes []*models.TicketType) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(event).Exec(ctx); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if len(ticketTypes) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&ticketTypes).Exec(ctx); err != nil {
			return fmt.Errorf("insert ticket types: %w", err)
		}
		return nil
	})
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	event := new(models.Event)
	err := d.Bun.NewSelect().Model(event).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (d *DB) ListByOrganizer(ctx context.Context, organizerID string) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("organizer_id = ?", organizerID).
		Order("starts_at DESC").
		Scan(ctx)
	return events, err
}

// ListPublished returns published events starting at or after from.
func (d *DB) ListPublished(ctx context.Context, from time.Time, limit, offset int) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("status = ?", models.EventStatusPublished).
		Where("starts_at >= ?", from).
		Order("starts_at ASC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	return events, err
}

func (d *DB) UpdateStatus(ctx context.Context, id string, status models.EventStatus) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) GetTicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error) {
	var types []models.TicketType
	err := d.Bun.NewSelect().
		Model(&types).
		Where("event_id = ?", eventID).
		Order("price ASC").
		Scan(ctx)
	return types, err
}
