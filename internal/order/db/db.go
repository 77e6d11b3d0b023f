package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-stepping/internal/models"

	"github.com/uptrace/bun"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrNotPending   = errors.New("order is not pending")
	ErrNotCompleted = errors.New("order is not completed")
	ErrSoldOut      = errors.New("not enough tickets left")
)

type DB struct {
	Bun *bun.DB
}

// CreateSchema creates the orders and order_items tables.
func (d *DB) CreateSchema(ctx context.Context) error {
	for _, model := range []interface{}{(*models.Order)(nil), (*models.OrderItem)(nil)} {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CreateOrder inserts an order and its items in one transaction.
func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if len(order.Items) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

// GetOrderByID fetches one order with its items.
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	order := new(models.Order)
	err := d.Bun.NewSelect().Model(order).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := d.Bun.NewSelect().Model(&order.Items).Where("order_id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return order, nil
}

// ListByUser returns a user's orders, newest first, with their items.
func (d *DB) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListByEvent returns an event's orders with their items. An empty status
// matches every order.
func (d *DB) ListByEvent(ctx context.Context, eventID string, status models.OrderStatus) ([]models.Order, error) {
	var orders []models.Order
	q := d.Bun.NewSelect().Model(&orders).Where("event_id = ?", eventID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	if err := d.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *DB) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	var items []models.OrderItem
	if err := d.Bun.NewSelect().Model(&items).Where("order_id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return err
	}
	byOrder := make(map[string][]models.OrderItem)
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return nil
}

// CompleteOrder moves a pending order to completed and counts its items as
// sold, in one transaction. ErrNotPending means another caller got there
// first or the order was cancelled. ErrSoldOut means an item no longer fits
// in its ticket type's quantity; nothing is written.
func (d *DB) CompleteOrder(ctx context.Context, order *models.Order) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", models.OrderStatusCompleted).
			Set("payment_id = ?", order.PaymentID).
			Set("completed_at = ?", order.CompletedAt).
			Set("updated_at = ?", order.UpdatedAt).
			Where("id = ?", order.ID).
			Where("status = ?", models.OrderStatusPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotPending
		}
		for _, item := range order.Items {
			res, err := tx.NewUpdate().
				Model((*models.TicketType)(nil)).
				Set("sold = sold + ?", item.Quantity).
				Where("id = ?", item.TicketTypeID).
				Where("sold + ? <= quantity", item.Quantity).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update sold count for %s: %w", item.TicketTypeID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: ticket type %s", ErrSoldOut, item.TicketTypeID)
			}
		}
		return nil
	})
}

// CancelOrder moves a pending order to cancelled.
func (d *DB) CancelOrder(ctx context.Context, id string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderStatusCancelled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.OrderStatusPending).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotPending
	}
	return nil
}

// RefundOrder moves a completed order to refunded and returns its items to
// stock, in one transaction.
func (d *DB) RefundOrder(ctx context.Context, order *models.Order) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", models.OrderStatusRefunded).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", order.ID).
			Where("status = ?", models.OrderStatusCompleted).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotCompleted
		}
		for _, item := range order.Items {
			_, err := tx.NewUpdate().
				Model((*models.TicketType)(nil)).
				Set("sold = sold - ?", item.Quantity).
				Where("id = ?", item.TicketTypeID).
				Where("sold >= ?", item.Quantity).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update sold count for %s: %w", item.TicketTypeID, err)
			}
		}
		return nil
	})
}
