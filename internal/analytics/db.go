package analytics

import (
	"context"
	"strings"

	"ms-stepping/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// OrdersForEvents loads the orders of the given events, with their items.
// An empty status matches every order.
func (d *DB) OrdersForEvents(ctx context.Context, eventIDs []string, status models.OrderStatus) ([]models.Order, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var orders []models.Order
	q := d.Bun.NewSelect().Model(&orders).Where("event_id IN (?)", bun.In(eventIDs))
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return orders, d.attachItems(ctx, orders)
}

// EventOrders lists one event's orders for its organizer.
func (d *DB) EventOrders(ctx context.Context, eventID string, opts EventOrderOptions) ([]models.Order, error) {
	var orders []models.Order
	q := d.Bun.NewSelect().Model(&orders).Where("event_id = ?", eventID)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}

	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}
	switch OrderSortField(strings.ToLower(opts.SortBy)) {
	case OrderSortByTotal:
		q = q.Order("total " + direction)
	default:
		q = q.Order("created_at " + direction)
	}

	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 100
	}
	q = q.Limit(opts.Limit)
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return orders, d.attachItems(ctx, orders)
}

func (d *DB) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	var items []models.OrderItem
	if err := d.Bun.NewSelect().Model(&items).Where("order_id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return err
	}
	for _, it := range items {
		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return nil
}
