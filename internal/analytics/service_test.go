package analytics_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-stepping/internal/analytics"
	"ms-stepping/internal/events"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	orderdb "ms-stepping/internal/order/db"
	ticketdb "ms-stepping/internal/tickets/db"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type fixture struct {
	svc     *analytics.Service
	events  *events.DB
	orders  *orderdb.DB
	tickets *ticketdb.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.NewConsoleLogger()

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	f := &fixture{
		events:  &events.DB{Bun: bunDB},
		orders:  &orderdb.DB{Bun: bunDB},
		tickets: &ticketdb.DB{Bun: bunDB},
	}
	require.NoError(t, f.events.CreateSchema(ctx))
	require.NoError(t, f.orders.CreateSchema(ctx))
	require.NoError(t, f.tickets.CreateSchema(ctx))

	f.svc = analytics.NewService(&analytics.DB{Bun: bunDB}, &events.EventService{Store: f.events, Logger: log}, f.tickets, log)
	return f
}

func (f *fixture) seedEvent(t *testing.T, id, organizer string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.events.InsertEvent(context.Background(), &models.Event{
		ID: id, OrganizerID: organizer, Title: "Event " + id, EventType: models.EventTypeTicketed,
		StartsAt: now.Add(24 * time.Hour), Status: models.EventStatusPublished, CreatedAt: now, UpdatedAt: now,
	}, []*models.TicketType{
		{ID: id + "-vip", EventID: id, Name: "VIP", Price: decimal.RequireFromString("100"), Quantity: 10, CreatedAt: now},
		{ID: id + "-ga", EventID: id, Name: "General", Price: decimal.RequireFromString("25"), Quantity: 90, CreatedAt: now},
	}))
}

// seedOrder stores an order and, when completed, its tickets.
func (f *fixture) seedOrder(t *testing.T, eventID string, status models.OrderStatus, at time.Time, vip, ga int) {
	t.Helper()
	ctx := context.Background()
	o := &models.Order{
		ID: uuid.NewString(), UserID: "buyer", EventID: eventID, Status: status, Currency: "USD",
		CreatedAt: at, UpdatedAt: at,
	}
	total := decimal.Zero
	add := func(typeID string, qty int, price string) {
		if qty == 0 {
			return
		}
		p := decimal.RequireFromString(price)
		total = total.Add(p.Mul(decimal.NewFromInt(int64(qty))))
		o.Items = append(o.Items, models.OrderItem{ID: uuid.NewString(), OrderID: o.ID, TicketTypeID: typeID, Quantity: qty, UnitPrice: p})
	}
	add(eventID+"-vip", vip, "100")
	add(eventID+"-ga", ga, "25")
	o.Total = total
	if status == models.OrderStatusCompleted {
		o.CompletedAt = at
	}
	require.NoError(t, f.orders.CreateOrder(ctx, o))

	if status != models.OrderStatusCompleted {
		return
	}
	var issued []models.Ticket
	for _, it := range o.Items {
		for i := 0; i < it.Quantity; i++ {
			issued = append(issued, models.Ticket{
				ID: uuid.NewString(), OrderID: o.ID, EventID: eventID, TicketTypeID: it.TicketTypeID, UserID: "buyer",
				QRPayload: uuid.NewString(), PriceAtPurchase: it.UnitPrice, Status: models.TicketStatusValid, IssuedAt: at,
			})
		}
	}
	require.NoError(t, f.tickets.CreateTickets(ctx, issued))
}

func TestEventAnalytics(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, "ev", "org")
	day1 := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	f.seedOrder(t, "ev", models.OrderStatusCompleted, day1, 1, 2)
	f.seedOrder(t, "ev", models.OrderStatusCompleted, day1.Add(time.Hour), 0, 1)
	f.seedOrder(t, "ev", models.OrderStatusCompleted, day2, 2, 0)
	f.seedOrder(t, "ev", models.OrderStatusPending, day2, 5, 5)
	f.seedOrder(t, "ev", models.OrderStatusCancelled, day2, 1, 0)

	ctx := context.Background()
	byOrder, err := f.tickets.GetTicketsByUser(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, byOrder, 6)
	_, err = f.tickets.CheckIn(ctx, byOrder[0].ID, day2)
	require.NoError(t, err)
	_, err = f.tickets.CheckIn(ctx, byOrder[1].ID, day2)
	require.NoError(t, err)

	got, err := f.svc.GetEventAnalytics(ctx, "org", "ev")
	require.NoError(t, err)

	assert.True(t, got.TotalRevenue.Equal(decimal.RequireFromString("375")), got.TotalRevenue.String())
	assert.Equal(t, 3, got.OrderCount)
	assert.Equal(t, 6, got.TicketsSold)
	assert.Equal(t, 100, got.Capacity)

	require.Len(t, got.DailySales, 2)
	assert.Equal(t, "2026-05-01", got.DailySales[0].Date)
	assert.Equal(t, 4, got.DailySales[0].TicketsSold)
	assert.Equal(t, 2, got.DailySales[0].Orders)
	assert.True(t, got.DailySales[1].Revenue.Equal(decimal.NewFromInt(200)))

	require.Len(t, got.SalesByType, 2)
	for _, m := range got.SalesByType {
		switch m.Name {
		case "VIP":
			assert.Equal(t, 3, m.TicketsSold)
			assert.True(t, m.Revenue.Equal(decimal.NewFromInt(300)))
		case "General":
			assert.Equal(t, 3, m.TicketsSold)
			assert.True(t, m.Revenue.Equal(decimal.NewFromInt(75)))
		}
	}

	assert.Equal(t, 6, got.CheckIns.Issued)
	assert.Equal(t, 2, got.CheckIns.CheckedIn)
	assert.True(t, got.CheckInRate.Equal(decimal.RequireFromString("33.3")), got.CheckInRate.String())
}

func TestEventAnalyticsOrganizerOnly(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, "ev", "org")

	_, err := f.svc.GetEventAnalytics(context.Background(), "someone", "ev")
	assert.ErrorIs(t, err, analytics.ErrForbidden)
	_, err = f.svc.GetEventAnalytics(context.Background(), "org", "missing")
	assert.ErrorIs(t, err, events.ErrNotFound)
}

func TestOrganizerAndBatchAnalytics(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, "a", "org")
	f.seedEvent(t, "b", "org")
	f.seedEvent(t, "other", "rival")
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	f.seedOrder(t, "a", models.OrderStatusCompleted, at, 1, 0)
	f.seedOrder(t, "b", models.OrderStatusCompleted, at, 0, 4)
	f.seedOrder(t, "other", models.OrderStatusCompleted, at, 3, 0)
	ctx := context.Background()

	org, err := f.svc.GetOrganizerAnalytics(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, 2, org.EventCount)
	assert.True(t, org.TotalRevenue.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, 5, org.TicketsSold)
	require.Len(t, org.Events, 2)

	batch, err := f.svc.GetBatchEventAnalytics(ctx, "org", []string{"b", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.EventCount)
	assert.Equal(t, 4, batch.TicketsSold)

	_, err = f.svc.GetBatchEventAnalytics(ctx, "org", []string{"a", "other"})
	assert.ErrorIs(t, err, analytics.ErrForbidden)
}

func TestEventOrdersSorting(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, "ev", "org")
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	f.seedOrder(t, "ev", models.OrderStatusCompleted, at, 0, 1)
	f.seedOrder(t, "ev", models.OrderStatusCompleted, at.Add(time.Minute), 2, 0)
	f.seedOrder(t, "ev", models.OrderStatusPending, at.Add(2*time.Minute), 0, 2)

	got, err := f.svc.GetEventOrders(context.Background(), "org", "ev", analytics.EventOrderOptions{
		Status: models.OrderStatusCompleted, SortBy: "total", SortDesc: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Total.Equal(decimal.NewFromInt(200)))
	assert.Len(t, got[0].Items, 1)

	_, err = f.svc.GetEventOrders(context.Background(), "rival", "ev", analytics.EventOrderOptions{})
	assert.ErrorIs(t, err, analytics.ErrForbidden)
}
