package analytics_api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-stepping/internal/analytics"
	"ms-stepping/internal/auth"
	"ms-stepping/internal/events"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	orderdb "ms-stepping/internal/order/db"
	ticketdb "ms-stepping/internal/tickets/db"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setup(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	log := logger.NewConsoleLogger()

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	eventStore := &events.DB{Bun: bunDB}
	orderStore := &orderdb.DB{Bun: bunDB}
	ticketStore := &ticketdb.DB{Bun: bunDB}
	require.NoError(t, eventStore.CreateSchema(ctx))
	require.NoError(t, orderStore.CreateSchema(ctx))
	require.NoError(t, ticketStore.CreateSchema(ctx))

	now := time.Now().UTC()
	require.NoError(t, eventStore.InsertEvent(ctx, &models.Event{
		ID: "ev", OrganizerID: "org", Title: "Showcase", EventType: models.EventTypeTicketed,
		StartsAt: now, Status: models.EventStatusPublished, CreatedAt: now, UpdatedAt: now,
	}, []*models.TicketType{{ID: "ga", EventID: "ev", Name: "General", Price: decimal.NewFromInt(10), Quantity: 50, CreatedAt: now}}))
	require.NoError(t, orderStore.CreateOrder(ctx, &models.Order{
		ID: "o1", UserID: "buyer", EventID: "ev", Status: models.OrderStatusCompleted, Total: decimal.NewFromInt(30),
		Currency: "USD", CreatedAt: now, UpdatedAt: now, CompletedAt: now,
		Items: []models.OrderItem{{ID: "i1", OrderID: "o1", TicketTypeID: "ga", Quantity: 3, UnitPrice: decimal.NewFromInt(10)}},
	}))

	svc := analytics.NewService(&analytics.DB{Bun: bunDB}, &events.EventService{Store: eventStore, Logger: log}, ticketStore, log)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := models.Principal{UserID: r.Header.Get("X-Test-User")}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	})
	NewHandler(svc, log).Routes(r)
	return r
}

func call(h http.Handler, method, path, user string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEventAnalyticsEndpoint(t *testing.T) {
	h := setup(t)

	rec := call(h, http.MethodGet, "/api/events/ev/analytics", "org", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data analytics.EventAnalytics `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.TicketsSold)
	assert.True(t, resp.Data.TotalRevenue.Equal(decimal.NewFromInt(30)))

	assert.Equal(t, http.StatusForbidden, call(h, http.MethodGet, "/api/events/ev/analytics", "buyer", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(h, http.MethodGet, "/api/events/nope/analytics", "org", nil).Code)
}

func TestOrganizerAndBatchEndpoints(t *testing.T) {
	h := setup(t)

	rec := call(h, http.MethodGet, "/api/organizers/me/analytics", "org", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event_count":1`)

	rec = call(h, http.MethodPost, "/api/analytics/events/batch", "org", []byte(`{"event_ids":["ev"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusBadRequest, call(h, http.MethodPost, "/api/analytics/events/batch", "org", []byte(`{}`)).Code)

	rec = call(h, http.MethodGet, "/api/events/ev/orders?status=completed", "org", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"o1"`)
}
