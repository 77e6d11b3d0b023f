package ticket_api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	orderdb "ms-stepping/internal/order/db"
	ticketdb "ms-stepping/internal/tickets/db"
	tickets "ms-stepping/internal/tickets/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type fakeOrders map[string]*models.Order

func (f fakeOrders) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if o, ok := f[id]; ok {
		return o, nil
	}
	return nil, orderdb.ErrNotFound
}

type doorStaff map[string]bool

func (d doorStaff) CanScan(ctx context.Context, userID, eventID string) (bool, error) {
	return d[userID], nil
}

func setup(t *testing.T) (http.Handler, []models.Ticket) {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })
	store := &ticketdb.DB{Bun: bunDB}
	require.NoError(t, store.CreateSchema(context.Background()))

	log := logger.NewConsoleLogger()
	svc := tickets.NewTicketService(store, "secret", doorStaff{"door": true}, log)
	order := &models.Order{
		ID: "order-1", UserID: "buyer", EventID: "event-1",
		Items: []models.OrderItem{{TicketTypeID: "ga", Quantity: 2, UnitPrice: decimal.NewFromInt(20)}},
	}
	issued, err := svc.IssueTickets(context.Background(), order)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := models.Principal{UserID: r.Header.Get("X-Test-User")}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	})
	NewHandler(svc, fakeOrders{"order-1": order}, log).Routes(r)
	return r, issued
}

func call(h http.Handler, method, path, user string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListTicketsByOrderOwnerOnly(t *testing.T) {
	h, _ := setup(t)

	rec := call(h, http.MethodGet, "/api/orders/order-1/tickets", "buyer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []models.Ticket `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)

	assert.Equal(t, http.StatusForbidden, call(h, http.MethodGet, "/api/orders/order-1/tickets", "other", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(h, http.MethodGet, "/api/orders/nope/tickets", "buyer", nil).Code)
}

func TestTicketQRIsPNG(t *testing.T) {
	h, issued := setup(t)
	rec := call(h, http.MethodGet, "/api/tickets/"+issued[0].ID+"/qr", "buyer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestCheckinByQRThenConflict(t *testing.T) {
	h, issued := setup(t)
	body, _ := json.Marshal(map[string]string{"encrypted_qr": issued[0].QRPayload})

	assert.Equal(t, http.StatusForbidden, call(h, http.MethodPost, "/api/tickets/checkin", "buyer", body).Code)
	assert.Equal(t, http.StatusOK, call(h, http.MethodPost, "/api/tickets/checkin", "door", body).Code)
	assert.Equal(t, http.StatusConflict, call(h, http.MethodPost, "/api/tickets/checkin", "door", body).Code)

	bad, _ := json.Marshal(map[string]string{"encrypted_qr": "garbage"})
	assert.Equal(t, http.StatusBadRequest, call(h, http.MethodPost, "/api/tickets/checkin", "door", bad).Code)
}

func TestCheckinByID(t *testing.T) {
	h, issued := setup(t)
	assert.Equal(t, http.StatusOK, call(h, http.MethodPost, "/api/tickets/"+issued[1].ID+"/checkin", "door", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(h, http.MethodPost, "/api/tickets/missing/checkin", "door", nil).Code)
}
