package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/follower"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/referral"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setup(t *testing.T) (http.Handler, *follower.Service) {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	ctx := context.Background()
	fdb := &follower.DB{Bun: bunDB}
	rdb := &referral.DB{Bun: bunDB}
	require.NoError(t, fdb.CreateSchema(ctx))
	require.NoError(t, rdb.CreateSchema(ctx))

	log := logger.NewConsoleLogger()
	followers := &follower.Service{Store: fdb, Logger: log}
	h := NewHandler(&referral.Service{Store: rdb, Permissions: followers, Logger: log}, log)

	r := chi.NewRouter()
	h.PublicRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p := models.Principal{UserID: r.Header.Get("X-Test-User")}
				next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
			})
		})
		h.Routes(r)
	})
	return r, followers
}

func call(h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndValidateCode(t *testing.T) {
	h, followers := setup(t)
	ctx := context.Background()

	rec := call(h, http.MethodPost, "/api/referrals/codes", "seller", `{"organizer_id":"org"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err := followers.Follow(ctx, "seller", "org")
	require.NoError(t, err)
	_, err = followers.Promote(ctx, "org", "seller", models.PromotionRequest{CanSellTickets: true, CommissionRate: decimal.NewFromInt(10)})
	require.NoError(t, err)

	rec = call(h, http.MethodPost, "/api/referrals/codes", "seller", `{"organizer_id":"org"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Data models.ReferralCode `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code := body.Data.Code

	rec = call(h, http.MethodGet, "/api/referrals/validate/"+code, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"organizer_id":"org"`)

	require.Equal(t, http.StatusNoContent, call(h, http.MethodDelete, "/api/referrals/codes/"+body.Data.ID, "seller", "").Code)
	assert.Equal(t, http.StatusNotFound, call(h, http.MethodGet, "/api/referrals/validate/"+code, "", "").Code)
}

func TestEarningsSummaryEmpty(t *testing.T) {
	h, _ := setup(t)
	rec := call(h, http.MethodGet, "/api/referrals/earnings/summary", "seller", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)

	assert.Equal(t, http.StatusBadRequest, call(h, http.MethodGet, "/api/organizers/me/referrals/earnings?status=bogus", "org", "").Code)
	assert.Equal(t, http.StatusNotFound, call(h, http.MethodPost, "/api/organizers/me/referrals/earnings/missing/paid", "org", "").Code)
}
