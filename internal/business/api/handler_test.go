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
	"ms-stepping/internal/business"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setup(t *testing.T) http.Handler {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	db := &business.DB{Bun: bunDB}
	require.NoError(t, db.CreateSchema(context.Background()))
	log := logger.NewConsoleLogger()
	h := NewHandler(&business.Service{Store: db, Logger: log}, log)

	r := chi.NewRouter()
	h.PublicRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p := models.Principal{UserID: r.Header.Get("X-Test-User"), Role: r.Header.Get("X-Test-Role")}
				next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
			})
		})
		h.Routes(r)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			h.AdminRoutes(r)
		})
	})
	return r
}

func call(t *testing.T, h http.Handler, method, path, user, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Role", role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBusinessReviewFlow(t *testing.T) {
	h := setup(t)

	rec := call(t, h, http.MethodPost, "/api/businesses", "owner", "", business.BusinessInput{
		Name: "Step Shop", Category: "retail", ContactEmail: "shop@example.com", City: "Chicago",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data models.CommunityBusiness `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Data.ID

	rec = call(t, h, http.MethodGet, "/api/businesses", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(mustData(t, rec)))
	assert.Equal(t, http.StatusNotFound, call(t, h, http.MethodGet, "/api/businesses/"+id, "", "", nil).Code)

	rec = call(t, h, http.MethodPatch, "/api/businesses/"+id, "owner", "", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodPut, "/api/admin/businesses/"+id+"/status", "owner", "", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodPut, "/api/admin/businesses/"+id+"/status", "admin", "admin", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodGet, "/api/businesses?city=Chicago", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Step Shop")

	assert.Equal(t, http.StatusNoContent, call(t, h, http.MethodDelete, "/api/businesses/"+id, "owner", "", nil).Code)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	h := setup(t)
	rec := call(t, h, http.MethodPost, "/api/businesses", "owner", "", business.BusinessInput{Name: "No Email", Category: "retail"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func mustData(t *testing.T, rec *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}
