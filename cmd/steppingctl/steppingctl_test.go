package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/business"
	business_api "ms-stepping/internal/business/api"
	"ms-stepping/internal/checkout"
	"ms-stepping/internal/config"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

const testSecret = "steppingctl-secret"

func testPrinter() (*printer, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return newPrinter(cmd), &buf
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// businessServer serves the business API the way main.go mounts it.
func businessServer(t *testing.T) *httptest.Server {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	db := &business.DB{Bun: bunDB}
	require.NoError(t, db.CreateSchema(context.Background()))
	log := logger.NewConsoleLogger()
	h := business_api.NewHandler(&business.Service{Store: db, Logger: log}, log)

	r := chi.NewRouter()
	h.PublicRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(&auth.HMACVerifier{Secret: []byte(testSecret)}, log))
		h.Routes(r)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			h.AdminRoutes(r)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestBusinessSmokeFullFlow(t *testing.T) {
	srv := businessServer(t)
	p, out := testPrinter()

	err := runBusinessSmoke(context.Background(), p, newAPIClient(srv.URL), businessSmoke{
		OwnerToken: token(t, "owner-1", ""),
		AdminToken: token(t, "admin-1", "admin"),
	})
	require.NoError(t, err, out.String())

	assert.Contains(t, out.String(), "(pending)")
	assert.Contains(t, out.String(), "listed 1 business(es)")
	assert.Contains(t, out.String(), `"Updated by steppingctl"`)
	assert.Contains(t, out.String(), "public listing shows status approved")
	assert.Contains(t, out.String(), "deleted")

	var mine []json.RawMessage
	require.NoError(t, newAPIClient(srv.URL).do(context.Background(), http.MethodGet, "/api/businesses/mine", token(t, "owner-1", ""), nil, &mine))
	assert.Empty(t, mine)
}

func TestBusinessSmokeWithoutAdminKeepsListing(t *testing.T) {
	srv := businessServer(t)
	p, out := testPrinter()

	err := runBusinessSmoke(context.Background(), p, newAPIClient(srv.URL), businessSmoke{
		OwnerToken: token(t, "owner-1", ""),
		Keep:       true,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "approval skipped")
	assert.Contains(t, out.String(), "kept")
}

func TestBusinessSmokeNonAdminCannotApprove(t *testing.T) {
	srv := businessServer(t)
	p, _ := testPrinter()

	err := runBusinessSmoke(context.Background(), p, newAPIClient(srv.URL), businessSmoke{
		OwnerToken: token(t, "owner-1", ""),
		AdminToken: token(t, "owner-1", ""),
	})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestBusinessSmokeRejectsBadToken(t *testing.T) {
	srv := businessServer(t)
	p, _ := testPrinter()

	err := runBusinessSmoke(context.Background(), p, newAPIClient(srv.URL), businessSmoke{OwnerToken: "not-a-jwt"})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestPaymentSmokeDryRun(t *testing.T) {
	p, out := testPrinter()
	err := runPaymentSmoke(context.Background(), p, newAPIClient("http://unused.invalid"), paymentSmoke{
		ApplicationID: "sandbox-app",
		LocationID:    "L1",
		Amount:        "12.50",
		Currency:      "USD",
		CashApp:       true,
		DryRun:        true,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "cnon:card-nonce-ok")
	assert.Contains(t, out.String(), "wnon:cash-app-ok")
	assert.Contains(t, out.String(), "card widget destroyed")
}

func TestPaymentSmokeMissingCredentials(t *testing.T) {
	p, _ := testPrinter()
	err := runPaymentSmoke(context.Background(), p, newAPIClient("http://unused.invalid"), paymentSmoke{
		Amount: "1.00", Currency: "USD", DryRun: true,
	})
	var cfgErr *checkout.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestPaymentSmokeRejectsBadAmount(t *testing.T) {
	p, _ := testPrinter()
	err := runPaymentSmoke(context.Background(), p, nil, paymentSmoke{ApplicationID: "a", LocationID: "l", Amount: "-3"})
	assert.Error(t, err)
}

func TestPaymentSmokeChargesThroughProxy(t *testing.T) {
	var got map[string]interface{}
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments", r.URL.Path)
		assert.Equal(t, "Bearer buyer-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		utils.WriteSuccess(w, http.StatusOK, "Payment processed", map[string]string{
			"transaction_id": "sq_txn_1",
			"provider":       "square",
			"status":         "success",
			"amount":         "12.50",
			"currency":       "USD",
		})
	}))
	defer proxy.Close()

	p, out := testPrinter()
	err := runPaymentSmoke(context.Background(), p, newAPIClient(proxy.URL), paymentSmoke{
		ApplicationID: "sandbox-app",
		LocationID:    "L1",
		Provider:      "square",
		Amount:        "12.50",
		Currency:      "USD",
		Token:         "buyer-token",
	})
	require.NoError(t, err)

	assert.Equal(t, "create_payment", got["action"])
	assert.Equal(t, "cnon:card-nonce-ok", got["source_id"])
	assert.Equal(t, "12.5", got["amount"])
	assert.NotEmpty(t, got["idempotency_key"])
	assert.Contains(t, out.String(), "transaction sq_txn_1: success 12.50 USD via square")
}

func TestPaymentSmokeSurfacesProviderError(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, http.StatusPaymentRequired, "Payment failed", "CARD_DECLINED: Card was declined")
	}))
	defer proxy.Close()

	p, _ := testPrinter()
	err := runPaymentSmoke(context.Background(), p, newAPIClient(proxy.URL), paymentSmoke{
		ApplicationID: "sandbox-app", LocationID: "L1", Amount: "1", Currency: "USD", Token: "buyer-token",
	})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.Status)
	assert.Contains(t, apiErr.Detail, "CARD_DECLINED")
}

func TestPaymentSmokeRequiresToken(t *testing.T) {
	called := false
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer proxy.Close()

	p, _ := testPrinter()
	err := runPaymentSmoke(context.Background(), p, newAPIClient(proxy.URL), paymentSmoke{
		ApplicationID: "sandbox-app", LocationID: "L1", Amount: "1", Currency: "USD",
	})
	assert.ErrorContains(t, err, "--token")
	assert.False(t, called)
}

func healthProxy(t *testing.T, status string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w, http.StatusOK, "Payment proxy health", map[string]interface{}{
			"status":           status,
			"environment":      "sandbox",
			"default_provider": "square",
			"database":         "connected",
			"providers": map[string]interface{}{
				"square": map[string]interface{}{"configured": true, "enabled": true},
				"paypal": map[string]interface{}{"configured": false, "enabled": false, "missing": []string{"PAYPAL_CLIENT_ID"}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReadinessReportsConfigAndDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{Redis: config.RedisConfig{Addr: mr.Addr()}}
	cfg.Square.AccessToken = "tok"

	p, out := testPrinter()
	err := runReadiness(context.Background(), p, cfg, newAPIClient(healthProxy(t, "ok").URL), []string{"postgres"})
	require.NoError(t, err, out.String())

	assert.Contains(t, out.String(), "postgres skipped")
	assert.Contains(t, out.String(), "redis reachable at "+mr.Addr())
	assert.Contains(t, out.String(), "provider square enabled")
	assert.Contains(t, out.String(), "provider paypal disabled")
	assert.Contains(t, out.String(), "missing SQUARE_APPLICATION_ID")
	assert.Contains(t, out.String(), `default provider "square"`)
}

func TestReadinessFailsOnDegradedProxy(t *testing.T) {
	p, out := testPrinter()
	err := runReadiness(context.Background(), p, &config.Config{}, newAPIClient(healthProxy(t, "degraded").URL), []string{"postgres", "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy")
	assert.Contains(t, out.String(), "proxy degraded")
}

func TestReadinessFailsWithoutDSN(t *testing.T) {
	p, _ := testPrinter()
	err := runReadiness(context.Background(), p, &config.Config{}, nil, []string{"redis", "proxy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestMigrateDownRejectsInvalidSteps(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--env-file", "", "migrate", "down", "zero"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestSmokeBusinessRequiresOwnerToken(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--env-file", "", "smoke", "business"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--owner-token")
}
