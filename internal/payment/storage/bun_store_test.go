package storage

import (
	"context"
	"database/sql"
	"testing"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestStore(t *testing.T) *BunStore {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	store := NewBunStore(bunDB, logger.NewConsoleLogger())
	require.NoError(t, store.CreateSchema(context.Background()))
	return store
}

func newPayment(id, key string) *models.Payment {
	return &models.Payment{
		ID:                id,
		OrderID:           "order-1",
		Provider:          "square",
		ProviderPaymentID: "sq_" + id,
		Status:            models.StatusPending,
		Amount:            decimal.RequireFromString("42.50"),
		Currency:          "USD",
		RefundedAmount:    decimal.Zero,
		IdempotencyKey:    key,
	}
}

func TestSaveAndGetPayment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePayment(ctx, newPayment("p1", "k1")))

	got, err := store.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.OrderID)
	assert.True(t, decimal.RequireFromString("42.50").Equal(got.Amount))
	assert.False(t, got.CreatedAt.IsZero())

	byProvider, err := store.GetPaymentByProviderID(ctx, "square", "sq_p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", byProvider.ID)

	_, err = store.GetPayment(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsDuplicateIdempotencyKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePayment(ctx, newPayment("p1", "same")))
	assert.ErrorIs(t, store.SavePayment(ctx, newPayment("p2", "same")), ErrDuplicateRecord)
}

func TestUpdatePayment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := newPayment("p1", "k1")
	require.NoError(t, store.SavePayment(ctx, p))

	p.Status = models.StatusRefunded
	p.RefundedAmount = decimal.RequireFromString("10")
	p.RawResponse = map[string]interface{}{"status": "COMPLETED"}
	require.NoError(t, store.UpdatePayment(ctx, p))

	got, err := store.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, got.Status)
	assert.True(t, decimal.NewFromInt(10).Equal(got.RefundedAmount))
	assert.Equal(t, "COMPLETED", got.RawResponse["status"])

	assert.ErrorIs(t, store.UpdatePayment(ctx, newPayment("nope", "k9")), ErrNotFound)
}

func TestListPaymentsByOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePayment(ctx, newPayment("p1", "k1")))
	require.NoError(t, store.SavePayment(ctx, newPayment("p2", "k2")))

	payments, err := store.ListPaymentsByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.NoError(t, store.HealthCheck(ctx))
}
