package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"

	"github.com/uptrace/bun"
)

// BunStore persists payments through bun. Postgres in production, SQLite in tests.
type BunStore struct {
	db  *bun.DB
	log *logger.Logger
}

func NewBunStore(db *bun.DB, log *logger.Logger) *BunStore {
	log.Info("DATABASE", "Payment storage ready")
	return &BunStore{db: db, log: log}
}

// CreateSchema creates the payments table when migrations are not used.
func (s *BunStore) CreateSchema(ctx context.Context) error {
	s.log.LogDatabase("MIGRATE", "payments", "Creating payments table if not exists")
	if _, err := s.db.NewCreateTable().Model((*models.Payment)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create payments table: %w", err)
	}
	return nil
}

func (s *BunStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	s.log.LogDatabase("INSERT", "payments", fmt.Sprintf("Saving payment %s", payment.ID))

	if existing, err := s.GetPaymentByIdempotencyKey(ctx, payment.IdempotencyKey); err == nil && existing != nil {
		return ErrDuplicateRecord
	}

	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	if _, err := s.db.NewInsert().Model(payment).Exec(ctx); err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save payment %s: %s", payment.ID, err.Error()))
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *BunStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return s.selectOne(ctx, "id = ?", id)
}

func (s *BunStore) GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	if provider == "" {
		return s.selectOne(ctx, "provider_payment_id = ?", providerPaymentID)
	}
	return s.selectOne(ctx, "provider = ? AND provider_payment_id = ?", provider, providerPaymentID)
}

func (s *BunStore) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	return s.selectOne(ctx, "idempotency_key = ?", key)
}

func (s *BunStore) selectOne(ctx context.Context, where string, args ...interface{}) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.db.NewSelect().Model(payment).Where(where, args...).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

func (s *BunStore) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	s.log.LogDatabase("UPDATE", "payments", fmt.Sprintf("Updating payment %s -> %s", payment.ID, payment.Status))
	payment.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().
		Model(payment).
		Column("order_id", "provider_payment_id", "status", "amount", "currency", "refunded_amount", "raw_response", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RetireIdempotencyKey renames the key of a failed payment so the caller's
// key can name the next attempt.
func (s *BunStore) RetireIdempotencyKey(ctx context.Context, id, retiredKey string) error {
	s.log.LogDatabase("UPDATE", "payments", fmt.Sprintf("Retiring idempotency key of payment %s", id))
	res, err := s.db.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("idempotency_key = ?", retiredKey).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.StatusFailed).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to retire idempotency key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *BunStore) ListPaymentsByOrder(ctx context.Context, orderID string) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := s.db.NewSelect().
		Model(&payments).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

func (s *BunStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
