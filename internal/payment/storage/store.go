package storage

import (
	"context"
	"errors"

	"ms-stepping/internal/models"
)

var (
	ErrNotFound        = errors.New("payment not found")
	ErrDuplicateRecord = errors.New("payment with this idempotency key already exists")
)

type Store interface {
	// Payment operations
	SavePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	RetireIdempotencyKey(ctx context.Context, id, retiredKey string) error
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]*models.Payment, error)

	// Health and maintenance
	HealthCheck(ctx context.Context) error
}
