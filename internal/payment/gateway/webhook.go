package gateway

import (
	"ms-stepping/internal/models"

	"github.com/shopspring/decimal"
)

// WebhookEvent is a provider delivery reduced to what the proxy acts on.
// Handled is false for event types the proxy only acknowledges.
// RefundedAmount is the payment's cumulative refunded total, never the amount
// of a single refund. Refresh asks the proxy to read the payment's current
// state from the provider because the delivery does not carry it.
type WebhookEvent struct {
	ID                string
	Type              string
	ProviderPaymentID string
	Status            models.PaymentStatus
	RefundedAmount    decimal.Decimal
	Refresh           bool
	Handled           bool
}

// WebhookHandler verifies and decodes provider webhook deliveries.
type WebhookHandler interface {
	VerifyWebhook(signature string, body []byte) error
	ParseWebhook(body []byte) (*WebhookEvent, error)
}
