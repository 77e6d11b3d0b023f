// Package gateway defines the provider-neutral payment interface and the
// registry the payment proxy dispatches through.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ms-stepping/internal/models"

	"github.com/shopspring/decimal"
)

const (
	ProviderSquare  = "square"
	ProviderCashApp = "cash_app"
	ProviderPayPal  = "paypal"
	ProviderStripe  = "stripe"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNotConfigured    = errors.New("payment provider not configured")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)

type ChargeRequest struct {
	SourceToken    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	ReferenceID    string
	Note           string
	BuyerEmail     string
}

type RefundRequest struct {
	ProviderPaymentID string
	Amount            decimal.Decimal
	Currency          string
	IdempotencyKey    string
	Reason            string
}

// Result is a provider response normalized to the proxy's shape.
type Result struct {
	TransactionID  string                 `json:"transaction_id"`
	ProviderStatus string                 `json:"provider_status"`
	Status         models.PaymentStatus   `json:"status"`
	Amount         decimal.Decimal        `json:"amount"`
	Currency       string                 `json:"currency"`
	RefundedAmount decimal.Decimal        `json:"refunded_amount"`
	ReceiptURL     string                 `json:"receipt_url,omitempty"`
	RawResponse    map[string]interface{} `json:"raw_response,omitempty"`
}

type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, req ChargeRequest) (*Result, error)
	GetPayment(ctx context.Context, providerPaymentID string) (*Result, error)
	RefundPayment(ctx context.Context, req RefundRequest) (*Result, error)
}

// WebhookVerifier is implemented by gateways that sign webhook deliveries.
type WebhookVerifier interface {
	VerifyWebhook(signature string, body []byte) error
}

// ErrorDetail is one structured error entry returned by a provider.
type ErrorDetail struct {
	Category string `json:"category,omitempty"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

// ProviderError is returned for every non-2xx provider response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Details    []ErrorDetail
	Err        error
}

func (e *ProviderError) Error() string {
	if len(e.Details) == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
		}
		return fmt.Sprintf("%s API error (status %d)", e.Provider, e.StatusCode)
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Code, d.Detail))
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, strings.Join(parts, "; "))
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Code returns the first provider error code, if any.
func (e *ProviderError) Code() string {
	if len(e.Details) == 0 {
		return ""
	}
	return e.Details[0].Code
}

// Message returns the first provider error detail, if any.
func (e *ProviderError) Message() string {
	if len(e.Details) == 0 {
		return e.Error()
	}
	return e.Details[0].Detail
}

type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	primary  string
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register makes g available under provider. The first registration becomes
// the default provider.
func (r *Registry) Register(provider string, g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[provider] = g
	if r.primary == "" {
		r.primary = provider
	}
}

// Get resolves provider, falling back to the default for an empty name.
func (r *Registry) Get(provider string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if provider == "" {
		provider = r.primary
	}
	if g, ok := r.gateways[provider]; ok {
		return g, nil
	}
	switch provider {
	case ProviderSquare, ProviderCashApp, ProviderPayPal, ProviderStripe:
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, provider)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}

func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
