package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct{ name string }

func (s stubGateway) Name() string { return s.name }
func (s stubGateway) CreatePayment(context.Context, ChargeRequest) (*Result, error) {
	return &Result{}, nil
}
func (s stubGateway) GetPayment(context.Context, string) (*Result, error) { return &Result{}, nil }
func (s stubGateway) RefundPayment(context.Context, RefundRequest) (*Result, error) {
	return &Result{}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(ProviderSquare, stubGateway{name: "square"})
	r.Register(ProviderCashApp, stubGateway{name: "square"})

	g, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "square", g.Name())
	assert.Equal(t, ProviderSquare, r.Default())
	assert.Equal(t, []string{"cash_app", "square"}, r.Providers())

	_, err = r.Get(ProviderPayPal)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = r.Get("venmo")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{
		Provider:   "square",
		StatusCode: 402,
		Details: []ErrorDetail{
			{Category: "PAYMENT_METHOD_ERROR", Code: "CARD_DECLINED", Detail: "Card declined."},
			{Category: "PAYMENT_METHOD_ERROR", Code: "CVV_FAILURE", Detail: "CVV mismatch."},
		},
	}
	assert.Equal(t, "square API error (status 402): CARD_DECLINED: Card declined.; CVV_FAILURE: CVV mismatch.", err.Error())
	assert.Equal(t, "CARD_DECLINED", err.Code())
	assert.Equal(t, "Card declined.", err.Message())

	wrapped := &ProviderError{Provider: "paypal", StatusCode: 0, Err: context.DeadlineExceeded}
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.Empty(t, wrapped.Code())
}
