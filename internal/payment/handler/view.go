package handler

import (
	"ms-stepping/internal/models"
	"ms-stepping/internal/money"
)

// PaymentView is the normalized payment shape returned to callers.
type PaymentView struct {
	ID             string                 `json:"id,omitempty"`
	TransactionID  string                 `json:"transaction_id"`
	Provider       string                 `json:"provider"`
	Status         models.PaymentStatus   `json:"status"`
	Amount         string                 `json:"amount"`
	RefundedAmount string                 `json:"refunded_amount"`
	Currency       string                 `json:"currency"`
	OrderID        string                 `json:"order_id,omitempty"`
	RawResponse    map[string]interface{} `json:"raw_response,omitempty"`
}

func paymentView(p *models.Payment) PaymentView {
	places := money.Exponent(p.Currency)
	return PaymentView{
		ID:             p.ID,
		TransactionID:  p.ProviderPaymentID,
		Provider:       p.Provider,
		Status:         p.Status,
		Amount:         p.Amount.StringFixed(places),
		RefundedAmount: p.RefundedAmount.StringFixed(places),
		Currency:       p.Currency,
		OrderID:        p.OrderID,
		RawResponse:    p.RawResponse,
	}
}
