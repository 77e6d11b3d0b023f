package square

import (
	"encoding/json"
	"fmt"

	"ms-stepping/internal/models"
	"ms-stepping/internal/payment/gateway"
)

// WebhookEvent is the envelope of a Square webhook delivery.
type WebhookEvent struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment *Payment `json:"payment,omitempty"`
			Refund  *Refund  `json:"refund,omitempty"`
		} `json:"object"`
	} `json:"data"`
}

func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("square: decode webhook: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("square: webhook missing type")
	}
	return &ev, nil
}

// ParseWebhook implements gateway.WebhookHandler.
func (c *Client) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	ev, err := ParseWebhook(body)
	if err != nil {
		return nil, err
	}
	out := &gateway.WebhookEvent{ID: ev.EventID, Type: ev.Type}
	switch ev.Type {
	case "payment.created", "payment.updated":
		if p := ev.Data.Object.Payment; p != nil {
			out.ProviderPaymentID = p.ID
			out.Status = PaymentStatus(p.Status)
			out.RefundedAmount = p.Refunded()
			out.Handled = true
		}
	case "refund.created", "refund.updated":
		// A refund object only knows its own amount; the payment holds the total.
		if r := ev.Data.Object.Refund; r != nil && r.Status == "COMPLETED" {
			out.ProviderPaymentID = r.PaymentID
			out.Status = models.StatusRefunded
			out.Refresh = true
			out.Handled = true
		}
	}
	return out, nil
}
