// Package stripegw adapts Stripe PaymentIntents to the gateway interface.
// The source token is a Stripe PaymentMethod id created by Stripe.js.
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/money"
	"ms-stepping/internal/monitoring"
	"ms-stepping/internal/payment/gateway"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

type Gateway struct {
	client        *client.API
	webhookSecret string
	logger        *logger.Logger
}

// New builds a gateway. backends may be nil to use Stripe's live endpoints.
func New(secretKey, webhookSecret string, backends *stripe.Backends, log *logger.Logger) (*Gateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}
	sc := client.New(secretKey, backends)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &Gateway{client: sc, webhookSecret: webhookSecret, logger: log}, nil
}

func (g *Gateway) Name() string { return gateway.ProviderStripe }

func (g *Gateway) CreatePayment(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	currency := money.NormalizeCurrency(req.Currency)
	minor, err := money.ToMinor(req.Amount, currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minor),
		Currency:           stripe.String(strings.ToLower(currency)),
		PaymentMethod:      stripe.String(req.SourceToken),
		ConfirmationMethod: stripe.String("manual"),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: []*string{stripe.String("card")},
	}
	if req.Note != "" {
		params.Description = stripe.String(req.Note)
	}
	if req.BuyerEmail != "" {
		params.ReceiptEmail = stripe.String(req.BuyerEmail)
	}
	if req.ReferenceID != "" {
		params.AddMetadata("order_id", req.ReferenceID)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	start := time.Now()
	pi, err := g.client.PaymentIntents.New(params)
	monitoring.ObserveProvider(gateway.ProviderStripe, "create_payment", start)
	if err != nil {
		return nil, g.providerError("create payment intent", err)
	}
	g.logger.LogPayment(gateway.ProviderStripe, "CREATE", pi.ID, fmt.Sprintf("status=%s", pi.Status))
	return intentResult(pi), nil
}

func (g *Gateway) GetPayment(ctx context.Context, providerPaymentID string) (*gateway.Result, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	start := time.Now()
	pi, err := g.client.PaymentIntents.Get(providerPaymentID, params)
	monitoring.ObserveProvider(gateway.ProviderStripe, "get_payment", start)
	if err != nil {
		return nil, g.providerError("get payment intent", err)
	}
	return intentResult(pi), nil
}

func (g *Gateway) RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	currency := money.NormalizeCurrency(req.Currency)
	minor, err := money.ToMinor(req.Amount, currency)
	if err != nil {
		return nil, err
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderPaymentID),
		Amount:        stripe.Int64(minor),
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	start := time.Now()
	rf, err := g.client.Refunds.New(params)
	monitoring.ObserveProvider(gateway.ProviderStripe, "refund_payment", start)
	if err != nil {
		return nil, g.providerError("create refund", err)
	}
	status := models.StatusRefunded
	if rf.Status == stripe.RefundStatusFailed || rf.Status == stripe.RefundStatusCanceled {
		status = models.StatusFailed
	}
	g.logger.LogPayment(gateway.ProviderStripe, "REFUND", req.ProviderPaymentID, fmt.Sprintf("refund=%s status=%s", rf.ID, rf.Status))
	return &gateway.Result{
		TransactionID:  rf.ID,
		ProviderStatus: string(rf.Status),
		Status:         status,
		Amount:         money.FromMinor(rf.Amount, string(rf.Currency)),
		Currency:       strings.ToUpper(string(rf.Currency)),
		RawResponse:    rawJSON(rf),
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header.
func (g *Gateway) VerifyWebhook(signature string, body []byte) error {
	if g.webhookSecret == "" {
		return fmt.Errorf("%w: stripe webhook secret", gateway.ErrNotConfigured)
	}
	_, err := webhook.ConstructEventWithOptions(body, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		g.logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("stripe: %v", err))
		return gateway.ErrInvalidSignature
	}
	return nil
}

func (g *Gateway) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("stripe: decode webhook: %w", err)
	}
	out := &gateway.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled", "payment_intent.processing":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.ProviderPaymentID = pi.ID
		out.Status = IntentStatus(pi.Status)
		out.Handled = true
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("stripe: decode charge: %w", err)
		}
		if ch.PaymentIntent != nil {
			out.ProviderPaymentID = ch.PaymentIntent.ID
			out.Status = models.StatusRefunded
			out.RefundedAmount = money.FromMinor(ch.AmountRefunded, string(ch.Currency))
			out.Handled = true
		}
	}
	return out, nil
}

// IntentStatus maps a PaymentIntent status to ours.
func IntentStatus(status stripe.PaymentIntentStatus) models.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.StatusSuccess
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusRequiresConfirmation:
		return models.StatusPending
	case stripe.PaymentIntentStatusCanceled:
		return models.StatusCancelled
	default:
		return models.StatusFailed
	}
}

func intentResult(pi *stripe.PaymentIntent) *gateway.Result {
	res := &gateway.Result{
		TransactionID:  pi.ID,
		ProviderStatus: string(pi.Status),
		Status:         IntentStatus(pi.Status),
		Amount:         money.FromMinor(pi.Amount, string(pi.Currency)),
		Currency:       strings.ToUpper(string(pi.Currency)),
		RawResponse:    rawJSON(pi),
	}
	if pi.LatestCharge != nil {
		res.ReceiptURL = pi.LatestCharge.ReceiptURL
	}
	return res
}

func (g *Gateway) providerError(op string, err error) error {
	g.logger.Error("STRIPE", fmt.Sprintf("Failed to %s: %v", op, err))
	var se *stripe.Error
	if errors.As(err, &se) {
		code := string(se.Code)
		if code == "" {
			code = string(se.Type)
		}
		return &gateway.ProviderError{
			Provider:   gateway.ProviderStripe,
			StatusCode: se.HTTPStatusCode,
			Details: []gateway.ErrorDetail{{
				Category: string(se.Type),
				Code:     code,
				Detail:   se.Msg,
				Field:    se.Param,
			}},
			Err: err,
		}
	}
	return &gateway.ProviderError{Provider: gateway.ProviderStripe, Err: err}
}

func rawJSON(v interface{}) map[string]interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	_ = json.Unmarshal(b, &out)
	return out
}
