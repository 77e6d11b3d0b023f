package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ms-stepping/internal/config"
	"ms-stepping/internal/kafka"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/money"
	"ms-stepping/internal/monitoring"
	"ms-stepping/internal/payment/gateway"
	"ms-stepping/internal/payment/storage"
	"ms-stepping/internal/utils"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrNotRefundable   = errors.New("payment cannot be refunded")
)

// OrderCreator is implemented by providers whose buyers approve an order in a
// hosted UI before capture.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, referenceID, idempotencyKey string) (string, error)
}

type CreatePaymentInput struct {
	Provider       string          `json:"provider"`
	SourceToken    string          `json:"source_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	OrderID        string          `json:"order_id"`
	Note           string          `json:"note"`
	BuyerEmail     string          `json:"buyer_email"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type RefundInput struct {
	PaymentID      string           `json:"payment_id"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Reason         string           `json:"reason"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type PaymentService struct {
	registry *gateway.Registry
	store    storage.Store
	producer kafka.Publisher
	topics   config.TopicConfig
	log      *logger.Logger

	mu       sync.RWMutex
	webhooks map[string]gateway.WebhookHandler
}

func NewPaymentService(registry *gateway.Registry, store storage.Store, producer kafka.Publisher, topics config.TopicConfig, log *logger.Logger) *PaymentService {
	return &PaymentService{
		registry: registry,
		store:    store,
		producer: producer,
		topics:   topics,
		log:      log,
		webhooks: make(map[string]gateway.WebhookHandler),
	}
}

func (s *PaymentService) RegisterWebhookHandler(provider string, h gateway.WebhookHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[provider] = h
}

func (s *PaymentService) Registry() *gateway.Registry { return s.registry }

// CreatePayment charges a tokenized source. A repeated idempotency key returns
// the payment already recorded under it, unless that attempt failed: then the
// failed record keeps a retired key and the source is charged again under a
// fresh provider key.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*models.Payment, error) {
	if strings.TrimSpace(in.SourceToken) == "" {
		return nil, fmt.Errorf("%w: source_id is required", ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}

	gw, err := s.registry.Get(in.Provider)
	if err != nil {
		return nil, err
	}
	provider := in.Provider
	if provider == "" {
		provider = s.registry.Default()
	}
	currency := money.NormalizeCurrency(in.Currency)

	key := in.IdempotencyKey
	providerKey := key
	if key == "" {
		key = utils.GenerateIdempotencyKey()
		providerKey = key
	} else if existing, err := s.store.GetPaymentByIdempotencyKey(ctx, key); err == nil {
		if existing.Status != models.StatusFailed {
			s.log.LogPayment(provider, "REPLAY", existing.ID, "idempotency key already used, returning recorded payment")
			return existing, nil
		}
		if err := s.store.RetireIdempotencyKey(ctx, existing.ID, key+":"+existing.ID); err != nil {
			return nil, fmt.Errorf("failed to retire declined attempt %s: %w", existing.ID, err)
		}
		s.log.LogPayment(provider, "RETRY", existing.ID, "previous attempt failed, charging again")
		// The provider would replay its decline for the old key.
		providerKey = utils.GenerateIdempotencyKey()
	}

	payment := &models.Payment{
		ID:             utils.GenerateID(),
		OrderID:        in.OrderID,
		Provider:       provider,
		Status:         models.StatusPending,
		Amount:         in.Amount,
		Currency:       currency,
		RefundedAmount: decimal.Zero,
		IdempotencyKey: key,
	}
	if err := s.store.SavePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	res, err := gw.CreatePayment(ctx, gateway.ChargeRequest{
		SourceToken:    in.SourceToken,
		Amount:         in.Amount,
		Currency:       currency,
		IdempotencyKey: providerKey,
		ReferenceID:    firstNonEmpty(in.OrderID, payment.ID),
		Note:           in.Note,
		BuyerEmail:     in.BuyerEmail,
	})
	if err != nil {
		payment.Status = models.StatusFailed
		if uerr := s.store.UpdatePayment(ctx, payment); uerr != nil {
			s.log.Error("PAYMENT", fmt.Sprintf("Failed to mark payment %s failed: %v", payment.ID, uerr))
		}
		monitoring.TrackPayment(provider, "create", string(models.StatusFailed))
		s.publish(s.topics.PaymentFailed, "payment.failed", payment)
		return nil, err
	}

	applyResult(payment, res)
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	monitoring.TrackPayment(provider, "create", string(payment.Status))
	s.log.LogPayment(provider, "CREATE", payment.ID, fmt.Sprintf("provider_id=%s status=%s amount=%s %s",
		payment.ProviderPaymentID, payment.Status, payment.Amount.StringFixed(2), payment.Currency))

	switch payment.Status {
	case models.StatusSuccess:
		s.publish(s.topics.PaymentSucceeded, "payment.succeeded", payment)
	case models.StatusFailed:
		s.publish(s.topics.PaymentFailed, "payment.failed", payment)
	}
	return payment, nil
}

// GetPayment resolves id as a local payment id or a provider payment id and
// refreshes it from the provider. provider may be empty.
func (s *PaymentService) GetPayment(ctx context.Context, provider, id string) (*models.Payment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: payment_id is required", ErrValidation)
	}

	payment, err := s.lookup(ctx, provider, id)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}

	if payment == nil {
		// Not recorded here; report the provider's view without persisting it.
		gw, err := s.registry.Get(provider)
		if err != nil {
			return nil, err
		}
		res, err := gw.GetPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		p := &models.Payment{Provider: gw.Name(), RefundedAmount: decimal.Zero}
		applyResult(p, res)
		return p, nil
	}

	gw, err := s.registry.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	res, err := gw.GetPayment(ctx, payment.ProviderPaymentID)
	if err != nil {
		return nil, err
	}
	previous := payment.Status
	payment.RawResponse = res.RawResponse
	refunded := s.apply(payment, res.Status, res.RefundedAmount)
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		s.log.Warn("PAYMENT", fmt.Sprintf("Failed to sync payment %s: %v", payment.ID, err))
	}
	s.announce(payment, previous, refunded)
	return payment, nil
}

// RefundPayment refunds amount, or whatever remains unrefunded when amount is nil.
func (s *PaymentService) RefundPayment(ctx context.Context, in RefundInput) (*models.Payment, error) {
	if strings.TrimSpace(in.PaymentID) == "" {
		return nil, fmt.Errorf("%w: payment_id is required", ErrValidation)
	}
	payment, err := s.lookup(ctx, "", in.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.StatusSuccess {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRefundable, payment.Status)
	}

	remaining := payment.Amount.Sub(payment.RefundedAmount)
	amount := remaining
	if in.Amount != nil {
		amount = *in.Amount
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be greater than zero", ErrValidation)
	}
	if amount.GreaterThan(remaining) {
		return nil, fmt.Errorf("%w: refund amount %s exceeds refundable %s", ErrValidation, amount.StringFixed(2), remaining.StringFixed(2))
	}

	gw, err := s.registry.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	key := in.IdempotencyKey
	if key == "" {
		key = utils.GenerateIdempotencyKey()
	}
	res, err := gw.RefundPayment(ctx, gateway.RefundRequest{
		ProviderPaymentID: payment.ProviderPaymentID,
		Amount:            amount,
		Currency:          payment.Currency,
		IdempotencyKey:    key,
		Reason:            in.Reason,
	})
	if err != nil {
		monitoring.TrackPayment(payment.Provider, "refund", string(models.StatusFailed))
		return nil, err
	}
	if res.Status == models.StatusFailed {
		monitoring.TrackPayment(payment.Provider, "refund", string(models.StatusFailed))
		return nil, &gateway.ProviderError{
			Provider: payment.Provider,
			Details:  []gateway.ErrorDetail{{Code: "REFUND_FAILED", Detail: fmt.Sprintf("refund %s ended %s", res.TransactionID, res.ProviderStatus)}},
		}
	}

	payment.RefundedAmount = payment.RefundedAmount.Add(amount)
	if payment.RefundedAmount.GreaterThanOrEqual(payment.Amount) {
		payment.Status = models.StatusRefunded
	}
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	monitoring.TrackPayment(payment.Provider, "refund", string(models.StatusRefunded))
	s.log.LogPayment(payment.Provider, "REFUND", payment.ID, fmt.Sprintf("refunded %s of %s", amount.StringFixed(2), payment.Amount.StringFixed(2)))
	s.publish(s.topics.PaymentRefunded, "payment.refunded", payment)
	return payment, nil
}

// HandleWebhook verifies a provider delivery and applies it to the recorded
// payment. Unhandled event types and unknown payments are acknowledged.
func (s *PaymentService) HandleWebhook(ctx context.Context, provider, signature string, body []byte) (*gateway.WebhookEvent, error) {
	s.mu.RLock()
	h, ok := s.webhooks[provider]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s webhooks", gateway.ErrNotConfigured, provider)
	}

	if err := h.VerifyWebhook(signature, body); err != nil {
		monitoring.TrackWebhook(provider, "unknown", "rejected")
		return nil, err
	}

	event, err := h.ParseWebhook(body)
	if err != nil {
		monitoring.TrackWebhook(provider, "unknown", "malformed")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if !event.Handled {
		s.log.LogWebhook(provider, event.Type, "unhandled event type acknowledged")
		monitoring.TrackWebhook(provider, event.Type, "ignored")
		return event, nil
	}

	payment, err := s.store.GetPaymentByProviderID(ctx, "", event.ProviderPaymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.LogWebhook(provider, event.Type, fmt.Sprintf("no local payment for %s", event.ProviderPaymentID))
			monitoring.TrackWebhook(provider, event.Type, "unmatched")
			return event, nil
		}
		return nil, err
	}

	status, total := event.Status, event.RefundedAmount
	if event.Refresh {
		gw, err := s.registry.Get(payment.Provider)
		if err != nil {
			return nil, err
		}
		res, err := gw.GetPayment(ctx, payment.ProviderPaymentID)
		if err != nil {
			return nil, err
		}
		status, total = res.Status, res.RefundedAmount
	}

	previous := payment.Status
	refunded := s.apply(payment, status, total)
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	s.announce(payment, previous, refunded)

	s.log.LogWebhook(provider, event.Type, fmt.Sprintf("payment %s %s -> %s", payment.ID, previous, payment.Status))
	monitoring.TrackWebhook(provider, event.Type, "processed")
	return event, nil
}

// CreateProviderOrder opens a provider-hosted order (PayPal) and returns its id.
func (s *PaymentService) CreateProviderOrder(ctx context.Context, provider string, amount decimal.Decimal, currency, referenceID string) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	gw, err := s.registry.Get(provider)
	if err != nil {
		return "", err
	}
	oc, ok := gw.(OrderCreator)
	if !ok {
		return "", fmt.Errorf("%w: %s does not support create_order", ErrValidation, gw.Name())
	}
	return oc.CreateOrder(ctx, amount, money.NormalizeCurrency(currency), referenceID, utils.GenerateIdempotencyKey())
}

// HealthCheck pings the payment store.
func (s *PaymentService) HealthCheck(ctx context.Context) error {
	if s.store == nil {
		return errors.New("payment store not configured")
	}
	return s.store.HealthCheck(ctx)
}

// FindPayment returns the recorded payment for a local or provider payment id
// without contacting the provider.
func (s *PaymentService) FindPayment(ctx context.Context, provider, id string) (*models.Payment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: payment_id is required", ErrValidation)
	}
	return s.lookup(ctx, provider, id)
}

func (s *PaymentService) lookup(ctx context.Context, provider, id string) (*models.Payment, error) {
	payment, err := s.store.GetPayment(ctx, id)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	payment, err = s.store.GetPaymentByProviderID(ctx, provider, id)
	if err == nil {
		return payment, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	return nil, err
}

// apply merges a provider view into the recorded payment. refundedTotal is
// cumulative, so a lower or repeated total changes nothing. It reports whether
// the refunded amount grew.
func (s *PaymentService) apply(p *models.Payment, status models.PaymentStatus, refundedTotal decimal.Decimal) bool {
	grew := false
	if refundedTotal.GreaterThan(p.RefundedAmount) {
		p.RefundedAmount = decimal.Min(refundedTotal, p.Amount)
		grew = true
	}
	switch {
	case p.Amount.IsPositive() && p.RefundedAmount.GreaterThanOrEqual(p.Amount):
		if p.Status == models.StatusSuccess || p.Status == models.StatusPending {
			p.Status = models.StatusRefunded
		}
	case status == models.StatusRefunded:
		// partial refund; the charge stays settled
	case canTransition(p.Status, status):
		p.Status = status
	}
	return grew
}

// announce publishes a status change, or a partial refund that left the
// status alone.
func (s *PaymentService) announce(p *models.Payment, previous models.PaymentStatus, refunded bool) {
	switch {
	case previous != p.Status:
		s.publishTransition(p)
	case refunded:
		s.publish(s.topics.PaymentRefunded, "payment.refunded", p)
	}
}

func (s *PaymentService) publishTransition(p *models.Payment) {
	switch p.Status {
	case models.StatusSuccess:
		s.publish(s.topics.PaymentSucceeded, "payment.succeeded", p)
	case models.StatusFailed, models.StatusCancelled:
		s.publish(s.topics.PaymentFailed, "payment.failed", p)
	case models.StatusRefunded:
		s.publish(s.topics.PaymentRefunded, "payment.refunded", p)
	}
}

func (s *PaymentService) publish(topic, eventType string, p *models.Payment) {
	if topic == "" {
		return
	}
	evt := models.PaymentEvent{
		Type:              eventType,
		PaymentID:         p.ID,
		ProviderPaymentID: p.ProviderPaymentID,
		OrderID:           p.OrderID,
		Provider:          p.Provider,
		Status:            p.Status,
		Amount:            p.Amount,
		RefundedAmount:    p.RefundedAmount,
		Currency:          p.Currency,
		Timestamp:         time.Now().UTC(),
	}
	if err := kafka.PublishJSON(s.producer, topic, p.ID, evt); err != nil {
		s.log.Error("KAFKA", fmt.Sprintf("Failed to publish %s for payment %s: %v", eventType, p.ID, err))
	}
}

func applyResult(p *models.Payment, res *gateway.Result) {
	p.ProviderPaymentID = res.TransactionID
	p.Status = res.Status
	if !res.Amount.IsZero() {
		p.Amount = res.Amount
	}
	if res.Currency != "" {
		p.Currency = res.Currency
	}
	p.RawResponse = res.RawResponse
}

// canTransition reports whether a provider status may replace the recorded one.
// Settled payments only move to refunded.
func canTransition(from, to models.PaymentStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case models.StatusPending:
		return true
	case models.StatusSuccess:
		return to == models.StatusRefunded
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
