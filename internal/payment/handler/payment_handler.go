package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/config"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/payment/gateway"
	"ms-stepping/internal/payment/services"
	"ms-stepping/internal/payment/square"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

// OrderAccess answers who may act on an order's payments.
type OrderAccess interface {
	OrganizesOrder(ctx context.Context, userID, orderID string) (bool, error)
	PlacedOrder(ctx context.Context, userID, orderID string) (bool, error)
}

type PaymentHandler struct {
	Service *services.PaymentService
	Orders  OrderAccess
	Config  *config.Config
	Logger  *logger.Logger
}

func NewPaymentHandler(svc *services.PaymentService, cfg *config.Config, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{Service: svc, Config: cfg, Logger: log}
}

// Routes mounts the proxy under /api/payments. Every route allows any origin.
// Health and provider webhooks are public; the action dispatch runs behind
// authenticate.
func (h *PaymentHandler) Routes(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Route("/api/payments", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", square.SignatureHeader, "Stripe-Signature"},
			MaxAge:         300,
		}))
		r.Get("/", h.Health)
		r.Post("/webhooks/{provider}", h.Webhook)
		r.With(authenticate).Post("/", h.Dispatch)
	})
}

// ProxyRequest is the body of POST /api/payments.
type ProxyRequest struct {
	Action         string           `json:"action"`
	Provider       string           `json:"provider"`
	SourceID       string           `json:"source_id"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Currency       string           `json:"currency"`
	OrderID        string           `json:"order_id"`
	Note           string           `json:"note"`
	BuyerEmail     string           `json:"buyer_email"`
	IdempotencyKey string           `json:"idempotency_key"`
	PaymentID      string           `json:"payment_id"`
	Reason         string           `json:"reason"`
	Signature      string           `json:"signature"`
	Payload        json.RawMessage  `json:"payload,omitempty"`
}

type providerHealth struct {
	Configured bool     `json:"configured"`
	Enabled    bool     `json:"enabled"`
	Missing    []string `json:"missing,omitempty"`
}

type healthResponse struct {
	Status          string                    `json:"status"`
	Environment     string                    `json:"environment"`
	DefaultProvider string                    `json:"default_provider"`
	Providers       map[string]providerHealth `json:"providers"`
	Database        string                    `json:"database"`
}

func (h *PaymentHandler) Health(w http.ResponseWriter, r *http.Request) {
	missing := h.Config.Validate()
	registry := h.Service.Registry()
	enabled := map[string]bool{}
	for _, p := range registry.Providers() {
		enabled[p] = true
	}

	resp := healthResponse{
		Status:          "ok",
		Environment:     h.Config.Square.Environment,
		DefaultProvider: registry.Default(),
		Providers:       map[string]providerHealth{},
		Database:        "connected",
	}
	for _, p := range []string{gateway.ProviderSquare, gateway.ProviderPayPal, gateway.ProviderStripe} {
		resp.Providers[p] = providerHealth{Configured: len(missing[p]) == 0, Enabled: enabled[p], Missing: missing[p]}
	}
	resp.Providers[gateway.ProviderCashApp] = providerHealth{
		Configured: len(missing[gateway.ProviderSquare]) == 0,
		Enabled:    enabled[gateway.ProviderCashApp],
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Service.HealthCheck(ctx); err != nil {
		h.Logger.Warn("HEALTH", fmt.Sprintf("Payment store unavailable: %v", err))
		resp.Database = "unavailable"
		resp.Status = "degraded"
	}

	utils.WriteSuccess(w, http.StatusOK, "Payment proxy health", resp)
}

// Dispatch routes POST /api/payments on the action field.
func (h *PaymentHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req ProxyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	h.Logger.Info("PAYMENT_API", fmt.Sprintf("action=%s provider=%s", req.Action, req.Provider))

	switch req.Action {
	case "create_payment":
		h.createPayment(w, r, req)
	case "get_payment":
		h.getPayment(w, r, req)
	case "refund_payment":
		h.refundPayment(w, r, req)
	case "create_order":
		h.createOrder(w, r, req)
	case "webhook":
		h.webhookAction(w, r, req)
	case "":
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", "action is required")
	default:
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (h *PaymentHandler) createPayment(w http.ResponseWriter, r *http.Request, req ProxyRequest) {
	if req.Amount == nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", "amount is required")
		return
	}
	p, err := h.Service.CreatePayment(r.Context(), services.CreatePaymentInput{
		Provider:       req.Provider,
		SourceToken:    req.SourceID,
		Amount:         *req.Amount,
		Currency:       req.Currency,
		OrderID:        req.OrderID,
		Note:           req.Note,
		BuyerEmail:     req.BuyerEmail,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, "Payment failed", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payment processed", paymentView(p))
}

func (h *PaymentHandler) getPayment(w http.ResponseWriter, r *http.Request, req ProxyRequest) {
	if err := h.authorize(r.Context(), req.Provider, req.PaymentID, true); err != nil {
		h.fail(w, "Failed to get payment", err)
		return
	}
	p, err := h.Service.GetPayment(r.Context(), req.Provider, req.PaymentID)
	if err != nil {
		h.fail(w, "Failed to get payment", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payment retrieved", paymentView(p))
}

func (h *PaymentHandler) refundPayment(w http.ResponseWriter, r *http.Request, req ProxyRequest) {
	if err := h.authorize(r.Context(), "", req.PaymentID, false); err != nil {
		h.fail(w, "Refund failed", err)
		return
	}
	p, err := h.Service.RefundPayment(r.Context(), services.RefundInput{
		PaymentID:      req.PaymentID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, "Refund failed", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Refund processed", paymentView(p))
}

// authorize lets admins act on any payment and organizers on payments for
// orders of their events. With buyer set, the user who placed the order may
// act too. Payments not tied to an order are admin only.
func (h *PaymentHandler) authorize(ctx context.Context, provider, paymentID string, buyer bool) error {
	principal := auth.PrincipalFrom(ctx)
	if principal.IsAdmin() {
		return nil
	}
	payment, err := h.Service.FindPayment(ctx, provider, paymentID)
	if err != nil {
		if errors.Is(err, services.ErrPaymentNotFound) {
			return fmt.Errorf("%w: payment %s is not recorded here", auth.ErrForbidden, paymentID)
		}
		return err
	}
	if payment.OrderID == "" || h.Orders == nil || principal.UserID == "" {
		return fmt.Errorf("%w: payment %s", auth.ErrForbidden, payment.ID)
	}

	ok, err := h.Orders.OrganizesOrder(ctx, principal.UserID, payment.OrderID)
	if err != nil {
		return err
	}
	if !ok && buyer {
		if ok, err = h.Orders.PlacedOrder(ctx, principal.UserID, payment.OrderID); err != nil {
			return err
		}
	}
	if !ok {
		h.Logger.LogSecurity("PAYMENT_ACCESS_DENIED", fmt.Sprintf("user=%s payment=%s order=%s", principal.UserID, payment.ID, payment.OrderID))
		return fmt.Errorf("%w: payment %s", auth.ErrForbidden, payment.ID)
	}
	return nil
}

func (h *PaymentHandler) createOrder(w http.ResponseWriter, r *http.Request, req ProxyRequest) {
	if req.Amount == nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", "amount is required")
		return
	}
	provider := req.Provider
	if provider == "" {
		provider = gateway.ProviderPayPal
	}
	id, err := h.Service.CreateProviderOrder(r.Context(), provider, *req.Amount, req.Currency, req.OrderID)
	if err != nil {
		h.fail(w, "Failed to create order", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Order created", map[string]string{"provider_order_id": id})
}

// webhookAction accepts a relayed delivery. payload holds the raw provider body,
// either inline JSON or a JSON string.
func (h *PaymentHandler) webhookAction(w http.ResponseWriter, r *http.Request, req ProxyRequest) {
	body := []byte(req.Payload)
	if len(body) > 0 && body[0] == '"' {
		unquoted, err := strconv.Unquote(string(body))
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "Invalid webhook payload", err.Error())
			return
		}
		body = []byte(unquoted)
	}
	provider := req.Provider
	if provider == "" {
		provider = gateway.ProviderSquare
	}
	h.handleWebhook(w, r, provider, req.Signature, body)
}

// Webhook receives raw provider deliveries.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.fail(w, "Invalid webhook payload", &WebhookError{
			Category: "validation", StatusCode: http.StatusBadRequest,
			PublicError: "Invalid webhook payload", InternalError: fmt.Sprintf("failed to read webhook payload: %v", err), OriginalErr: err,
		})
		return
	}

	var signature string
	switch provider {
	case gateway.ProviderStripe:
		signature = r.Header.Get("Stripe-Signature")
	default:
		signature = r.Header.Get(square.SignatureHeader)
	}
	h.handleWebhook(w, r, provider, signature, body)
}

func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request, provider, signature string, body []byte) {
	if len(body) == 0 {
		utils.WriteError(w, http.StatusBadRequest, "Invalid webhook payload", "empty body")
		return
	}
	event, err := h.Service.HandleWebhook(r.Context(), provider, signature, body)
	if err != nil {
		h.fail(w, "Webhook rejected", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Webhook received", map[string]interface{}{
		"event_id": event.ID,
		"type":     event.Type,
		"handled":  event.Handled,
	})
}

func (h *PaymentHandler) fail(w http.ResponseWriter, message string, err error) {
	we := classify(err)
	if we.StatusCode >= http.StatusInternalServerError {
		h.Logger.Error("PAYMENT_API", fmt.Sprintf("%s [%s]: %s", message, we.Category, we.InternalError))
	} else {
		h.Logger.Warn("PAYMENT_API", fmt.Sprintf("%s [%s]: %s", message, we.Category, we.InternalError))
	}
	writeWebhookError(w, message, we)
}
