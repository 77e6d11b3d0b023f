package order_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/models"
	"ms-stepping/internal/order"
	"ms-stepping/internal/payment/gateway"
	"ms-stepping/internal/payment/services"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Payer interface {
	CreatePayment(ctx context.Context, in services.CreatePaymentInput) (*models.Payment, error)
	RefundPayment(ctx context.Context, in services.RefundInput) (*models.Payment, error)
}

type payOrderRequest struct {
	Provider       string `json:"provider"`
	SourceToken    string `json:"source_id"`
	BuyerEmail     string `json:"buyer_email"`
	IdempotencyKey string `json:"idempotency_key"`
}

type payOrderResponse struct {
	Order   *models.Order   `json:"order"`
	Payment *models.Payment `json:"payment"`
	Tickets []models.Ticket `json:"tickets,omitempty"`
}

// PayOrder charges the order total with a tokenized source and completes the
// order when the provider reports success. The payment.succeeded consumer
// completes it as well, which is a no-op after this returns. A declined charge
// leaves the order pending and the same call may be retried. When the tickets
// sold out while the charge was in flight the payment is refunded.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	userID := auth.UserID(r.Context())

	var req payOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	h.Logger.Info("API", fmt.Sprintf("PayOrder: orderId=%s provider=%s", orderID, req.Provider))

	pending, err := h.OrderService.GetOrderForUser(r.Context(), userID, orderID)
	if err != nil {
		h.writeError(w, "Could not pay order", err)
		return
	}
	if pending.Status != models.OrderStatusPending {
		utils.WriteError(w, http.StatusConflict, "Could not pay order", fmt.Sprintf("order is %s", pending.Status))
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = "order-" + pending.ID
	}
	payment, err := h.Payments.CreatePayment(r.Context(), services.CreatePaymentInput{
		Provider:       req.Provider,
		SourceToken:    req.SourceToken,
		Amount:         pending.Total,
		Currency:       pending.Currency,
		OrderID:        pending.ID,
		Note:           "Order " + pending.ID,
		BuyerEmail:     req.BuyerEmail,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	resp := payOrderResponse{Order: pending, Payment: payment}
	if payment.Status != models.StatusSuccess {
		utils.WriteSuccess(w, http.StatusAccepted, fmt.Sprintf("Payment %s", payment.Status), resp)
		return
	}

	completed, issued, err := h.OrderService.CompleteOrder(r.Context(), pending.ID, payment.ID)
	if errors.Is(err, order.ErrSoldOut) {
		h.refundSoldOut(w, r, payment)
		return
	}
	if err != nil {
		h.writeError(w, "Payment captured but order completion failed", err)
		return
	}
	resp.Order, resp.Tickets = completed, issued
	utils.WriteSuccess(w, http.StatusOK, "Order paid", resp)
}

func (h *Handler) refundSoldOut(w http.ResponseWriter, r *http.Request, payment *models.Payment) {
	refunded, err := h.Payments.RefundPayment(r.Context(), services.RefundInput{
		PaymentID:      payment.ID,
		Reason:         "Tickets sold out",
		IdempotencyKey: "soldout-" + payment.ID,
	})
	if err != nil && !errors.Is(err, services.ErrNotRefundable) {
		h.Logger.Error("API", fmt.Sprintf("PayOrder: refund of sold out payment %s failed: %v", payment.ID, err))
		utils.WriteError(w, http.StatusConflict, "Tickets sold out", "refund pending, contact support")
		return
	}
	if refunded != nil {
		payment = refunded
	}
	utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{
		Success: false, Message: "Tickets sold out; payment refunded", Error: order.ErrSoldOut.Error(), Data: payOrderResponse{Payment: payment},
	})
}

func (h *Handler) writePaymentError(w http.ResponseWriter, err error) {
	var pe *gateway.ProviderError
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, gateway.ErrUnknownProvider):
		utils.WriteError(w, http.StatusBadRequest, "Payment rejected", err.Error())
	case errors.Is(err, gateway.ErrNotConfigured):
		utils.WriteError(w, http.StatusServiceUnavailable, "Payment provider not configured", err.Error())
	case errors.As(err, &pe):
		status := http.StatusBadGateway
		if pe.StatusCode >= 400 && pe.StatusCode < 500 && pe.StatusCode != http.StatusUnauthorized {
			status = http.StatusPaymentRequired
		}
		utils.WriteJSON(w, status, utils.APIResponse{
			Success: false, Message: "Payment failed", Error: pe.Message(), Code: pe.Code(),
		})
	default:
		h.Logger.Error("API", fmt.Sprintf("PayOrder: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "Payment failed", "internal error")
	}
}
