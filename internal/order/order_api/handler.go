package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/events"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/order"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	OrderService *order.OrderService
	Payments     Payer
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, payments Payer, log *logger.Logger) *Handler {
	return &Handler{OrderService: orderService, Payments: payments, Logger: log}
}

// Routes mounts the order endpoints. Callers wrap r with auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/orders", h.PlaceOrder)
	r.Get("/api/orders/me", h.ListMyOrders)
	r.Get("/api/orders/{orderId}", h.GetOrder)
	r.Delete("/api/orders/{orderId}", h.CancelOrder)
	if h.Payments != nil {
		r.Post("/api/orders/{orderId}/pay", h.PayOrder)
	}
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("PlaceOrder: user=%s event=%s items=%d", userID, req.EventID, len(req.Items)))

	placed, err := h.OrderService.PlaceOrder(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "Could not place order", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Order placed", placed)
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.OrderService.ListOrders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list orders", err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Orders retrieved", orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	found, err := h.OrderService.GetOrderForUser(r.Context(), auth.UserID(r.Context()), orderID)
	if err != nil {
		h.writeError(w, "Could not load order", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Order retrieved", found)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("CancelOrder: orderId=%s", orderID))

	if err := h.OrderService.CancelOrder(r.Context(), auth.UserID(r.Context()), orderID); err != nil {
		h.writeError(w, "Could not cancel order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, order.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, message, err.Error())
	case errors.Is(err, order.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err.Error())
	case errors.Is(err, order.ErrNotFound), errors.Is(err, events.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, order.ErrSoldOut), errors.Is(err, order.ErrSeatsUnavailable),
		errors.Is(err, order.ErrEventClosed), errors.Is(err, order.ErrNotPending):
		utils.WriteError(w, http.StatusConflict, message, err.Error())
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, "internal error")
	}
}
