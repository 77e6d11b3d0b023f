package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	orderdb "ms-stepping/internal/order/db"
	qr "ms-stepping/internal/tickets/qr_genrator"
	tickets "ms-stepping/internal/tickets/service"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

type OrderLookup interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

type Handler struct {
	TicketService *tickets.TicketService
	Orders        OrderLookup
	Logger        *logger.Logger
}

func NewHandler(ticketService *tickets.TicketService, orders OrderLookup, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Orders: orders, Logger: log}
}

// Routes mounts the ticket endpoints. Callers wrap r with auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/tickets/me", h.ListTicketsByUser)
	r.Post("/api/tickets/checkin", h.CheckinTicket)
	r.Get("/api/tickets/{ticketId}", h.ViewTicket)
	r.Get("/api/tickets/{ticketId}/qr", h.TicketQR)
	r.Post("/api/tickets/{ticketId}/checkin", h.CheckinTicketByID)
	r.Get("/api/orders/{orderId}/tickets", h.ListTicketsByOrder)
}

// CheckinTicket admits the ticket named by a scanned QR code.
// Expected POST request body: {"encrypted_qr": "base64_encrypted_string"}
func (h *Handler) CheckinTicket(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		EncryptedQR string `json:"encrypted_qr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if requestBody.EncryptedQR == "" {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", "encrypted_qr is required")
		return
	}

	ticket, err := h.TicketService.CheckInByQR(r.Context(), auth.UserID(r.Context()), requestBody.EncryptedQR)
	if err != nil {
		h.writeError(w, "Check-in failed", err, ticket)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket checked in", ticket)
}

func (h *Handler) CheckinTicketByID(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.CheckIn(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.writeError(w, "Check-in failed", err, ticket)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket checked in", ticket)
}

func (h *Handler) ViewTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.GetTicket(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.writeError(w, "Failed to get ticket", err, nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket retrieved", ticket)
}

// TicketQR serves the ticket's QR code as a PNG.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.GetTicket(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.writeError(w, "Failed to get ticket", err, nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ticket.QRCode)
}

func (h *Handler) ListTicketsByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "Failed to list tickets", err, nil)
		return
	}
	if order.UserID != auth.UserID(r.Context()) {
		utils.WriteError(w, http.StatusForbidden, "Failed to list tickets", "order belongs to another user")
		return
	}
	list, err := h.TicketService.GetTicketsByOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "Failed to list tickets", err, nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tickets retrieved", list)
}

func (h *Handler) ListTicketsByUser(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.GetTicketsByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list tickets", err, nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tickets retrieved", list)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error, ticket *models.Ticket) {
	switch {
	case errors.Is(err, tickets.ErrNotFound), errors.Is(err, orderdb.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, tickets.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err.Error())
	case errors.Is(err, tickets.ErrAlreadyCheckedIn), errors.Is(err, tickets.ErrNotValid):
		resp := utils.ErrorResponse(message, err.Error())
		resp.Data = ticket
		utils.WriteJSON(w, http.StatusConflict, resp)
	case errors.Is(err, qr.ErrInvalidPayload):
		utils.WriteError(w, http.StatusBadRequest, message, err.Error())
	default:
		h.Logger.Error("TICKETS", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, err.Error())
	}
}
