package analytics_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ms-stepping/internal/analytics"
	"ms-stepping/internal/auth"
	"ms-stepping/internal/events"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// Routes registers the analytics routes. Callers wrap r with auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/events/{eventId}/analytics", h.GetEventAnalytics)
	r.Get("/api/events/{eventId}/orders", h.GetEventOrders)
	r.Get("/api/organizers/me/analytics", h.GetOrganizerAnalytics)
	r.Post("/api/analytics/events/batch", h.GetBatchEventAnalytics)
}

// GetEventAnalytics handles GET /api/events/{eventId}/analytics
func (h *Handler) GetEventAnalytics(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("ANALYTICS", fmt.Sprintf("Event analytics requested: event=%s user=%s", eventID, userID))

	result, err := h.Service.GetEventAnalytics(r.Context(), userID, eventID)
	if err != nil {
		h.writeError(w, "Failed to get analytics", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Analytics retrieved", result)
}

// GetEventOrders handles GET /api/events/{eventId}/orders?status=&sort_by=&sort_desc=&limit=&offset=
func (h *Handler) GetEventOrders(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	q := r.URL.Query()
	opts := analytics.EventOrderOptions{
		Status: models.OrderStatus(q.Get("status")),
		SortBy: q.Get("sort_by"),
	}
	opts.SortDesc, _ = strconv.ParseBool(q.Get("sort_desc"))
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))

	orders, err := h.Service.GetEventOrders(r.Context(), auth.UserID(r.Context()), eventID, opts)
	if err != nil {
		h.writeError(w, "Failed to get orders", err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Orders retrieved", orders)
}

// GetBatchEventAnalytics handles POST /api/analytics/events/batch with {"event_ids": [...]}
func (h *Handler) GetBatchEventAnalytics(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventIDs []string `json:"event_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if len(body.EventIDs) == 0 {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", "event_ids is required")
		return
	}

	result, err := h.Service.GetBatchEventAnalytics(r.Context(), auth.UserID(r.Context()), body.EventIDs)
	if err != nil {
		h.writeError(w, "Failed to get analytics", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Analytics retrieved", result)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, events.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, analytics.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err.Error())
	default:
		h.Logger.Error("ANALYTICS", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, "internal error")
	}
}
