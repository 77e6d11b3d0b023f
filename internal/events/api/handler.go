package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/events"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	EventService *events.EventService
	Logger       *logger.Logger
}

func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/api/events", h.ListPublished)
	r.Get("/api/events/{eventId}", h.GetEvent)
	r.Get("/api/events/{eventId}/ticket-types", h.GetTicketTypes)
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/organizer/events", h.ListMine)
	r.Patch("/api/events/{eventId}/status", h.UpdateStatus)
}

// ListPublished serves GET /api/events?limit=&offset=
func (h *Handler) ListPublished(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.EventService.ListPublishedEvents(r.Context(), limit, offset)
	if err != nil {
		h.Logger.Error("EVENTS", fmt.Sprintf("Failed to list events: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to list events", err.Error())
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Events retrieved", list)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.EventService.GetEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeError(w, "Failed to get event", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event retrieved", event)
}

func (h *Handler) GetTicketTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.EventService.GetTicketTypes(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeError(w, "Failed to get ticket types", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket types retrieved", types)
}

// ListMine serves the authenticated organizer's own events.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.EventService.ListEventsByOrganizer(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list events", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Events retrieved", list)
}

type statusRequest struct {
	Status models.EventStatus `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	eventID := chi.URLParam(r, "eventId")
	if err := h.EventService.UpdateStatus(r.Context(), auth.UserID(r.Context()), eventID, req.Status); err != nil {
		h.writeError(w, "Failed to update event", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event updated", map[string]string{"id": eventID, "status": string(req.Status)})
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, events.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, events.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err.Error())
	case errors.Is(err, events.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, message, err.Error())
	default:
		h.Logger.Error("EVENTS", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, err.Error())
	}
}
