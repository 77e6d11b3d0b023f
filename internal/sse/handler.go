package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/events"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

const keepAliveInterval = 25 * time.Second

type EventOwnership interface {
	IsOrganizer(ctx context.Context, userID, eventID string) (bool, error)
}

// SSEHandler streams completed checkouts to organizers.
type SSEHandler struct {
	Logger       *logger.Logger
	EventEmitter *CheckoutEventEmitter
	Events       EventOwnership
}

func NewSSEHandler(log *logger.Logger, emitter *CheckoutEventEmitter, events EventOwnership) *SSEHandler {
	return &SSEHandler{Logger: log, EventEmitter: emitter, Events: events}
}

func (h *SSEHandler) Routes(r chi.Router) {
	r.Get("/api/events/{eventId}/checkouts/stream", h.HandleEventCheckouts)
	r.Get("/api/organizers/me/checkouts/stream", h.HandleOrganizerCheckouts)
}

// HandleEventCheckouts streams checkout events for one event to its organizer.
func (h *SSEHandler) HandleEventCheckouts(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := auth.UserID(r.Context())

	owner, err := h.Events.IsOrganizer(r.Context(), userID, eventID)
	switch {
	case errors.Is(err, events.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "Event not found", err.Error())
		return
	case err != nil:
		h.Logger.Error("SSE", fmt.Sprintf("Event access verification failed: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to verify event access", err.Error())
		return
	case !owner:
		h.Logger.LogSecurity("SSE_DENIED", fmt.Sprintf("User %s is not the organizer of event %s", userID, eventID))
		utils.WriteError(w, http.StatusForbidden, "Unauthorized access", "only the organizer can watch checkouts")
		return
	}

	ch := h.EventEmitter.SubscribeToEvent(r.Context(), eventID)
	h.stream(w, r, ch, "eventID", eventID)
}

// HandleOrganizerCheckouts streams checkouts across all of the caller's events.
func (h *SSEHandler) HandleOrganizerCheckouts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	ch := h.EventEmitter.SubscribeToOrganizer(r.Context(), userID)
	h.stream(w, r, ch, "organizerID", userID)
}

func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request, ch <-chan models.CheckoutEvent, scope, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, http.StatusInternalServerError, "Streaming unsupported", "response writer cannot flush")
		return
	}

	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h.setupSSEHeaders(w)
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",%q:%q}\n\n", scope, id)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to checkout stream for %s %s", scope, id))

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			jsonData, err := json.Marshal(evt)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize checkout event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: checkout\ndata: %s\n\n", jsonData)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from checkout stream for %s %s", scope, id))
			return
		}
	}
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
