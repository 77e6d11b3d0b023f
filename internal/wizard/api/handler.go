package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/events"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/storage"
	"ms-stepping/internal/utils"
	"ms-stepping/internal/wizard"
	draftredis "ms-stepping/internal/wizard/redis"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *Service
	Logger  *logger.Logger
}

// Routes mounts the wizard endpoints. Callers wrap r with auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/wizard/drafts", h.CreateDraft)
	r.Get("/api/wizard/drafts/{draftId}", h.GetDraft)
	r.Put("/api/wizard/drafts/{draftId}/form", h.UpdateForm)
	r.Post("/api/wizard/drafts/{draftId}/navigate", h.Navigate)
	r.Post("/api/wizard/drafts/{draftId}/venue-image", h.upload(storage.KindVenueImage))
	r.Post("/api/wizard/drafts/{draftId}/seating-chart", h.upload(storage.KindSeatingChart))
	r.Post("/api/wizard/drafts/{draftId}/publish", h.Publish)
}

type createDraftRequest struct {
	EventType models.EventType `json:"event_type"`
}

func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	v, err := h.Service.CreateDraft(r.Context(), auth.UserID(r.Context()), req.EventType)
	if err != nil {
		h.writeError(w, "Failed to create draft", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Draft created", v)
}

func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.GetDraft(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "draftId"))
	if err != nil {
		h.writeError(w, "Failed to get draft", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Draft retrieved", v)
}

type updateFormRequest struct {
	EventType models.EventType `json:"event_type,omitempty"`
	Form      wizard.FormState `json:"form"`
}

func (h *Handler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	var req updateFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	v, err := h.Service.UpdateForm(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "draftId"), req.Form, req.EventType)
	if err != nil {
		h.writeError(w, "Failed to update draft", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Draft updated", v)
}

type navigateRequest struct {
	Step int `json:"step"`
}

// Navigate always answers 200 with the resulting state; a blocked move shows
// up as moved=false plus validation errors.
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	v, err := h.Service.Navigate(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "draftId"), req.Step)
	if err != nil {
		h.writeError(w, "Failed to navigate", err)
		return
	}
	msg := "Moved to step"
	if v.Moved != nil && !*v.Moved {
		msg = "Step has validation errors"
	}
	utils.WriteSuccess(w, http.StatusOK, msg, v)
}

func (h *Handler) upload(kind storage.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "Invalid upload", "multipart field \"file\" is required")
			return
		}
		defer file.Close()

		v, err := h.Service.UploadAsset(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "draftId"), kind, file)
		if err != nil {
			h.writeError(w, "Upload failed", err)
			return
		}
		utils.WriteSuccess(w, http.StatusOK, "File uploaded", v)
	}
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	event, err := h.Service.Publish(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "draftId"))
	if err != nil {
		var pe *PublishError
		if errors.As(err, &pe) {
			resp := utils.ErrorResponse("Draft has validation errors", pe.Error())
			resp.Data = map[string][]string{"errors": pe.Errors}
			utils.WriteJSON(w, http.StatusUnprocessableEntity, resp)
			return
		}
		h.writeError(w, "Failed to publish event", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Event published", event)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, draftredis.ErrDraftNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, events.ErrValidation),
		errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrEmptyUpload):
		utils.WriteError(w, http.StatusBadRequest, message, err.Error())
	case errors.Is(err, storage.ErrTooLarge):
		utils.WriteError(w, http.StatusRequestEntityTooLarge, message, err.Error())
	default:
		h.Logger.Error("WIZARD", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, err.Error())
	}
}
