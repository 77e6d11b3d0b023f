package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/team"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *team.Service
	Logger  *logger.Logger
}

func NewHandler(svc *team.Service, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

type roleRequest struct {
	Role models.TeamRole `json:"role"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/teams/mine", h.ListMemberships)
	r.Post("/api/teams/invitations/{memberId}/accept", h.Accept)

	r.Route("/api/organizers/{organizerId}/team", func(r chi.Router) {
		r.Get("/", h.ListMembers)
		r.Post("/", h.Invite)
		r.Patch("/{memberId}", h.UpdateRole)
		r.Delete("/{memberId}", h.Remove)

		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.SendMessage)
		r.Get("/messages/unread", h.UnreadCount)
		r.Post("/messages/{messageId}/read", h.MarkRead)
	})
}

// organizerID resolves the path organizer, where "me" is the caller.
func organizerID(r *http.Request) string {
	id := chi.URLParam(r, "organizerId")
	if id == "me" {
		return auth.UserID(r.Context())
	}
	return id
}

func (h *Handler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListMemberships(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list teams", err)
		return
	}
	if list == nil {
		list = []models.TeamMember{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Teams retrieved", list)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	m, err := h.Service.Accept(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "memberId"))
	if err != nil {
		h.writeError(w, "Failed to accept invitation", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Invitation accepted", m)
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListMembers(r.Context(), auth.UserID(r.Context()), organizerID(r))
	if err != nil {
		h.writeError(w, "Failed to list team", err)
		return
	}
	if list == nil {
		list = []models.TeamMember{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Team retrieved", list)
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	var in team.InviteInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	m, err := h.Service.Invite(r.Context(), auth.UserID(r.Context()), organizerID(r), in)
	if err != nil {
		h.writeError(w, "Failed to invite team member", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Team member invited", m)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	m, err := h.Service.UpdateRole(r.Context(), auth.UserID(r.Context()), organizerID(r), chi.URLParam(r, "memberId"), req.Role)
	if err != nil {
		h.writeError(w, "Failed to update role", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Role updated", m)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Remove(r.Context(), auth.UserID(r.Context()), organizerID(r), chi.URLParam(r, "memberId")); err != nil {
		h.writeError(w, "Failed to remove team member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in team.MessageInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	msg, err := h.Service.SendMessage(r.Context(), auth.UserID(r.Context()), organizerID(r), in)
	if err != nil {
		h.writeError(w, "Failed to send message", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Message sent", msg)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.Service.ListMessages(r.Context(), auth.UserID(r.Context()), organizerID(r), limit)
	if err != nil {
		h.writeError(w, "Failed to list messages", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Messages retrieved", list)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.UnreadCount(r.Context(), auth.UserID(r.Context()), organizerID(r))
	if err != nil {
		h.writeError(w, "Failed to count messages", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Unread messages", map[string]int{"unread": n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.MarkRead(r.Context(), auth.UserID(r.Context()), organizerID(r), chi.URLParam(r, "messageId")); err != nil {
		h.writeError(w, "Failed to mark message read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, team.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, team.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err.Error())
	case errors.Is(err, team.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, message, err.Error())
	case errors.Is(err, team.ErrAlreadyMember):
		utils.WriteError(w, http.StatusConflict, message, err.Error())
	default:
		h.Logger.Error("TEAM", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, "internal error")
	}
}
