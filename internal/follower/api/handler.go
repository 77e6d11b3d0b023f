package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/follower"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *follower.Service
	Logger  *logger.Logger
}

func NewHandler(svc *follower.Service, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/api/organizers/{organizerId}/followers/count", h.FollowerCount)
}

// Routes mounts follower endpoints. Callers wrap r with auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/me/following", h.ListFollowing)
	r.Get("/api/me/promotions/{organizerId}", h.MyPromotion)

	r.Get("/api/organizers/{organizerId}/follow", h.IsFollowing)
	r.Post("/api/organizers/{organizerId}/follow", h.Follow)
	r.Delete("/api/organizers/{organizerId}/follow", h.Unfollow)

	r.Get("/api/organizers/me/followers", h.ListFollowers)
	r.Get("/api/organizers/me/promotions", h.ListPromotions)
	r.Put("/api/organizers/me/promotions/{followerId}", h.Promote)
	r.Patch("/api/organizers/me/promotions/{followerId}", h.UpdatePromotion)
	r.Delete("/api/organizers/me/promotions/{followerId}", h.Revoke)
}

func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	f, err := h.Service.Follow(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "organizerId"))
	if err != nil {
		h.writeError(w, "Failed to follow", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Following", f)
}

func (h *Handler) Unfollow(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Unfollow(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "organizerId")); err != nil {
		h.writeError(w, "Failed to unfollow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) IsFollowing(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Service.IsFollowing(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "organizerId"))
	if err != nil {
		h.writeError(w, "Failed to check follow", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Follow status", map[string]bool{"following": ok})
}

func (h *Handler) FollowerCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.FollowerCount(r.Context(), chi.URLParam(r, "organizerId"))
	if err != nil {
		h.writeError(w, "Failed to count followers", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Follower count", map[string]int{"count": n})
}

func (h *Handler) ListFollowing(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListFollowing(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list following", err)
		return
	}
	if list == nil {
		list = []models.UserFollow{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Following retrieved", list)
}

func (h *Handler) ListFollowers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListFollowers(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list followers", err)
		return
	}
	if list == nil {
		list = []models.UserFollow{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Followers retrieved", list)
}

func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListPromotions(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list promotions", err)
		return
	}
	if list == nil {
		list = []models.FollowerPromotion{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Promotions retrieved", list)
}

// MyPromotion shows a follower the grants an organizer gave them.
func (h *Handler) MyPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPromotion(r.Context(), chi.URLParam(r, "organizerId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to get promotion", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Promotion retrieved", p)
}

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	var req models.PromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	p, err := h.Service.Promote(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "followerId"), req)
	if err != nil {
		h.writeError(w, "Failed to promote follower", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Follower promoted", p)
}

func (h *Handler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	var req models.PromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	p, err := h.Service.UpdatePromotion(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "followerId"), req)
	if err != nil {
		h.writeError(w, "Failed to update promotion", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Promotion updated", p)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Revoke(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "followerId")); err != nil {
		h.writeError(w, "Failed to revoke promotion", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, follower.ErrNotFollowing), errors.Is(err, follower.ErrNoPromotion):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, follower.ErrSelfFollow), errors.Is(err, follower.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, message, err.Error())
	default:
		h.Logger.Error("FOLLOWER", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, "internal error")
	}
}
