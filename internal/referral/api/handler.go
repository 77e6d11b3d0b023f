package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/referral"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *referral.Service
	Logger  *logger.Logger
}

func NewHandler(svc *referral.Service, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

type createCodeRequest struct {
	OrganizerID string `json:"organizer_id"`
	EventID     string `json:"event_id,omitempty"`
}

// codeCheck is what checkout pages see about a code.
type codeCheck struct {
	Code        string `json:"code"`
	OrganizerID string `json:"organizer_id"`
	EventID     string `json:"event_id,omitempty"`
}

func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/api/referrals/validate/{code}", h.Validate)
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/referrals/codes", h.CreateCode)
	r.Get("/api/referrals/codes", h.ListCodes)
	r.Delete("/api/referrals/codes/{codeId}", h.Deactivate)
	r.Get("/api/referrals/earnings", h.ListEarnings)
	r.Get("/api/referrals/earnings/summary", h.Summary)

	r.Get("/api/organizers/me/referrals/codes", h.ListOrganizerCodes)
	r.Get("/api/organizers/me/referrals/earnings", h.ListOrganizerEarnings)
	r.Post("/api/organizers/me/referrals/earnings/{earningId}/paid", h.MarkPaid)
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.Resolve(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, "Invalid referral code", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Referral code is valid", codeCheck{Code: c.Code, OrganizerID: c.OrganizerID, EventID: c.EventID})
}

func (h *Handler) CreateCode(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	c, err := h.Service.CreateCode(r.Context(), req.OrganizerID, auth.UserID(r.Context()), req.EventID)
	if err != nil {
		h.writeError(w, "Failed to create referral code", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Referral code created", c)
}

func (h *Handler) ListCodes(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListCodes(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list referral codes", err)
		return
	}
	if list == nil {
		list = []models.ReferralCode{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Referral codes retrieved", list)
}

func (h *Handler) ListOrganizerCodes(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListOrganizerCodes(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list referral codes", err)
		return
	}
	if list == nil {
		list = []models.ReferralCode{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Referral codes retrieved", list)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Deactivate(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "codeId")); err != nil {
		h.writeError(w, "Failed to deactivate referral code", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListEarnings(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list earnings", err)
		return
	}
	if list == nil {
		list = []models.CommissionEarning{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Earnings retrieved", list)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.Summary(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to summarize earnings", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Earnings summary", sum)
}

func (h *Handler) ListOrganizerEarnings(w http.ResponseWriter, r *http.Request) {
	status := models.EarningStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.EarningStatusPending, models.EarningStatusPaid:
	default:
		utils.WriteError(w, http.StatusBadRequest, "Invalid status filter", string(status))
		return
	}
	list, err := h.Service.ListOrganizerEarnings(r.Context(), auth.UserID(r.Context()), status)
	if err != nil {
		h.writeError(w, "Failed to list earnings", err)
		return
	}
	if list == nil {
		list = []models.CommissionEarning{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Earnings retrieved", list)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.MarkPaid(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "earningId"))
	if err != nil {
		h.writeError(w, "Failed to mark earning paid", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Earning marked paid", e)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, referral.ErrNotFound), errors.Is(err, referral.ErrInactive):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, referral.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err.Error())
	case errors.Is(err, referral.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, message, err.Error())
	case errors.Is(err, referral.ErrAlreadyPaid), errors.Is(err, referral.ErrVoided):
		utils.WriteError(w, http.StatusConflict, message, err.Error())
	default:
		h.Logger.Error("REFERRAL", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, "internal error")
	}
}
