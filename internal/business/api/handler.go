package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/business"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *business.Service
	Logger  *logger.Logger
}

func NewHandler(svc *business.Service, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

// PublicRoutes mounts the directory reads that need no token.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/api/businesses", h.List)
	r.Get("/api/businesses/{businessId}", h.Get)
}

// Routes mounts owner endpoints. Callers wrap r with auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/businesses", h.Create)
	r.Get("/api/businesses/mine", h.ListMine)
	r.Get("/api/businesses/review", h.List)
	r.Get("/api/businesses/review/{businessId}", h.Get)
	r.Patch("/api/businesses/{businessId}", h.Update)
	r.Delete("/api/businesses/{businessId}", h.Delete)
}

// AdminRoutes mounts review endpoints. Callers require the admin role.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Put("/api/admin/businesses/{businessId}/status", h.SetStatus)
}

// List serves GET /api/businesses?category=&city=&search=&status=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.BusinessFilter{
		Category: q.Get("category"),
		City:     q.Get("city"),
		Search:   q.Get("search"),
		Status:   models.BusinessStatus(q.Get("status")),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.Service.List(r.Context(), auth.PrincipalFrom(r.Context()), f)
	if err != nil {
		h.writeError(w, "Failed to list businesses", err)
		return
	}
	if list == nil {
		list = []models.CommunityBusiness{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Businesses retrieved", list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.Get(r.Context(), auth.PrincipalFrom(r.Context()), chi.URLParam(r, "businessId"))
	if err != nil {
		h.writeError(w, "Failed to get business", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Business retrieved", b)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListByOwner(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Failed to list businesses", err)
		return
	}
	if list == nil {
		list = []models.CommunityBusiness{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Businesses retrieved", list)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in business.BusinessInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	b, err := h.Service.Create(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		h.writeError(w, "Failed to create business", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Business submitted for review", b)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var in business.BusinessUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	b, err := h.Service.Update(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "businessId"), in)
	if err != nil {
		h.writeError(w, "Failed to update business", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Business updated", b)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), auth.PrincipalFrom(r.Context()), chi.URLParam(r, "businessId")); err != nil {
		h.writeError(w, "Failed to delete business", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status models.BusinessStatus `json:"status"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	b, err := h.Service.SetStatus(r.Context(), auth.PrincipalFrom(r.Context()), chi.URLParam(r, "businessId"), req.Status)
	if err != nil {
		h.writeError(w, "Failed to update status", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Business status updated", b)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, business.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, business.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, message, err.Error())
	case errors.Is(err, business.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, message, err.Error())
	default:
		h.Logger.Error("BUSINESS", fmt.Sprintf("%s: %v", message, err))
		utils.WriteError(w, http.StatusInternalServerError, message, "internal error")
	}
}
