package analytics_api

import (
	"net/http"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/utils"
)

// GetOrganizerAnalytics handles GET /api/organizers/me/analytics
func (h *Handler) GetOrganizerAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized access", "missing user")
		return
	}

	result, err := h.Service.GetOrganizerAnalytics(r.Context(), userID)
	if err != nil {
		h.writeError(w, "Failed to get analytics", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Analytics retrieved", result)
}
