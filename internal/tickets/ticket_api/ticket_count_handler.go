package ticket_api

import (
	"net/http"

	"ms-stepping/internal/utils"
)

// TicketCountResponse is the response format for the GetTotalTicketsCount endpoint
type TicketCountResponse struct {
	TotalCount int `json:"total_count"`
}

// GetTotalTicketsCount reports how many tickets were ever issued. Admin only.
func (h *Handler) GetTotalTicketsCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.TicketService.GetTotalTicketsCount(r.Context())
	if err != nil {
		h.writeError(w, "Error retrieving ticket count", err, nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket count retrieved", TicketCountResponse{TotalCount: count})
}
