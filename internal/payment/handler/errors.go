package handler

import (
	"errors"
	"fmt"
	"net/http"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/payment/gateway"
	"ms-stepping/internal/payment/services"
	"ms-stepping/internal/payment/storage"
	"ms-stepping/internal/utils"
)

// WebhookError represents an error that occurred while serving a proxy request
type WebhookError struct {
	Category      string // "configuration", "validation", "signature", "access", "provider", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	Code          string // Provider error code, when there is one
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error { return e.OriginalErr }

// classify maps service and provider errors to a response.
func classify(err error) *WebhookError {
	var we *WebhookError
	if errors.As(err, &we) {
		return we
	}

	var pe *gateway.ProviderError
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		return &WebhookError{Category: "signature", StatusCode: http.StatusUnauthorized,
			PublicError: "Invalid webhook signature", InternalError: err.Error(), OriginalErr: err}
	case errors.Is(err, auth.ErrForbidden):
		return &WebhookError{Category: "access", StatusCode: http.StatusForbidden,
			PublicError: "Not allowed to access this payment", InternalError: err.Error(), OriginalErr: err}
	case errors.Is(err, gateway.ErrNotConfigured):
		return &WebhookError{Category: "configuration", StatusCode: http.StatusServiceUnavailable,
			PublicError: "Payment provider not configured", InternalError: err.Error(), OriginalErr: err}
	case errors.Is(err, gateway.ErrUnknownProvider), errors.Is(err, services.ErrValidation):
		return &WebhookError{Category: "validation", StatusCode: http.StatusBadRequest,
			PublicError: err.Error(), InternalError: err.Error(), OriginalErr: err}
	case errors.Is(err, services.ErrNotRefundable):
		return &WebhookError{Category: "validation", StatusCode: http.StatusConflict,
			PublicError: err.Error(), InternalError: err.Error(), OriginalErr: err}
	case errors.Is(err, services.ErrPaymentNotFound), errors.Is(err, storage.ErrNotFound):
		return &WebhookError{Category: "validation", StatusCode: http.StatusNotFound,
			PublicError: "Payment not found", InternalError: err.Error(), OriginalErr: err}
	case errors.As(err, &pe):
		status := http.StatusBadGateway
		if pe.StatusCode >= 400 && pe.StatusCode < 500 && pe.StatusCode != http.StatusUnauthorized {
			status = http.StatusPaymentRequired
		}
		return &WebhookError{Category: "provider", StatusCode: status,
			PublicError: pe.Message(), Code: pe.Code(), InternalError: pe.Error(), OriginalErr: err}
	}
	return &WebhookError{Category: "processing", StatusCode: http.StatusInternalServerError,
		PublicError: "Payment processing error", InternalError: fmt.Sprintf("unexpected error: %v", err), OriginalErr: err}
}

func writeWebhookError(w http.ResponseWriter, message string, we *WebhookError) {
	resp := utils.ErrorResponse(message, we.PublicError)
	resp.Code = we.Code
	utils.WriteJSON(w, we.StatusCode, resp)
}
