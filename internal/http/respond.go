package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/eduballesteros/terra-nostra/internal/domain"
	"github.com/eduballesteros/terra-nostra/internal/token"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response failed", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleServiceError maps domain errors to HTTP status codes. Anything not
// recognized becomes an opaque 500.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrCheckoutInProgress),
		errors.Is(err, domain.ErrEmailTaken),
		errors.Is(err, domain.ErrAlreadyConverted):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, domain.ErrNotVerified):
		respondError(w, http.StatusForbidden, "not_verified", err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable):
		respondError(w, http.StatusServiceUnavailable, "gateway_unavailable", err.Error())
	case errors.Is(err, token.ErrTokenExpired):
		respondError(w, http.StatusGone, "token_expired", err.Error())
	case errors.Is(err, token.ErrTokenInvalid):
		respondError(w, http.StatusBadRequest, "token_invalid", err.Error())
	default:
		slog.Error("unhandled service error", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
