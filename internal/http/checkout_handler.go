package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/eduballesteros/terra-nostra/internal/domain"
	"github.com/eduballesteros/terra-nostra/internal/service"
)

// CheckoutAPI is satisfied by *service.CheckoutService.
type CheckoutAPI interface {
	BeginCheckout(ctx context.Context, userID string, shipping domain.ShippingInfo) (*service.BeginCheckoutResult, error)
	CompleteCheckout(ctx context.Context, providerOrderID string) (domain.SessionStatus, error)
}

type CheckoutHandler struct {
	checkout CheckoutAPI
	timeout  time.Duration
}

func NewCheckoutHandler(checkout CheckoutAPI, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, timeout: timeout}
}

type BeginCheckoutRequestDTO struct {
	FullName      string `json:"full_name"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	ContactPhone  string `json:"contact_phone"`
	PaymentMethod string `json:"payment_method"`
}

type BeginCheckoutResponseDTO struct {
	SessionID   string `json:"session_id"`
	ApprovalURL string `json:"approval_url"`
}

type CompleteCheckoutResponseDTO struct {
	Status string `json:"status"`
}

// Begin starts a checkout from the current cart and answers with the URL the
// buyer must visit to approve the payment.
func (h *CheckoutHandler) Begin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := userIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req BeginCheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.FullName == "" || req.Address == "" || req.City == "" || req.Country == "" {
		respondError(w, http.StatusBadRequest, "invalid_shipping", "full_name, address, city and country are required")
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "paypal"
	}

	res, err := h.checkout.BeginCheckout(ctx, userID, domain.ShippingInfo{
		FullName:      req.FullName,
		Address:       req.Address,
		City:          req.City,
		PostalCode:    req.PostalCode,
		Country:       req.Country,
		ContactPhone:  req.ContactPhone,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, BeginCheckoutResponseDTO{
		SessionID:   res.SessionID,
		ApprovalURL: res.ApprovalURL,
	})
}

// Return is where the provider redirects the buyer after approval. The
// provider puts its order id in the "token" query parameter. Redeliveries and
// double-clicks land here too and are absorbed.
func (h *CheckoutHandler) Return(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	providerOrderID := r.URL.Query().Get("token")
	if providerOrderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing token parameter")
		return
	}

	status, err := h.checkout.CompleteCheckout(ctx, providerOrderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CompleteCheckoutResponseDTO{Status: status.String()})
}

// Cancel is the provider's cancel redirect. The session is left to the
// staleness sweep; the cart is untouched so the buyer can try again.
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
