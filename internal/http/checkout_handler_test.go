package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduballesteros/terra-nostra/internal/domain"
	"github.com/eduballesteros/terra-nostra/internal/service"
)

type checkoutAPIMock struct {
	beginRes  *service.BeginCheckoutResult
	beginErr  error
	status    domain.SessionStatus
	statusErr error

	beginShipping domain.ShippingInfo
	completedWith string
	completeCalls int
}

func (m *checkoutAPIMock) BeginCheckout(_ context.Context, _ string, shipping domain.ShippingInfo) (*service.BeginCheckoutResult, error) {
	m.beginShipping = shipping
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return m.beginRes, nil
}

func (m *checkoutAPIMock) CompleteCheckout(_ context.Context, providerOrderID string) (domain.SessionStatus, error) {
	m.completeCalls++
	m.completedWith = providerOrderID
	if m.statusErr != nil {
		return "", m.statusErr
	}
	return m.status, nil
}

func beginBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(BeginCheckoutRequestDTO{
		FullName:   "Ana García",
		Address:    "Calle Mayor 1",
		City:       "Valencia",
		PostalCode: "46001",
		Country:    "España",
	})
	require.NoError(t, err)
	return body
}

func TestBeginCheckout_Success(t *testing.T) {
	mock := &checkoutAPIMock{
		beginRes: &service.BeginCheckoutResult{
			SessionID:   "sess-1",
			ApprovalURL: "https://paypal.test/approve/PP-1",
		},
	}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Begin(rec, authedRequest("POST", "/api/v1/checkout", beginBody(t)))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp BeginCheckoutResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Contains(t, resp.ApprovalURL, "approve")
	assert.Equal(t, "paypal", mock.beginShipping.PaymentMethod, "payment method defaults to paypal")
}

func TestBeginCheckout_Unauthorized(t *testing.T) {
	handler := NewCheckoutHandler(&checkoutAPIMock{}, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Begin(rec, httptest.NewRequest("POST", "/api/v1/checkout", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBeginCheckout_MissingShippingFields(t *testing.T) {
	handler := NewCheckoutHandler(&checkoutAPIMock{}, 5*time.Second)

	body, _ := json.Marshal(BeginCheckoutRequestDTO{FullName: "Ana"})
	rec := httptest.NewRecorder()
	handler.Begin(rec, authedRequest("POST", "/api/v1/checkout", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBeginCheckout_EmptyCart(t *testing.T) {
	mock := &checkoutAPIMock{beginErr: domain.ErrEmptyCart}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Begin(rec, authedRequest("POST", "/api/v1/checkout", beginBody(t)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBeginCheckout_AlreadyInProgress(t *testing.T) {
	mock := &checkoutAPIMock{beginErr: domain.ErrCheckoutInProgress}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Begin(rec, authedRequest("POST", "/api/v1/checkout", beginBody(t)))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBeginCheckout_GatewayDown(t *testing.T) {
	mock := &checkoutAPIMock{beginErr: domain.ErrGatewayUnavailable}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Begin(rec, authedRequest("POST", "/api/v1/checkout", beginBody(t)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckoutReturn_Success(t *testing.T) {
	mock := &checkoutAPIMock{status: domain.SessionStatusConverted}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Return(rec, httptest.NewRequest("GET", "/api/v1/checkout/return?token=PP-1&PayerID=XYZ", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PP-1", mock.completedWith)

	var resp CompleteCheckoutResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "CONVERTED", resp.Status)
}

func TestCheckoutReturn_MissingToken(t *testing.T) {
	mock := &checkoutAPIMock{}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Return(rec, httptest.NewRequest("GET", "/api/v1/checkout/return", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, mock.completeCalls)
}

func TestCheckoutReturn_GatewayDownIsRetryable(t *testing.T) {
	mock := &checkoutAPIMock{statusErr: domain.ErrGatewayUnavailable}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Return(rec, httptest.NewRequest("GET", "/api/v1/checkout/return?token=PP-1", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckoutCancel(t *testing.T) {
	handler := NewCheckoutHandler(&checkoutAPIMock{}, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Cancel(rec, httptest.NewRequest("GET", "/api/v1/checkout/cancel?token=PP-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
