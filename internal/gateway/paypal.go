package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/eduballesteros/terra-nostra/internal/domain"
)

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
	Timeout      time.Duration
}

// PayPalGateway talks to the PayPal Orders v2 REST API. Every provider call
// runs through a circuit breaker and a bounded HTTP client; transport
// failures, 5xx responses and an open breaker all surface as
// domain.ErrGatewayUnavailable without partial state on our side.
type PayPalGateway struct {
	cfg     PayPalConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalGateway(cfg PayPalConfig) *PayPalGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "paypal",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &PayPalGateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				Amount struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type apiError struct {
	Name    string `json:"name"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (e *apiError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// Authorize creates a provider order for the amount computed once from the
// cart snapshot. The amount is never recomputed from a later cart state.
func (g *PayPalGateway) Authorize(ctx context.Context, amount decimal.Decimal, currency string) (*Authorization, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"amount": map[string]string{
					"currency_code": currency,
					"value":         amount.StringFixed(2),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": g.cfg.ReturnURL,
			"cancel_url": g.cfg.CancelURL,
		},
	}

	data, err := g.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		return nil, err
	}

	var order orderResponse
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("parse create-order response: %w", err)
	}

	approvalURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approvalURL = link.Href
			break
		}
	}
	if order.ID == "" || approvalURL == "" {
		return nil, fmt.Errorf("create-order response missing id or approval link")
	}

	return &Authorization{ProviderOrderID: order.ID, ApprovalURL: approvalURL}, nil
}

// Capture finalizes the payment. A redelivered capture for an order the
// provider already captured is folded into the original successful result
// instead of an error, which keeps the operation idempotent at this boundary.
func (g *PayPalGateway) Capture(ctx context.Context, providerOrderID string) (*CaptureResult, error) {
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(providerOrderID))

	data, err := g.doJSON(ctx, http.MethodPost, path, map[string]any{})

	var reqErr *requestError
	if errors.As(err, &reqErr) && reqErr.apiErr != nil && reqErr.apiErr.hasIssue("ORDER_ALREADY_CAPTURED") {
		slog.Info("capture replay for already-captured order", "provider_order_id", providerOrderID)
		data, err = g.doJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(providerOrderID), nil)
	}
	if err != nil {
		if errors.As(err, &reqErr) && reqErr.declined() {
			return &CaptureResult{Status: CaptureStatusDeclined, ProviderOrderID: providerOrderID}, nil
		}
		return nil, err
	}

	var order orderResponse
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("parse capture response: %w", err)
	}

	if order.Status != "COMPLETED" {
		return &CaptureResult{Status: CaptureStatusDeclined, ProviderOrderID: providerOrderID}, nil
	}

	captured := decimal.Zero
	for _, pu := range order.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			v, err := decimal.NewFromString(c.Amount.Value)
			if err != nil {
				return nil, fmt.Errorf("parse captured amount %q: %w", c.Amount.Value, err)
			}
			captured = captured.Add(v)
		}
	}

	return &CaptureResult{
		Status:          CaptureStatusCompleted,
		AmountCaptured:  captured,
		ProviderOrderID: providerOrderID,
	}, nil
}

// requestError carries the HTTP status and the parsed provider error body for
// non-2xx responses.
type requestError struct {
	status int
	apiErr *apiError
}

func (e *requestError) Error() string {
	if e.apiErr != nil && e.apiErr.Name != "" {
		return fmt.Sprintf("provider returned %d (%s)", e.status, e.apiErr.Name)
	}
	return fmt.Sprintf("provider returned %d", e.status)
}

// declined reports a definitive refusal by the provider, as opposed to a
// transient failure worth classifying as gateway-unavailable.
func (e *requestError) declined() bool {
	return e.status == http.StatusUnprocessableEntity
}

func (g *PayPalGateway) doJSON(ctx context.Context, method, path string, body any) ([]byte, error) {
	tok, err := g.accessTokenFor(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	data, err := g.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
		}

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: provider returned %d", domain.ErrGatewayUnavailable, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			reqErr := &requestError{status: resp.StatusCode}
			var ae apiError
			if json.Unmarshal(raw, &ae) == nil {
				reqErr.apiErr = &ae
			}
			return nil, reqErr
		}

		return raw, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker open", domain.ErrGatewayUnavailable)
	}
	return data, err
}

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (g *PayPalGateway) accessTokenFor(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build oauth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: oauth: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: oauth returned %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var auth oauthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("parse oauth response: %w", err)
	}

	// Refresh a minute early so in-flight requests never carry a dying token.
	g.accessToken = auth.AccessToken
	g.tokenExpiry = time.Now().Add(time.Duration(auth.ExpiresIn)*time.Second - time.Minute)

	return g.accessToken, nil
}
