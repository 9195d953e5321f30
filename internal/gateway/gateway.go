// Package gateway adapts the external payment provider's order protocol to
// the two operations checkout needs: authorize a fixed amount, and capture a
// previously approved authorization.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

type CaptureStatus string

const (
	CaptureStatusCompleted CaptureStatus = "COMPLETED"
	CaptureStatusDeclined  CaptureStatus = "DECLINED"
)

// Authorization is the provider's answer to an authorize request. The
// ProviderOrderID is the correlation handle the provider echoes back on its
// redirect/callback; the buyer approves the payment at ApprovalURL.
type Authorization struct {
	ProviderOrderID string
	ApprovalURL     string
}

type CaptureResult struct {
	Status          CaptureStatus
	AmountCaptured  decimal.Decimal
	ProviderOrderID string
}

// Gateway is what the checkout orchestrator programs against. Capture must be
// safe to call more than once for the same provider order id: the provider
// may redeliver its confirmation callback.
type Gateway interface {
	Authorize(ctx context.Context, amount decimal.Decimal, currency string) (*Authorization, error)
	Capture(ctx context.Context, providerOrderID string) (*CaptureResult, error)
}
