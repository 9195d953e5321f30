package domain

import "time"

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "PENDING"
	SessionStatusCaptured  SessionStatus = "CAPTURED"
	SessionStatusConverted SessionStatus = "CONVERTED"
	SessionStatusFailed    SessionStatus = "FAILED"
)

func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusConverted || s == SessionStatusFailed
}

// String representation (for logging)
func (s SessionStatus) String() string {
	return string(s)
}

// CanTransition is the single source of truth for the session state machine.
// Anything not listed here is rejected; in particular CONVERTED is terminal
// and a FAILED session can never be revived.
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case SessionStatusPending:
		return to == SessionStatusCaptured || to == SessionStatusFailed
	case SessionStatusCaptured:
		return to == SessionStatusConverted || to == SessionStatusFailed
	default:
		return false
	}
}

// ShippingInfo travels on the session itself rather than in any ambient
// per-request store, so a paid session can always be converted even when the
// buyer's browser never comes back.
type ShippingInfo struct {
	FullName      string `json:"full_name"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	ContactPhone  string `json:"contact_phone"`
	PaymentMethod string `json:"payment_method"`
}

// CheckoutSession tracks one authorize -> capture -> convert attempt. It is
// keyed both by its own id and by the provider order id, which is the
// correlation handle the payment provider echoes back on its callbacks.
type CheckoutSession struct {
	ID              string
	UserID          string
	ProviderOrderID string
	Snapshot        *CartSnapshot
	Shipping        ShippingInfo
	Status          SessionStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
