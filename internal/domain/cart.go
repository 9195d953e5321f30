package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart holds a user's pending purchase items. One cart per user; it is
// created lazily on the first AddItem and survives until checkout converts it.
type Cart struct {
	ID        string     `json:"id,omitempty"`
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem carries the unit price frozen at the time the product was added.
// Later catalog price changes never affect items already in the cart.
type CartItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	ImageURL    string          `json:"image_url"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	AddedAt     time.Time       `json:"added_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Snapshot freezes the cart contents for checkout. The returned snapshot is
// detached from the live cart: mutating the cart afterwards does not change
// what was authorized.
func (c *Cart) Snapshot() *CartSnapshot {
	snap := &CartSnapshot{
		Items:      make([]CartSnapshotItem, 0, len(c.Items)),
		Currency:   "EUR",
		CapturedAt: time.Now(),
	}

	total := decimal.Zero
	for _, item := range c.Items {
		subtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		snap.Items = append(snap.Items, CartSnapshotItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    subtotal,
		})
		total = total.Add(subtotal)
	}
	snap.TotalAmount = total
	return snap
}

type CartSnapshotItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CartSnapshot represents the full cart state at checkout time.
type CartSnapshot struct {
	Items       []CartSnapshotItem `json:"items"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Currency    string             `json:"currency"`
	CapturedAt  time.Time          `json:"captured_at"`
}
