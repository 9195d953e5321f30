package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

type OrderItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Order is the immutable record of a completed purchase. Buyer name/email and
// item prices are denormalized copies frozen at creation time.
type Order struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     string          `json:"session_id"`
	UserID        string          `json:"user_id"`
	BuyerName     string          `json:"buyer_name"`
	BuyerEmail    string          `json:"buyer_email"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	Status        OrderStatus     `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	ShippingAddr  string          `json:"shipping_address"`
	ContactPhone  string          `json:"contact_phone"`
	Items         []OrderItem     `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ItemsTotal recomputes the sum of quantity x unit price over the line items.
// It must always equal TotalAmount; the repository refuses orders where the
// two disagree.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
