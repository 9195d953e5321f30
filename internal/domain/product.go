package domain

import "github.com/shopspring/decimal"

// Product is the catalog view consumed at cart-insertion time. Carts keep
// their own frozen copy of name and price; they never reference this record.
type Product struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	ImageURL string          `json:"image_url"`
	Price    decimal.Decimal `json:"price"`
}
