package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Quantity only ever changes through the stock ledger.
type Product struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	PurchasePrice     decimal.Decimal `json:"purchase_price"`
	Quantity          int64           `json:"quantity"`
	DamagedQuantity   int64           `json:"damaged_quantity"`
	LowStockThreshold int64           `json:"low_stock_threshold"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LowStock reports whether on-hand quantity is at or below the threshold.
func (p Product) LowStock() bool {
	return p.LowStockThreshold > 0 && p.Quantity <= p.LowStockThreshold
}

type CreateProductRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Price             decimal.Decimal `json:"price"`
	PurchasePrice     decimal.Decimal `json:"purchase_price"`
	Quantity          int64           `json:"quantity" validate:"gte=0"`
	LowStockThreshold int64           `json:"low_stock_threshold" validate:"gte=0"`
}

type UpdateProductRequest struct {
	Name              *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	PurchasePrice     *decimal.Decimal `json:"purchase_price,omitempty"`
	LowStockThreshold *int64           `json:"low_stock_threshold,omitempty" validate:"omitempty,gte=0"`
}

// ListProductsRequest is the typed filter for product listings.
type ListProductsRequest struct {
	Search       *string `json:"search,omitempty"`
	LowStockOnly bool    `json:"low_stock_only"`
	Page         int     `json:"page" validate:"gte=0"`
	PerPage      int     `json:"per_page" validate:"gte=0,lte=200"`
}

type RecordDamageRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}
