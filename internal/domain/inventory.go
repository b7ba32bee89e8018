package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	StoreID     int64           `json:"store_id"`
	Name        string          `json:"product_name"`
	Price       decimal.Decimal `json:"product_price"`
	Stock       int             `json:"stock"`
	IsAvailable bool            `json:"is_available"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// Orderable reports whether the product can be put in a new order.
func (p Product) Orderable() bool {
	return p.IsAvailable && p.DeletedAt == nil && p.Stock > 0
}

func (p Product) Label() string {
	if p.Name == "" {
		return fmt.Sprintf("ID: %d", p.ID)
	}
	return fmt.Sprintf("%s (ID %d)", p.Name, p.ID)
}

// StockItem is one line of a stock decrement request.
type StockItem struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type StockLevel struct {
	ProductID   int64 `json:"product_id"`
	Stock       int   `json:"stock"`
	IsAvailable bool  `json:"is_available"`
}
