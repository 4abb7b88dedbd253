package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        string    `json:"_id"`
	Name      string    `json:"nombre"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Product struct {
	ID        string          `json:"_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"nombre"`
	SalePrice decimal.Decimal `json:"precioVenta"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ProductStock is the catalog listing view: a product joined with its ledger row.
type ProductStock struct {
	Product
	OnHand   *int `json:"stockActual,omitempty"`
	Reserved *int `json:"stockReservado,omitempty"`
}
