package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusPending is the initial status of a sale produced from a preorder.
// It is unrelated to the preorder status set.
const StatusPending = "pendiente"

type Item struct {
	ProductID string          `json:"productoId"`
	Quantity  int             `json:"cantidad"`
	UnitPrice decimal.Decimal `json:"precioUnitario"`
}

type Sale struct {
	ID             string          `json:"_id"`
	PreorderID     string          `json:"preventaId,omitempty"`
	CustomerID     string          `json:"cliente"`
	SellerID       string          `json:"vendedor"`
	Items          []Item          `json:"productos"`
	Total          decimal.Decimal `json:"totalVenta"`
	InitialPayment decimal.Decimal `json:"pagoInicial"`
	Balance        decimal.Decimal `json:"saldoVenta"`
	Status         string          `json:"estado"`
	Notes          string          `json:"notas"`
	SoldAt         time.Time       `json:"fechaVenta"`
}
