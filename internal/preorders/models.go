package preorders

import (
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-preorders/internal/sales"
	"github.com/shopspring/decimal"
)

type CustomerRef struct {
	ID    string `json:"_id"`
	Name  string `json:"nombre,omitempty"`
	Email string `json:"email,omitempty"`
}

type ProductRef struct {
	ID   string `json:"_id"`
	SKU  string `json:"sku,omitempty"`
	Name string `json:"nombre,omitempty"`
}

// Item is one preorder line. UnitPrice is the catalog sale price captured
// when the line was written.
type Item struct {
	Product   ProductRef      `json:"producto"`
	Quantity  int             `json:"cantidad"`
	UnitPrice decimal.Decimal `json:"precio"`
}

func (it Item) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Preorder struct {
	ID              string          `json:"_id"`
	Customer        CustomerRef     `json:"cliente"`
	Items           []Item          `json:"productos"`
	DeliveryDate    time.Time       `json:"fechaEntrega"`
	Status          Status          `json:"estado"`
	Total           decimal.Decimal `json:"total"`
	InitialPayment  decimal.Decimal `json:"pagoInicial"`
	Notes           string          `json:"notas"`
	ReservationHeld bool            `json:"reservaActiva"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"fechaPreventa"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (p *Preorder) ProductIDs() []string {
	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.Product.ID)
	}
	return ids
}

// Total sums the line totals of items.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// StatusView is the lightweight projection served by the status endpoint and
// kept in the status cache.
type StatusView struct {
	ID      string `json:"_id"`
	Status  Status `json:"estado"`
	Version int    `json:"version"`
}

type ItemInput struct {
	ProductID string `json:"producto"`
	Quantity  int    `json:"cantidad"`
}

type CreateInput struct {
	CustomerID   string      `json:"clienteId"`
	Items        []ItemInput `json:"productos"`
	DeliveryDate string      `json:"fechaEntrega"`
	Notes        string      `json:"notas"`
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.CustomerID) == "" {
		return fmt.Errorf("%w: clienteId is required", ErrInvalidInput)
	}
	return validateItems(in.Items)
}

// UpdateInput is a partial update: nil fields keep their stored value.
// Version, when set, must match the stored version.
type UpdateInput struct {
	Items        []ItemInput `json:"productos"`
	DeliveryDate *string     `json:"fechaEntrega"`
	Status       *Status     `json:"estado"`
	Notes        *string     `json:"notas"`
	Version      *int        `json:"version"`
}

func (in UpdateInput) validate() error {
	if in.Items != nil {
		if err := validateItems(in.Items); err != nil {
			return err
		}
	}
	if in.Status != nil && !in.Status.Valid() {
		return fmt.Errorf("%w: unknown estado %q", ErrInvalidInput, *in.Status)
	}
	return nil
}

type ConfirmInput struct {
	CustomerID   string
	DeliveryDate string
	Confirmed    bool
}

type ConfirmResult struct {
	Preorder *Preorder
	Sale     *sales.Sale // nil when the preorder was cancelled
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: productos must not be empty", ErrInvalidInput)
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: productos[%d].producto is required", ErrInvalidInput, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: invalid cantidad for product %s", ErrInvalidInput, it.ProductID)
		}
	}
	return nil
}

func inputProductIDs(items []ItemInput) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
