package preorders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventPreorderCreated   = "PreorderCreated"
	EventPreorderUpdated   = "PreorderUpdated"
	EventPreorderDeleted   = "PreorderDeleted"
	EventPreorderConfirmed = "PreorderConfirmed"
	EventPreorderCancelled = "PreorderCancelled"
	EventSaleCreated       = "SaleCreated"
)

const eventVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // preorder id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, correlationID, traceID string, payload json.RawMessage) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// PreorderPayload carries the state after created, updated, confirmed and
// cancelled events.
type PreorderPayload struct {
	PreorderID   string          `json:"preorder_id"`
	CustomerID   string          `json:"customer_id"`
	DeliveryDate string          `json:"delivery_date"`
	Status       Status          `json:"status"`
	Total        decimal.Decimal `json:"total"`
	Version      int             `json:"version"`
	Items        []ItemQty       `json:"items"`
}

type PreorderDeletedPayload struct {
	PreorderID string    `json:"preorder_id"`
	CustomerID string    `json:"customer_id"`
	Released   []ItemQty `json:"released,omitempty"`
}

type SaleCreatedPayload struct {
	SaleID     string          `json:"sale_id"`
	PreorderID string          `json:"preorder_id"`
	CustomerID string          `json:"customer_id"`
	SellerID   string          `json:"seller_id"`
	Total      decimal.Decimal `json:"total"`
	Balance    decimal.Decimal `json:"balance"`
}

func newPreorderPayload(p *Preorder) PreorderPayload {
	return PreorderPayload{
		PreorderID:   p.ID,
		CustomerID:   p.Customer.ID,
		DeliveryDate: dateKey(p.DeliveryDate),
		Status:       p.Status,
		Total:        p.Total,
		Version:      p.Version,
		Items:        itemQtys(p.Items),
	}
}

func itemQtys(items []Item) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.Product.ID, Qty: it.Quantity})
	}
	return out
}
