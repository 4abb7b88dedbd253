package preorders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-preorders/internal/auth"
	"github.com/ariefcatur/go-preorders/internal/catalog"
	kafkax "github.com/ariefcatur/go-preorders/internal/kafka"
	"github.com/ariefcatur/go-preorders/internal/postgres"
	"github.com/ariefcatur/go-preorders/internal/sales"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultMaxPerDay = 2

var tracer = otel.Tracer("github.com/ariefcatur/go-preorders/internal/preorders")

// Publisher sends an encoded event to a topic. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Service is the preorder lifecycle controller. Every mutating operation runs
// in one database transaction, so a failure part way through a multi-item
// flow leaves no reservation behind. Events are published after commit.
type Service struct {
	DB      *pgxpool.Pool
	Repo    *Repo
	Catalog *catalog.Repo
	Sales   *sales.Repo
	Events  Publisher // optional
	Log     *zap.Logger

	Loc         *time.Location
	MaxPerDay   int
	Now         func() time.Time
	ServiceName string
}

func NewService(db *pgxpool.Pool, loc *time.Location, maxPerDay int, events Publisher, log *zap.Logger, serviceName string) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if maxPerDay <= 0 {
		maxPerDay = defaultMaxPerDay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		DB:          db,
		Repo:        &Repo{Loc: loc},
		Catalog:     &catalog.Repo{},
		Sales:       &sales.Repo{},
		Events:      events,
		Log:         log,
		Loc:         loc,
		MaxPerDay:   maxPerDay,
		Now:         time.Now,
		ServiceName: serviceName,
	}
}

func (s *Service) today() time.Time {
	return StartOfDay(s.Now(), s.Loc)
}

// Create validates the delivery slot, snapshots catalog prices and reserves
// stock for every line. Validation order: past date, daily limit, product
// already taken for the date, then per-line product and stock lookups.
func (s *Service) Create(ctx context.Context, in CreateInput) (p *Preorder, err error) {
	ctx, span := tracer.Start(ctx, "preorders.Create", trace.WithAttributes(
		attribute.String("customer.id", in.CustomerID),
		attribute.Int("preorder.items", len(in.Items)),
	))
	defer func() { finishSpan(span, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}
	day, err := ParseDeliveryDate(in.DeliveryDate, s.Loc)
	if err != nil {
		return nil, err
	}
	if day.Before(s.today()) {
		return nil, fmt.Errorf("%w: %s", ErrDeliveryDateInPast, dateKey(day))
	}

	p = &Preorder{
		ID:              uuid.NewString(),
		Customer:        CustomerRef{ID: in.CustomerID},
		DeliveryDate:    day,
		Status:          StatusPending,
		InitialPayment:  decimal.Zero,
		Notes:           in.Notes,
		ReservationHeld: true,
	}

	err = postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		if err := postgres.LockKey(ctx, tx, slotKey(in.CustomerID, day)); err != nil {
			return err
		}
		existing, err := s.Repo.ListByCustomerDate(ctx, tx, in.CustomerID, dateKey(day))
		if err != nil {
			return err
		}
		if err := s.checkSlot(existing, "", inputProductIDs(in.Items)); err != nil {
			return err
		}

		c, err := s.Catalog.GetCustomer(ctx, tx, in.CustomerID)
		if err != nil {
			return err
		}
		p.Customer = CustomerRef{ID: c.ID, Name: c.Name, Email: c.Email}

		items, err := s.priceAndReserve(ctx, tx, in.Items)
		if err != nil {
			return err
		}
		p.Items = items
		p.Total = Total(items)

		return s.Repo.Insert(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("preorder created",
		zap.String("preorder_id", p.ID),
		zap.String("customer_id", p.Customer.ID),
		zap.String("delivery_date", dateKey(p.DeliveryDate)),
		zap.String("total", p.Total.String()),
	)
	s.publish(ctx, TopicPreorderCreated, EventPreorderCreated, p.ID, newPreorderPayload(p))
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]Preorder, error) {
	return s.Repo.List(ctx, s.DB)
}

func (s *Service) Get(ctx context.Context, id string) (*Preorder, error) {
	return s.Repo.Get(ctx, s.DB, id, false)
}

func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	return s.Repo.GetStatus(ctx, s.DB, id)
}

// ListByCustomer treats an empty result as not found.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Preorder, error) {
	ps, err := s.Repo.ListByCustomer(ctx, s.DB, customerID)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPreorders, customerID)
	}
	return ps, nil
}

// Update applies a partial patch to a pending preorder. Replacing the items
// re-reads catalog prices and moves the held reservation from the old lines
// to the new ones. A status change here moves no stock and creates no sale.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (p *Preorder, err error) {
	ctx, span := tracer.Start(ctx, "preorders.Update", trace.WithAttributes(attribute.String("preorder.id", id)))
	defer func() { finishSpan(span, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}
	var newDay *time.Time
	if in.DeliveryDate != nil {
		day, err := ParseDeliveryDate(*in.DeliveryDate, s.Loc)
		if err != nil {
			return nil, err
		}
		if day.Before(s.today()) {
			return nil, fmt.Errorf("%w: %s", ErrDeliveryDateInPast, dateKey(day))
		}
		newDay = &day
	}

	err = postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		cur, err := s.Repo.Get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if in.Version != nil && *in.Version != cur.Version {
			return fmt.Errorf("%w: have version %d, stored %d", ErrVersionConflict, *in.Version, cur.Version)
		}
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, cur.ID, cur.Status)
		}
		if in.Status != nil && *in.Status != cur.Status && !CanTransition(cur.Status, *in.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, *in.Status)
		}

		day := cur.DeliveryDate
		if newDay != nil {
			day = *newDay
		}
		if !day.Equal(cur.DeliveryDate) || in.Items != nil {
			if err := postgres.LockKey(ctx, tx, slotKey(cur.Customer.ID, day)); err != nil {
				return err
			}
			existing, err := s.Repo.ListByCustomerDate(ctx, tx, cur.Customer.ID, dateKey(day))
			if err != nil {
				return err
			}
			requested := cur.ProductIDs()
			if in.Items != nil {
				requested = inputProductIDs(in.Items)
			}
			if err := s.checkSlot(existing, cur.ID, requested); err != nil {
				return err
			}
		}

		if in.Items != nil {
			if cur.ReservationHeld {
				if err := s.release(ctx, tx, cur.Items); err != nil {
					return err
				}
			}
			items, err := s.priceAndReserve(ctx, tx, in.Items)
			if err != nil {
				return err
			}
			cur.Items = items
			cur.Total = Total(items)
			cur.ReservationHeld = true
		}
		cur.DeliveryDate = day
		if in.Status != nil {
			cur.Status = *in.Status
		}
		if in.Notes != nil {
			cur.Notes = *in.Notes
		}

		if err := s.Repo.Update(ctx, tx, cur, in.Items != nil); err != nil {
			return err
		}
		p = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("preorder updated",
		zap.String("preorder_id", p.ID),
		zap.Int("version", p.Version),
		zap.Bool("items_replaced", in.Items != nil),
	)
	s.publish(ctx, TopicPreorderUpdated, EventPreorderUpdated, p.ID, newPreorderPayload(p))
	return p, nil
}

// Delete removes a preorder in any status, releasing its reservation first
// if it is still held.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "preorders.Delete", trace.WithAttributes(attribute.String("preorder.id", id)))
	defer func() { finishSpan(span, err) }()

	var deleted *Preorder
	err = postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		cur, err := s.Repo.Get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if cur.ReservationHeld {
			if err := s.release(ctx, tx, cur.Items); err != nil {
				return err
			}
		}
		if err := s.Repo.Delete(ctx, tx, id); err != nil {
			return err
		}
		deleted = cur
		return nil
	})
	if err != nil {
		return err
	}

	payload := PreorderDeletedPayload{PreorderID: deleted.ID, CustomerID: deleted.Customer.ID}
	if deleted.ReservationHeld {
		payload.Released = itemQtys(deleted.Items)
	}
	s.Log.Info("preorder deleted", zap.String("preorder_id", id), zap.Bool("released", deleted.ReservationHeld))
	s.publish(ctx, TopicPreorderDeleted, EventPreorderDeleted, id, payload)
	return nil
}

// Confirm settles the oldest pending preorder of the (customer, date) slot.
// The reservation is released before branching; a confirmed delivery then
// produces a sale owned by actor, otherwise the preorder is cancelled.
func (s *Service) Confirm(ctx context.Context, actor auth.Actor, in ConfirmInput) (res *ConfirmResult, err error) {
	ctx, span := tracer.Start(ctx, "preorders.Confirm", trace.WithAttributes(
		attribute.String("customer.id", in.CustomerID),
		attribute.Bool("preorder.confirmed", in.Confirmed),
	))
	defer func() { finishSpan(span, err) }()

	if in.CustomerID == "" {
		return nil, fmt.Errorf("%w: clienteId is required", ErrInvalidInput)
	}
	if in.Confirmed && actor.ID == "" {
		return nil, fmt.Errorf("%w: an authenticated seller is required", ErrInvalidInput)
	}
	day, err := ParseDeliveryDate(in.DeliveryDate, s.Loc)
	if err != nil {
		return nil, err
	}

	res = &ConfirmResult{}
	err = postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		cur, err := s.Repo.FindPending(ctx, tx, in.CustomerID, dateKey(day))
		if err != nil {
			return err
		}
		if cur.ReservationHeld {
			if err := s.release(ctx, tx, cur.Items); err != nil {
				return err
			}
			cur.ReservationHeld = false
		}

		if in.Confirmed {
			n, err := s.Sales.CountByPreorder(ctx, tx, cur.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: %s already has a sale", ErrNotPending, cur.ID)
			}
			sale := newSale(cur, actor, s.Now())
			if err := s.Sales.Insert(ctx, tx, sale); err != nil {
				return err
			}
			cur.Status = StatusConfirmed
			res.Sale = sale
		} else {
			cur.Status = StatusCancelled
		}

		if err := s.Repo.Update(ctx, tx, cur, false); err != nil {
			return err
		}
		res.Preorder = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := res.Preorder
	if res.Sale != nil {
		s.Log.Info("preorder confirmed",
			zap.String("preorder_id", p.ID),
			zap.String("sale_id", res.Sale.ID),
			zap.String("seller_id", actor.ID),
		)
		s.publish(ctx, TopicPreorderConfirmed, EventPreorderConfirmed, p.ID, newPreorderPayload(p))
		s.publish(ctx, TopicSaleCreated, EventSaleCreated, p.ID, SaleCreatedPayload{
			SaleID:     res.Sale.ID,
			PreorderID: p.ID,
			CustomerID: res.Sale.CustomerID,
			SellerID:   res.Sale.SellerID,
			Total:      res.Sale.Total,
			Balance:    res.Sale.Balance,
		})
	} else {
		s.Log.Info("preorder cancelled", zap.String("preorder_id", p.ID))
		s.publish(ctx, TopicPreorderCancelled, EventPreorderCancelled, p.ID, newPreorderPayload(p))
	}
	return res, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]catalog.ProductStock, error) {
	return s.Catalog.ListProducts(ctx, s.DB)
}

func (s *Service) GetSale(ctx context.Context, id string) (*sales.Sale, error) {
	return s.Sales.Get(ctx, s.DB, id)
}

// checkSlot enforces the per-day limit and product uniqueness against the
// customer's preorders on the same date, ignoring selfID.
func (s *Service) checkSlot(existing []Preorder, selfID string, requested []string) error {
	taken := make(map[string]bool)
	others := 0
	for _, o := range existing {
		if o.ID == selfID {
			continue
		}
		others++
		for _, it := range o.Items {
			taken[it.Product.ID] = true
		}
	}
	if others >= s.MaxPerDay {
		return fmt.Errorf("%w (%d)", ErrDailyLimitReached, s.MaxPerDay)
	}

	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if taken[id] || seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateProduct, id)
		}
		seen[id] = true
	}
	return nil
}

// priceAndReserve resolves each line against the catalog, snapshots its sale
// price and increments the product's reservation.
func (s *Service) priceAndReserve(ctx context.Context, tx pgx.Tx, in []ItemInput) ([]Item, error) {
	items := make([]Item, 0, len(in))
	for _, it := range in {
		prod, err := s.Catalog.GetProduct(ctx, tx, it.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{
			Product:   ProductRef{ID: prod.ID, SKU: prod.SKU, Name: prod.Name},
			Quantity:  it.Quantity,
			UnitPrice: prod.SalePrice,
		})
		if err := s.Catalog.Reserve(ctx, tx, prod.ID, it.Quantity); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// release gives back every line's reservation. A product without a ledger
// row is skipped.
func (s *Service) release(ctx context.Context, tx pgx.Tx, items []Item) error {
	for _, it := range items {
		err := s.Catalog.Release(ctx, tx, it.Product.ID, it.Quantity)
		if errors.Is(err, catalog.ErrStockNotFound) {
			s.Log.Warn("release skipped: no stock entry", zap.String("product_id", it.Product.ID))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, preorderID string, payload any) {
	if s.Events == nil {
		return
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	ev := NewEnvelope(eventType, s.ServiceName, preorderID, traceID, kafkax.MustMarshal(payload))
	s.Events.Publish(topic, PartitionKey(preorderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func newSale(p *Preorder, seller auth.Actor, now time.Time) *sales.Sale {
	items := make([]sales.Item, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, sales.Item{
			ProductID: it.Product.ID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return &sales.Sale{
		ID:             uuid.NewString(),
		PreorderID:     p.ID,
		CustomerID:     p.Customer.ID,
		SellerID:       seller.ID,
		Items:          items,
		Total:          p.Total,
		InitialPayment: p.InitialPayment,
		Balance:        p.Total.Sub(p.InitialPayment),
		Status:         sales.StatusPending,
		Notes:          p.Notes,
		SoldAt:         now.UTC(),
	}
}

func slotKey(customerID string, day time.Time) string {
	return "preorder-slot:" + customerID + ":" + dateKey(day)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
