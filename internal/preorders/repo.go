package preorders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-preorders/internal/postgres"
	"github.com/jackc/pgx/v5"
)

// Repo persists preorders and their lines. Reads expand the customer and
// product references.
type Repo struct {
	Loc *time.Location
}

const selectPreorder = `
	SELECT p.id, p.customer_id, c.name, c.email, p.delivery_date, p.status, p.total,
	       p.pago_inicial, p.notes, p.reservation_held, p.version, p.created_at, p.updated_at
	FROM preorders p
	JOIN customers c ON c.id = p.customer_id`

func (r *Repo) Insert(ctx context.Context, q postgres.Querier, p *Preorder) error {
	err := q.QueryRow(ctx, `
		INSERT INTO preorders(id, customer_id, delivery_date, status, total, pago_inicial, notes, reservation_held, version)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, 1)
		RETURNING version, created_at, updated_at`,
		p.ID, p.Customer.ID, dateKey(p.DeliveryDate), string(p.Status), p.Total, p.InitialPayment,
		p.Notes, p.ReservationHeld,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert preorder: %w", err)
	}
	return r.insertItems(ctx, q, p.ID, p.Items)
}

func (r *Repo) insertItems(ctx context.Context, q postgres.Querier, preorderID string, items []Item) error {
	for i, it := range items {
		_, err := q.Exec(ctx, `
			INSERT INTO preorder_items(preorder_id, line_no, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			preorderID, i+1, it.Product.ID, it.Quantity, it.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert preorder item: %w", err)
		}
	}
	return nil
}

// Update writes p back if its stored version still equals p.Version, then
// bumps p.Version. Lines are rewritten only when replaceItems is set.
func (r *Repo) Update(ctx context.Context, q postgres.Querier, p *Preorder, replaceItems bool) error {
	err := q.QueryRow(ctx, `
		UPDATE preorders
		SET delivery_date = $3::date, status = $4, total = $5, notes = $6,
		    reservation_held = $7, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		p.ID, p.Version, dateKey(p.DeliveryDate), string(p.Status), p.Total, p.Notes, p.ReservationHeld,
	).Scan(&p.Version, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVersionConflict
		}
		return fmt.Errorf("update preorder: %w", err)
	}

	if !replaceItems {
		return nil
	}
	if _, err := q.Exec(ctx, `DELETE FROM preorder_items WHERE preorder_id=$1`, p.ID); err != nil {
		return fmt.Errorf("clear preorder items: %w", err)
	}
	return r.insertItems(ctx, q, p.ID, p.Items)
}

func (r *Repo) Delete(ctx context.Context, q postgres.Querier, id string) error {
	ct, err := q.Exec(ctx, `DELETE FROM preorders WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete preorder: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPreorderNotFound
	}
	return nil
}

// Get loads one preorder. With forUpdate the preorder row stays locked until
// the surrounding transaction ends.
func (r *Repo) Get(ctx context.Context, q postgres.Querier, id string, forUpdate bool) (*Preorder, error) {
	query := selectPreorder + ` WHERE p.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF p`
	}
	ps, err := r.query(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPreorderNotFound, id)
	}
	return &ps[0], nil
}

func (r *Repo) List(ctx context.Context, q postgres.Querier) ([]Preorder, error) {
	return r.query(ctx, q, selectPreorder+` ORDER BY p.created_at DESC, p.id`)
}

func (r *Repo) ListByCustomer(ctx context.Context, q postgres.Querier, customerID string) ([]Preorder, error) {
	return r.query(ctx, q, selectPreorder+` WHERE p.customer_id = $1 ORDER BY p.delivery_date, p.created_at`, customerID)
}

// ListByCustomerDate returns every preorder of the customer on day, any status.
func (r *Repo) ListByCustomerDate(ctx context.Context, q postgres.Querier, customerID, day string) ([]Preorder, error) {
	return r.query(ctx, q, selectPreorder+`
		WHERE p.customer_id = $1 AND p.delivery_date = $2::date
		ORDER BY p.created_at, p.id`, customerID, day)
}

// FindPending locks and returns the oldest pending preorder for the slot.
func (r *Repo) FindPending(ctx context.Context, q postgres.Querier, customerID, day string) (*Preorder, error) {
	ps, err := r.query(ctx, q, selectPreorder+`
		WHERE p.customer_id = $1 AND p.delivery_date = $2::date AND p.status = $3
		ORDER BY p.created_at, p.id
		LIMIT 1
		FOR UPDATE OF p`, customerID, day, string(StatusPending))
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: customer %s on %s", ErrNoPendingPreorder, customerID, day)
	}
	return &ps[0], nil
}

func (r *Repo) GetStatus(ctx context.Context, q postgres.Querier, id string) (*StatusView, error) {
	var v StatusView
	var s string
	err := q.QueryRow(ctx, `SELECT id, status, version FROM preorders WHERE id=$1`, id).Scan(&v.ID, &s, &v.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPreorderNotFound, id)
		}
		return nil, fmt.Errorf("get preorder status: %w", err)
	}
	v.Status = Status(s)
	return &v, nil
}

func (r *Repo) query(ctx context.Context, q postgres.Querier, sql string, args ...any) ([]Preorder, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query preorders: %w", err)
	}
	defer rows.Close()

	var out []Preorder
	for rows.Next() {
		var p Preorder
		var day time.Time
		var status string
		if err := rows.Scan(&p.ID, &p.Customer.ID, &p.Customer.Name, &p.Customer.Email, &day, &status,
			&p.Total, &p.InitialPayment, &p.Notes, &p.ReservationHeld, &p.Version,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan preorder: %w", err)
		}
		p.DeliveryDate = fromSQLDate(day, r.location())
		p.Status = Status(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if len(out) == 0 {
		return out, nil
	}
	if err := r.loadItems(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) loadItems(ctx context.Context, q postgres.Querier, ps []Preorder) error {
	ids := make([]string, len(ps))
	index := make(map[string]int, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT i.preorder_id, i.product_id, pr.sku, pr.name, i.quantity, i.unit_price
		FROM preorder_items i
		JOIN products pr ON pr.id = i.product_id
		WHERE i.preorder_id = ANY($1)
		ORDER BY i.preorder_id, i.line_no`, ids)
	if err != nil {
		return fmt.Errorf("query preorder items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var preorderID string
		var it Item
		if err := rows.Scan(&preorderID, &it.Product.ID, &it.Product.SKU, &it.Product.Name,
			&it.Quantity, &it.UnitPrice); err != nil {
			return fmt.Errorf("scan preorder item: %w", err)
		}
		i := index[preorderID]
		ps[i].Items = append(ps[i].Items, it)
	}
	return rows.Err()
}

func (r *Repo) location() *time.Location {
	if r.Loc == nil {
		return time.UTC
	}
	return r.Loc
}
