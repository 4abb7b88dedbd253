package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-preorders/internal/postgres"
	"github.com/jackc/pgx/v5"
)

var ErrSaleNotFound = errors.New("sale not found")

type Repo struct{}

// Insert persists the sale header and its lines. Callers run it inside the
// transaction that confirms the originating preorder.
func (r *Repo) Insert(ctx context.Context, q postgres.Querier, s *Sale) error {
	_, err := q.Exec(ctx, `
		INSERT INTO sales(id, preorder_id, customer_id, seller_id, total, pago_inicial, saldo, status, notes, sold_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.PreorderID, s.CustomerID, s.SellerID, s.Total, s.InitialPayment, s.Balance,
		s.Status, s.Notes, s.SoldAt)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}

	for i, it := range s.Items {
		if _, err := q.Exec(ctx, `
			INSERT INTO sale_items(sale_id, line_no, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			s.ID, i+1, it.ProductID, it.Quantity, it.UnitPrice); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, q postgres.Querier, id string) (*Sale, error) {
	var s Sale
	var preorderID *string
	err := q.QueryRow(ctx, `
		SELECT id, preorder_id, customer_id, seller_id, total, pago_inicial, saldo, status, notes, sold_at
		FROM sales WHERE id=$1`, id).
		Scan(&s.ID, &preorderID, &s.CustomerID, &s.SellerID, &s.Total, &s.InitialPayment,
			&s.Balance, &s.Status, &s.Notes, &s.SoldAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, id)
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	if preorderID != nil {
		s.PreorderID = *preorderID
	}

	rows, err := q.Query(ctx, `
		SELECT product_id, quantity, unit_price
		FROM sale_items WHERE sale_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("get sale items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		s.Items = append(s.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return &s, nil
}

// CountByPreorder returns how many sales were produced from a preorder.
func (r *Repo) CountByPreorder(ctx context.Context, q postgres.Querier, preorderID string) (int, error) {
	var n int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM sales WHERE preorder_id=$1`, preorderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sales: %w", err)
	}
	return n, nil
}
