package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-preorders/internal/postgres"
	"github.com/jackc/pgx/v5"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrStockNotFound    = errors.New("stock entry not found")
)

// Repo reads customers and products and moves stock reservations. Every
// method takes a postgres.Querier so it can join the caller's transaction.
type Repo struct{}

func (r *Repo) GetCustomer(ctx context.Context, q postgres.Querier, id string) (*Customer, error) {
	var c Customer
	err := q.QueryRow(ctx, `SELECT id, name, email, created_at FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

func (r *Repo) GetProduct(ctx context.Context, q postgres.Querier, id string) (*Product, error) {
	var p Product
	err := q.QueryRow(ctx, `
		SELECT id, sku, name, precio_venta, created_at, updated_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.SalePrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return &p, nil
}

func (r *Repo) ListProducts(ctx context.Context, q postgres.Querier) ([]ProductStock, error) {
	rows, err := q.Query(ctx, `
		SELECT p.id, p.sku, p.name, p.precio_venta, p.created_at, p.updated_at,
		       s.stock_actual, s.stock_reservado
		FROM products p
		LEFT JOIN stock s ON s.product_id = p.id
		ORDER BY p.sku`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []ProductStock
	for rows.Next() {
		var p ProductStock
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.SalePrice, &p.CreatedAt, &p.UpdatedAt,
			&p.OnHand, &p.Reserved); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Reserve adds qty to the product's reserved counter in a single statement.
func (r *Repo) Reserve(ctx context.Context, q postgres.Querier, productID string, qty int) error {
	ct, err := q.Exec(ctx, `
		UPDATE stock
		SET stock_reservado = stock_reservado + $2, updated_at = NOW()
		WHERE product_id = $1`, productID, qty)
	if err != nil {
		return fmt.Errorf("reserve stock %s: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrStockNotFound, productID)
	}
	return nil
}

// Release subtracts qty from the reserved counter, clamping at zero.
func (r *Repo) Release(ctx context.Context, q postgres.Querier, productID string, qty int) error {
	ct, err := q.Exec(ctx, `
		UPDATE stock
		SET stock_reservado = GREATEST(stock_reservado - $2, 0), updated_at = NOW()
		WHERE product_id = $1`, productID, qty)
	if err != nil {
		return fmt.Errorf("release stock %s: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrStockNotFound, productID)
	}
	return nil
}
