package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, total_stock, price::text, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.TotalStock, &price, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	p.Price = d
	return p, nil
}

func (t *repoTx) GetProduct(ctx context.Context, productID string) (Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, productID))
	if errors.Is(err, ErrProductNotFound) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return p, err
}

func (t *repoTx) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LockProducts: lock stok per product (FOR UPDATE) satu per satu, urut id,
// supaya dua transaksi tidak saling deadlock.
func (t *repoTx) LockProducts(ctx context.Context, productIDs []string) (map[string]Product, error) {
	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (t *repoTx) GetTotalStock(ctx context.Context, productID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT total_stock FROM products WHERE id=$1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return n, err
}

func (t *repoTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return Validationf("decrement quantity must be positive, got %d", qty)
	}
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET total_stock = total_stock - $2, updated_at = now()
		WHERE id=$1 AND total_stock >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	total, err := t.GetTotalStock(ctx, productID)
	if err != nil {
		return err
	}
	return &InsufficientStockError{ProductID: productID, Requested: qty, Available: total}
}

func (t *repoTx) IncrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return Validationf("increment quantity must be positive, got %d", qty)
	}
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET total_stock = total_stock + $2, updated_at = now()
		WHERE id=$1`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return nil
}

func (t *repoTx) SetTotalStock(ctx context.Context, productID string, total int) error {
	if total < 0 {
		return Validationf("total stock cannot be negative, got %d", total)
	}
	ct, err := t.tx.Exec(ctx, `UPDATE products SET total_stock=$2, updated_at=now() WHERE id=$1`, productID, total)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return nil
}

const reservationColumns = `id, order_id, product_id, color, size, material, quantity, status,
	restocked_at, created_at, updated_at`

func (t *repoTx) listReservations(ctx context.Context, query string, args ...any) ([]Reservation, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var (
			r      Reservation
			status string
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.Variant.Color, &r.Variant.Size, &r.Variant.Material,
			&r.Quantity, &status, &r.RestockedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = ReservationStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListActiveReservations locks the rows it returns so consume/release
// in another transaction waits instead of double-processing.
func (t *repoTx) ListActiveReservations(ctx context.Context, orderID string) ([]Reservation, error) {
	return t.listReservations(ctx, `
		SELECT `+reservationColumns+` FROM inventory_reservations
		WHERE order_id=$1 AND status='active' ORDER BY created_at, id FOR UPDATE`, orderID)
}

func (t *repoTx) ListReservations(ctx context.Context, orderID string) ([]Reservation, error) {
	return t.listReservations(ctx, `
		SELECT `+reservationColumns+` FROM inventory_reservations
		WHERE order_id=$1 ORDER BY created_at, id`, orderID)
}

func (t *repoTx) SumActiveReservedQuantity(ctx context.Context, productID string, key VariantKey) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM inventory_reservations
		WHERE product_id=$1 AND status='active'
		  AND color IS NOT DISTINCT FROM $2
		  AND size IS NOT DISTINCT FROM $3
		  AND material IS NOT DISTINCT FROM $4`,
		productID, key.Color, key.Size, key.Material).Scan(&n)
	return n, err
}

func (t *repoTx) SumActiveReservedForProduct(ctx context.Context, productID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM inventory_reservations
		WHERE product_id=$1 AND status='active'`, productID).Scan(&n)
	return n, err
}

func (t *repoTx) InsertReservation(ctx context.Context, r *Reservation) error {
	if r.Quantity <= 0 {
		return Validationf("reservation quantity must be positive, got %d", r.Quantity)
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO inventory_reservations(id, order_id, product_id, color, size, material, quantity, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		r.ID, r.OrderID, r.ProductID, r.Variant.Color, r.Variant.Size, r.Variant.Material, r.Quantity, string(r.Status),
	).Scan(&r.CreatedAt, &r.UpdatedAt)
}

func (t *repoTx) transition(ctx context.Context, reservationID string, query string) error {
	ct, err := t.tx.Exec(ctx, query, reservationID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: reservation %s", ErrInvalidReservationState, reservationID)
	}
	return nil
}

func (t *repoTx) MarkConsumed(ctx context.Context, reservationID string) error {
	return t.transition(ctx, reservationID, `
		UPDATE inventory_reservations SET status='consumed', updated_at=now()
		WHERE id=$1 AND status='active'`)
}

func (t *repoTx) MarkReleased(ctx context.Context, reservationID string) error {
	return t.transition(ctx, reservationID, `
		UPDATE inventory_reservations SET status='released', updated_at=now()
		WHERE id=$1 AND status='active'`)
}

func (t *repoTx) MarkRestocked(ctx context.Context, reservationID string) error {
	return t.transition(ctx, reservationID, `
		UPDATE inventory_reservations SET restocked_at=now(), updated_at=now()
		WHERE id=$1 AND status='consumed' AND restocked_at IS NULL`)
}
