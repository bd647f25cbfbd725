package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres Store. Serialization relies on row locks taken inside
// READ COMMITTED transactions: orders first, then products in id order.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &repoTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PutProduct creates or replaces a product outside any order flow (catalog sync, seeding).
func (r *Repo) PutProduct(ctx context.Context, p Product) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products (id, name, total_stock, price)
		VALUES ($1, $2, $3, $4::text::numeric)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, total_stock=EXCLUDED.total_stock, price=EXCLUDED.price, updated_at=now()`,
		p.ID, p.Name, p.TotalStock, p.Price.String())
	if err != nil {
		return fmt.Errorf("put product %s: %w", p.ID, err)
	}
	return nil
}

type repoTx struct{ tx pgx.Tx }

const orderColumns = `id, COALESCE(external_id, ''), user_id, amount::text, order_status, payment_status,
	customer_data, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o        Order
		amount   string
		status   string
		payment  string
		customer []byte
	)
	if err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &amount, &status, &payment, &customer,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Order{}, fmt.Errorf("order %s amount: %w", o.ID, err)
	}
	o.Amount = d
	o.OrderStatus = Status(status)
	o.PaymentStatus = PaymentStatus(payment)
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &o.Customer); err != nil {
			return Order{}, fmt.Errorf("order %s customer_data: %w", o.ID, err)
		}
	}
	return o, nil
}

func (t *repoTx) loadLines(ctx context.Context, o *Order) error {
	rows, err := t.tx.Query(ctx, `
		SELECT product_id, color, size, material, qty, price::text
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Lines = o.Lines[:0]
	for rows.Next() {
		var (
			l     OrderLine
			price string
		)
		if err := rows.Scan(&l.ProductID, &l.Variant.Color, &l.Variant.Size, &l.Variant.Material, &l.Quantity, &price); err != nil {
			return err
		}
		if l.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("order %s line price: %w", o.ID, err)
		}
		o.Lines = append(o.Lines, l)
	}
	return rows.Err()
}

func (t *repoTx) orderBy(ctx context.Context, query string, arg any) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, query, arg))
	if err != nil {
		return Order{}, err
	}
	if err := t.loadLines(ctx, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (t *repoTx) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return t.orderBy(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID)
}

func (t *repoTx) FindOrderByExternalID(ctx context.Context, externalID string) (Order, error) {
	return t.orderBy(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, externalID)
}

func (t *repoTx) LockOrder(ctx context.Context, orderID string) (Order, error) {
	return t.orderBy(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID)
}

// InsertOrder: idempotent via external_id. Duplicate -> ErrAlreadyExists.
func (t *repoTx) InsertOrder(ctx context.Context, o *Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO orders(id, external_id, user_id, amount, order_status, payment_status, customer_data)
		VALUES ($1, NULLIF($2, ''), $3, $4::text::numeric, $5, $6, $7)
		RETURNING created_at, updated_at`,
		o.ID, o.ExternalID, o.UserID, o.Amount.String(), string(o.OrderStatus), string(o.PaymentStatus), customer,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}

	for _, l := range o.Lines {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, color, size, material, qty, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric)`,
			o.ID, l.ProductID, l.Variant.Color, l.Variant.Size, l.Variant.Material, l.Quantity, l.Price.String(),
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *repoTx) UpdateOrderStatus(ctx context.Context, orderID string, status Status, payment PaymentStatus) (Order, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET order_status=$2, payment_status=$3, updated_at=now()
		WHERE id=$1`, orderID, string(status), string(payment))
	if err != nil {
		return Order{}, err
	}
	if ct.RowsAffected() != 1 {
		return Order{}, ErrOrderNotFound
	}
	return t.GetOrder(ctx, orderID)
}
