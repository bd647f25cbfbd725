package orders

import "context"

// StockLedger owns the total quantity owned per product.
type StockLedger interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// LockProducts row-locks the products in ascending id order and returns them by id.
	// Missing ids fail with ErrProductNotFound.
	LockProducts(ctx context.Context, productIDs []string) (map[string]Product, error)
	GetTotalStock(ctx context.Context, productID string) (int, error)
	// DecrementStock fails with *InsufficientStockError when qty exceeds total stock.
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
	SetTotalStock(ctx context.Context, productID string, total int) error
}

// ReservationStore persists claims against the ledger. The Mark* methods only
// move a reservation out of the expected state; anything else is ErrInvalidReservationState.
type ReservationStore interface {
	ListActiveReservations(ctx context.Context, orderID string) ([]Reservation, error)
	ListReservations(ctx context.Context, orderID string) ([]Reservation, error)
	// SumActiveReservedQuantity matches the variant exactly, nil included.
	SumActiveReservedQuantity(ctx context.Context, productID string, key VariantKey) (int, error)
	SumActiveReservedForProduct(ctx context.Context, productID string) (int, error)
	InsertReservation(ctx context.Context, r *Reservation) error
	MarkConsumed(ctx context.Context, reservationID string) error
	MarkReleased(ctx context.Context, reservationID string) error
	// MarkRestocked records that a consumed reservation's stock was put back.
	MarkRestocked(ctx context.Context, reservationID string) error
}

type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	FindOrderByExternalID(ctx context.Context, externalID string) (Order, error)
	// LockOrder loads the order holding a row lock until the transaction ends.
	LockOrder(ctx context.Context, orderID string) (Order, error)
	InsertOrder(ctx context.Context, o *Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status Status, payment PaymentStatus) (Order, error)
}

// Tx is the unit of work spanning ledger, reservations and orders.
type Tx interface {
	StockLedger
	ReservationStore
	OrderStore
}

// Store runs fn inside one transaction. A non-nil error from fn rolls everything back.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
