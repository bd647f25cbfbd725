package inventory

import (
	"context"
	"sort"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the reservation engine: it balances demand against the stock
// ledger. The *InTx methods join the caller's transaction; the others open their own.
type Service struct {
	Store orders.Store
	Log   *zap.Logger
}

type StockCheck struct {
	AvailableStock int  `json:"availableStock"`
	HasStock       bool `json:"hasStock"`
	RequestedQty   int  `json:"requestedQty"`
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// CheckAvailableStock is a point-in-time read. Reserve re-checks under lock,
// so callers must not treat a positive answer as a claim.
func (s *Service) CheckAvailableStock(ctx context.Context, productID string, requestedQty int, key orders.VariantKey) (StockCheck, error) {
	if productID == "" {
		return StockCheck{}, orders.Validationf("productId is required")
	}
	if requestedQty <= 0 {
		return StockCheck{}, orders.Validationf("requestedQty must be positive, got %d", requestedQty)
	}

	var out StockCheck
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		available, err := availableStock(ctx, tx, productID)
		if err != nil {
			return err
		}
		out = StockCheck{AvailableStock: available, HasStock: requestedQty <= available, RequestedQty: requestedQty}
		return nil
	})
	if err == nil {
		s.log().Debug("stock checked",
			zap.String("product_id", productID),
			zap.Stringer("variant", key),
			zap.Int("available", out.AvailableStock),
			zap.Int("requested", requestedQty))
	}
	return out, err
}

// availableStock: total_stock dikurangi semua reservasi aktif produk tsb,
// lintas varian, karena ledger hanya mencatat stok per produk.
func availableStock(ctx context.Context, tx orders.Tx, productID string) (int, error) {
	total, err := tx.GetTotalStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	reserved, err := tx.SumActiveReservedForProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	if total-reserved < 0 {
		return 0, nil
	}
	return total - reserved, nil
}

// ReserveInTx creates one active reservation per distinct product+variant
// line. Products are locked in id order before any availability is read; a
// single short line fails the whole order with *orders.InsufficientStockError.
func (s *Service) ReserveInTx(ctx context.Context, tx orders.Tx, orderID string, items []orders.ItemInput) ([]orders.Reservation, error) {
	if orderID == "" {
		return nil, orders.Validationf("orderId is required")
	}
	lines := orders.MergeLines(items)
	if len(lines) == 0 {
		return nil, orders.Validationf("order %s has no items", orderID)
	}
	for _, it := range lines {
		if it.ProductID == "" {
			return nil, orders.Validationf("item without productId")
		}
		if it.Quantity <= 0 {
			return nil, orders.Validationf("invalid quantity %d for product %s", it.Quantity, it.ProductID)
		}
	}

	if _, err := tx.LockProducts(ctx, productIDs(lines)); err != nil {
		return nil, err
	}

	claimed := map[string]int{}
	for _, it := range lines {
		available, err := availableStock(ctx, tx, it.ProductID)
		if err != nil {
			return nil, err
		}
		available -= claimed[it.ProductID]
		if it.Quantity > available {
			return nil, &orders.InsufficientStockError{
				ProductID: it.ProductID,
				Variant:   it.Variant(),
				Requested: it.Quantity,
				Available: available,
			}
		}
		claimed[it.ProductID] += it.Quantity
	}

	out := make([]orders.Reservation, 0, len(lines))
	for _, it := range lines {
		r := orders.Reservation{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			ProductID: it.ProductID,
			Variant:   it.Variant(),
			Quantity:  it.Quantity,
			Status:    orders.ReservationActive,
		}
		if err := tx.InsertReservation(ctx, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	s.log().Info("stock reserved", zap.String("order_id", orderID), zap.Int("lines", len(out)))
	return out, nil
}

// ConsumeInTx turns every active reservation of the order into a permanent
// stock deduction. No active reservations is a no-op. Returns how many were consumed.
func (s *Service) ConsumeInTx(ctx context.Context, tx orders.Tx, orderID string) (int, error) {
	active, err := tx.ListActiveReservations(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, nil
	}
	if _, err := tx.LockProducts(ctx, reservationProductIDs(active)); err != nil {
		return 0, err
	}
	for _, r := range active {
		if err := tx.DecrementStock(ctx, r.ProductID, r.Quantity); err != nil {
			return 0, err
		}
		if err := tx.MarkConsumed(ctx, r.ID); err != nil {
			return 0, err
		}
	}
	s.log().Info("reservations consumed", zap.String("order_id", orderID), zap.Int("count", len(active)))
	return len(active), nil
}

// ReleaseInTx discards the order's active reservations. The ledger is not
// touched because nothing was deducted. Returns how many were released.
func (s *Service) ReleaseInTx(ctx context.Context, tx orders.Tx, orderID string) (int, error) {
	active, err := tx.ListActiveReservations(ctx, orderID)
	if err != nil {
		return 0, err
	}
	for _, r := range active {
		if err := tx.MarkReleased(ctx, r.ID); err != nil {
			return 0, err
		}
	}
	if len(active) > 0 {
		s.log().Info("reservations released", zap.String("order_id", orderID), zap.Int("count", len(active)))
	}
	return len(active), nil
}

// RefundInTx puts back the stock of consumed reservations that have not been
// restocked yet. Reservations stay consumed; restocked_at marks them done.
func (s *Service) RefundInTx(ctx context.Context, tx orders.Tx, orderID string) (int, error) {
	all, err := tx.ListReservations(ctx, orderID)
	if err != nil {
		return 0, err
	}
	var pending []orders.Reservation
	for _, r := range all {
		if r.Status == orders.ReservationConsumed && r.RestockedAt == nil {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if _, err := tx.LockProducts(ctx, reservationProductIDs(pending)); err != nil {
		return 0, err
	}
	for _, r := range pending {
		if err := tx.IncrementStock(ctx, r.ProductID, r.Quantity); err != nil {
			return 0, err
		}
		if err := tx.MarkRestocked(ctx, r.ID); err != nil {
			return 0, err
		}
	}
	s.log().Info("consumed stock returned", zap.String("order_id", orderID), zap.Int("count", len(pending)))
	return len(pending), nil
}

// Reserve claims stock for an order that already exists.
func (s *Service) Reserve(ctx context.Context, orderID string, items []orders.ItemInput) ([]orders.Reservation, error) {
	var out []orders.Reservation
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		rs, err := s.ReserveInTx(ctx, tx, orderID, items)
		out = rs
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ConsumeReservationsAndDeductStock(ctx context.Context, orderID string) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		_, err := s.ConsumeInTx(ctx, tx, orderID)
		return err
	})
}

func (s *Service) ReleaseReservations(ctx context.Context, orderID string) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		_, err := s.ReleaseInTx(ctx, tx, orderID)
		return err
	})
}

func (s *Service) RefundStock(ctx context.Context, orderID string) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		_, err := s.RefundInTx(ctx, tx, orderID)
		return err
	})
}

func productIDs(lines []orders.ItemInput) []string {
	seen := map[string]bool{}
	var ids []string
	for _, it := range lines {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	sort.Strings(ids)
	return ids
}

func reservationProductIDs(rs []orders.Reservation) []string {
	lines := make([]orders.ItemInput, 0, len(rs))
	for _, r := range rs {
		lines = append(lines, orders.ItemInput{ProductID: r.ProductID})
	}
	return productIDs(lines)
}
