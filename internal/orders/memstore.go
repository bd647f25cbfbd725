package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store for local runs and tests. Transactions are
// serialized by a mutex and applied copy-on-commit, so a failing fn leaves no trace.
type MemStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	products     map[string]Product
	orders       map[string]Order
	byExternalID map[string]string
	reservations map[string]Reservation
	resSeq       []string // insertion order
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		state: &memState{
			products:     map[string]Product{},
			orders:       map[string]Order{},
			byExternalID: map[string]string{},
			reservations: map[string]Reservation{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// PutProduct creates or replaces a product.
func (s *MemStore) PutProduct(_ context.Context, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.state.products[p.ID] = p
	return nil
}

func (s *MemStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *memState) clone() *memState {
	c := &memState{
		products:     make(map[string]Product, len(st.products)),
		orders:       make(map[string]Order, len(st.orders)),
		byExternalID: make(map[string]string, len(st.byExternalID)),
		reservations: make(map[string]Reservation, len(st.reservations)),
		resSeq:       append([]string(nil), st.resSeq...),
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.byExternalID {
		c.byExternalID[k] = v
	}
	for k, v := range st.reservations {
		c.reservations[k] = v
	}
	return c
}

type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) GetProduct(_ context.Context, productID string) (Product, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return p, nil
}

func (t *memTx) ListProducts(_ context.Context) ([]Product, error) {
	out := make([]Product, 0, len(t.st.products))
	for _, p := range t.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) LockProducts(ctx context.Context, productIDs []string) (map[string]Product, error) {
	out := make(map[string]Product, len(productIDs))
	for _, id := range productIDs {
		p, err := t.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (t *memTx) GetTotalStock(ctx context.Context, productID string) (int, error) {
	p, err := t.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.TotalStock, nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return Validationf("decrement quantity must be positive, got %d", qty)
	}
	p, err := t.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if qty > p.TotalStock {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: p.TotalStock}
	}
	p.TotalStock -= qty
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return nil
}

func (t *memTx) IncrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return Validationf("increment quantity must be positive, got %d", qty)
	}
	p, err := t.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	p.TotalStock += qty
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return nil
}

func (t *memTx) SetTotalStock(ctx context.Context, productID string, total int) error {
	if total < 0 {
		return Validationf("total stock cannot be negative, got %d", total)
	}
	p, err := t.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	p.TotalStock = total
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return nil
}

func (t *memTx) filterReservations(keep func(Reservation) bool) []Reservation {
	var out []Reservation
	for _, id := range t.st.resSeq {
		if r := t.st.reservations[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (t *memTx) ListActiveReservations(_ context.Context, orderID string) ([]Reservation, error) {
	return t.filterReservations(func(r Reservation) bool {
		return r.OrderID == orderID && r.Status == ReservationActive
	}), nil
}

func (t *memTx) ListReservations(_ context.Context, orderID string) ([]Reservation, error) {
	return t.filterReservations(func(r Reservation) bool { return r.OrderID == orderID }), nil
}

func (t *memTx) SumActiveReservedQuantity(_ context.Context, productID string, key VariantKey) (int, error) {
	n := 0
	for _, r := range t.st.reservations {
		if r.ProductID == productID && r.Status == ReservationActive && r.Variant.Equal(key) {
			n += r.Quantity
		}
	}
	return n, nil
}

func (t *memTx) SumActiveReservedForProduct(_ context.Context, productID string) (int, error) {
	n := 0
	for _, r := range t.st.reservations {
		if r.ProductID == productID && r.Status == ReservationActive {
			n += r.Quantity
		}
	}
	return n, nil
}

func (t *memTx) InsertReservation(_ context.Context, r *Reservation) error {
	if r.Quantity <= 0 {
		return Validationf("reservation quantity must be positive, got %d", r.Quantity)
	}
	if _, ok := t.st.orders[r.OrderID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, r.OrderID)
	}
	if _, ok := t.st.products[r.ProductID]; !ok {
		return fmt.Errorf("%w: %s", ErrProductNotFound, r.ProductID)
	}
	if _, dup := t.st.reservations[r.ID]; dup {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	now := t.now()
	r.CreatedAt, r.UpdatedAt = now, now
	t.st.reservations[r.ID] = *r
	t.st.resSeq = append(t.st.resSeq, r.ID)
	return nil
}

func (t *memTx) transition(reservationID string, ok func(Reservation) bool, apply func(*Reservation)) error {
	r, found := t.st.reservations[reservationID]
	if !found || !ok(r) {
		return fmt.Errorf("%w: reservation %s", ErrInvalidReservationState, reservationID)
	}
	apply(&r)
	r.UpdatedAt = t.now()
	t.st.reservations[reservationID] = r
	return nil
}

func isActive(r Reservation) bool { return r.Status == ReservationActive }

func (t *memTx) MarkConsumed(_ context.Context, reservationID string) error {
	return t.transition(reservationID, isActive, func(r *Reservation) { r.Status = ReservationConsumed })
}

func (t *memTx) MarkReleased(_ context.Context, reservationID string) error {
	return t.transition(reservationID, isActive, func(r *Reservation) { r.Status = ReservationReleased })
}

func (t *memTx) MarkRestocked(_ context.Context, reservationID string) error {
	return t.transition(reservationID,
		func(r Reservation) bool { return r.Status == ReservationConsumed && r.RestockedAt == nil },
		func(r *Reservation) {
			now := t.now()
			r.RestockedAt = &now
		})
}

func (t *memTx) GetOrder(_ context.Context, orderID string) (Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	o.Lines = append([]OrderLine(nil), o.Lines...)
	return o, nil
}

func (t *memTx) FindOrderByExternalID(ctx context.Context, externalID string) (Order, error) {
	id, ok := t.st.byExternalID[externalID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return t.GetOrder(ctx, id)
}

func (t *memTx) LockOrder(ctx context.Context, orderID string) (Order, error) {
	return t.GetOrder(ctx, orderID)
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if _, dup := t.st.orders[o.ID]; dup {
		return ErrAlreadyExists
	}
	if o.ExternalID != "" {
		if _, dup := t.st.byExternalID[o.ExternalID]; dup {
			return ErrAlreadyExists
		}
		t.st.byExternalID[o.ExternalID] = o.ID
	}
	now := t.now()
	o.CreatedAt, o.UpdatedAt = now, now
	stored := *o
	stored.Lines = append([]OrderLine(nil), o.Lines...)
	t.st.orders[o.ID] = stored
	return nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID string, status Status, payment PaymentStatus) (Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	o.OrderStatus = status
	o.PaymentStatus = payment
	o.UpdatedAt = t.now()
	t.st.orders[orderID] = o
	return t.GetOrder(ctx, orderID)
}
