package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service composes the reservation engine and the status machine. Every
// mutating operation runs in one store transaction; events go out after commit.
type Service struct {
	Store       orders.Store
	Inventory   *inventory.Service
	Events      Publisher // optional
	Log         *zap.Logger
	ServiceName string
}

type PlaceOrderInput struct {
	ExternalID string
	UserID     string
	Customer   orders.Customer
	Items      []orders.ItemInput
}

type PlaceOrderResult struct {
	Order   orders.Order
	Existed bool
}

// OrderView is the read model handed to the display layer.
type OrderView struct {
	orders.Order
	DisplayStatus  orders.Status        `json:"displayStatus"`
	Desynchronized bool                 `json:"desynchronized"`
	NextStatuses   []orders.Status      `json:"nextStatuses"`
	CanMarkPaid    bool                 `json:"canMarkPaid"`
	CanCancel      bool                 `json:"canCancel"`
	Reservations   []orders.Reservation `json:"reservations"`
}

type ProductStock struct {
	orders.Product
	AvailableStock int `json:"availableStock"`
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// PlaceOrder: idempotent via external_id. Prices come from the products
// table, never from the client, and stock is reserved in the same transaction.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (PlaceOrderResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return PlaceOrderResult{}, orders.Validationf("userId is required")
	}
	if len(in.Items) == 0 {
		return PlaceOrderResult{}, orders.Validationf("order has no items")
	}
	items := orders.MergeLines(in.Items)

	var res PlaceOrderResult
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if in.ExternalID != "" {
			existing, err := tx.FindOrderByExternalID(ctx, in.ExternalID)
			if err == nil {
				res = PlaceOrderResult{Order: existing, Existed: true}
				return nil
			}
			if !errors.Is(err, orders.ErrOrderNotFound) {
				return err
			}
		}

		ids := make([]string, 0, len(items))
		for _, it := range items {
			if it.ProductID == "" {
				return orders.Validationf("item without productId")
			}
			if it.Quantity <= 0 {
				return orders.Validationf("invalid quantity %d for product %s", it.Quantity, it.ProductID)
			}
			ids = append(ids, it.ProductID)
		}
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		o := orders.Order{
			ID:            uuid.NewString(),
			ExternalID:    in.ExternalID,
			UserID:        in.UserID,
			OrderStatus:   orders.StatusPendingConfirmation,
			PaymentStatus: orders.PaymentUnpaid,
			Customer:      in.Customer,
			Amount:        decimal.Zero,
		}
		for _, it := range items {
			price := products[it.ProductID].Price
			o.Lines = append(o.Lines, orders.OrderLine{
				ProductID: it.ProductID,
				Variant:   it.Variant(),
				Quantity:  it.Quantity,
				Price:     price,
			})
			o.Amount = o.Amount.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		if _, err := s.Inventory.ReserveInTx(ctx, tx, o.ID, items); err != nil {
			return err
		}
		res = PlaceOrderResult{Order: o}
		return nil
	})
	if errors.Is(err, orders.ErrAlreadyExists) && in.ExternalID != "" {
		// kalah balapan dengan request yang sama: ambil order yang sudah ada
		o, ferr := s.findByExternalID(ctx, in.ExternalID)
		if ferr != nil {
			return PlaceOrderResult{}, ferr
		}
		return PlaceOrderResult{Order: o, Existed: true}, nil
	}
	if err != nil {
		s.log().Warn("place order failed", zap.String("external_id", in.ExternalID), zap.Error(err))
		return PlaceOrderResult{}, err
	}

	if !res.Existed {
		s.log().Info("order placed",
			zap.String("order_id", res.Order.ID),
			zap.String("user_id", res.Order.UserID),
			zap.String("amount", res.Order.Amount.StringFixed(2)))
		s.publish(ctx, orders.EventOrderPlaced, orders.NewOrderEventPayload(res.Order, ""))
	}
	return res, nil
}

func (s *Service) findByExternalID(ctx context.Context, externalID string) (orders.Order, error) {
	var o orders.Order
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		var err error
		o, err = tx.FindOrderByExternalID(ctx, externalID)
		return err
	})
	return o, err
}

// MarkPaid consumes whatever active reservations remain and sets both status
// fields to paid, whatever order_status was before. It looks at the reservations rather than order_status, so an
// order already (wrongly) marked paid still gets its stock deducted.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (orders.Order, error) {
	var (
		out      orders.Order
		prev     orders.Status
		consumed int
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.OrderStatus == orders.StatusCancelled {
			return fmt.Errorf("%w: cannot mark order %s as paid", orders.ErrOrderCancelled, orderID)
		}
		if o.PaymentStatus == orders.PaymentPaid {
			return fmt.Errorf("%w: %s", orders.ErrAlreadyPaid, orderID)
		}
		prev = o.OrderStatus

		if consumed, err = s.Inventory.ConsumeInTx(ctx, tx, orderID); err != nil {
			return err
		}

		// selalu paid/paid, apapun order_status sebelumnya
		out, err = tx.UpdateOrderStatus(ctx, orderID, orders.StatusPaid, orders.PaymentPaid)
		return err
	})
	if err != nil {
		s.log().Warn("mark paid failed", zap.String("order_id", orderID), zap.Error(err))
		return orders.Order{}, err
	}

	s.log().Info("order marked paid",
		zap.String("order_id", orderID),
		zap.String("previous_status", string(prev)),
		zap.Int("reservations_consumed", consumed))
	p := orders.NewOrderEventPayload(out, prev)
	p.ReservationsConsumed = consumed
	s.publish(ctx, orders.EventOrderPaid, p)
	return out, nil
}

// Cancel releases active reservations and returns consumed stock, then moves
// the order to cancelled. Shipped orders are refused: the goods have left.
func (s *Service) Cancel(ctx context.Context, orderID string) (orders.Order, error) {
	var (
		out                 orders.Order
		prev                orders.Status
		released, restocked int
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		switch o.OrderStatus {
		case orders.StatusCancelled:
			return fmt.Errorf("%w: %s", orders.ErrOrderCancelled, orderID)
		case orders.StatusShipped:
			return fmt.Errorf("%w: order %s is already shipped", orders.ErrCannotCancelPaidOrder, orderID)
		}
		if !orders.CanTransition(o.OrderStatus, orders.StatusCancelled) {
			return &orders.TransitionError{From: o.OrderStatus, To: orders.StatusCancelled}
		}
		prev = o.OrderStatus

		if released, err = s.Inventory.ReleaseInTx(ctx, tx, orderID); err != nil {
			return err
		}
		if restocked, err = s.Inventory.RefundInTx(ctx, tx, orderID); err != nil {
			return err
		}
		out, err = tx.UpdateOrderStatus(ctx, orderID, orders.StatusCancelled, o.PaymentStatus)
		return err
	})
	if err != nil {
		s.log().Warn("cancel failed", zap.String("order_id", orderID), zap.Error(err))
		return orders.Order{}, err
	}

	s.log().Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("previous_status", string(prev)),
		zap.Int("reservations_released", released),
		zap.Int("reservations_restocked", restocked))
	p := orders.NewOrderEventPayload(out, prev)
	p.ReservationsReleased = released
	p.ReservationsRestocked = restocked
	s.publish(ctx, orders.EventOrderCancelled, p)
	return out, nil
}

// ChangeStatus moves order_status along the transition table without any
// ledger side effect. paid and cancelled have dedicated operations.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, next orders.Status) (orders.Order, error) {
	if !next.Valid() {
		return orders.Order{}, orders.Validationf("unknown status %q", next)
	}

	var (
		out  orders.Order
		prev orders.Status
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		prev = o.OrderStatus
		if next == orders.StatusPaid || next == orders.StatusCancelled || !orders.CanTransition(o.OrderStatus, next) {
			return &orders.TransitionError{From: o.OrderStatus, To: next}
		}
		out, err = tx.UpdateOrderStatus(ctx, orderID, next, o.PaymentStatus)
		return err
	})
	if err != nil {
		s.log().Warn("change status failed", zap.String("order_id", orderID), zap.String("to", string(next)), zap.Error(err))
		return orders.Order{}, err
	}

	s.log().Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
	s.publish(ctx, orders.EventOrderStatusChanged, orders.NewOrderEventPayload(out, prev))
	return out, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (OrderView, error) {
	var v OrderView
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		rs, err := tx.ListReservations(ctx, orderID)
		if err != nil {
			return err
		}
		v = NewOrderView(o, rs)
		return nil
	})
	return v, err
}

func NewOrderView(o orders.Order, rs []orders.Reservation) OrderView {
	if rs == nil {
		rs = []orders.Reservation{}
	}
	return OrderView{
		Order:          o,
		DisplayStatus:  orders.EffectiveStatus(o),
		Desynchronized: orders.Desynchronized(o),
		NextStatuses:   orders.ValidNextStatuses(o.OrderStatus),
		CanMarkPaid:    o.OrderStatus != orders.StatusCancelled && o.PaymentStatus != orders.PaymentPaid,
		CanCancel:      o.OrderStatus != orders.StatusShipped && orders.CanTransition(o.OrderStatus, orders.StatusCancelled),
		Reservations:   rs,
	}
}

func (s *Service) CheckStock(ctx context.Context, productID string, qty int, key orders.VariantKey) (inventory.StockCheck, error) {
	return s.Inventory.CheckAvailableStock(ctx, productID, qty, key)
}

func (s *Service) ListProducts(ctx context.Context) ([]ProductStock, error) {
	var out []ProductStock
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		ps, err := tx.ListProducts(ctx)
		if err != nil {
			return err
		}
		out = make([]ProductStock, 0, len(ps))
		for _, p := range ps {
			reserved, err := tx.SumActiveReservedForProduct(ctx, p.ID)
			if err != nil {
				return err
			}
			avail := p.TotalStock - reserved
			if avail < 0 {
				avail = 0
			}
			out = append(out, ProductStock{Product: p, AvailableStock: avail})
		}
		return nil
	})
	return out, err
}

// SetStock overwrites total stock. It refuses to go below what is currently
// reserved, otherwise available stock would turn negative.
func (s *Service) SetStock(ctx context.Context, productID string, total int) (ProductStock, error) {
	if total < 0 {
		return ProductStock{}, orders.Validationf("totalStock cannot be negative, got %d", total)
	}
	return s.adjustStock(ctx, productID, func(ctx context.Context, tx orders.Tx, reserved int) error {
		if total < reserved {
			return &orders.InsufficientStockError{ProductID: productID, Requested: reserved, Available: total}
		}
		return tx.SetTotalStock(ctx, productID, total)
	})
}

func (s *Service) ReceiveStock(ctx context.Context, productID string, qty int) (ProductStock, error) {
	if qty <= 0 {
		return ProductStock{}, orders.Validationf("quantity must be positive, got %d", qty)
	}
	return s.adjustStock(ctx, productID, func(ctx context.Context, tx orders.Tx, _ int) error {
		return tx.IncrementStock(ctx, productID, qty)
	})
}

func (s *Service) adjustStock(ctx context.Context, productID string, fn func(ctx context.Context, tx orders.Tx, reserved int) error) (ProductStock, error) {
	var out ProductStock
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if _, err := tx.LockProducts(ctx, []string{productID}); err != nil {
			return err
		}
		reserved, err := tx.SumActiveReservedForProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, reserved); err != nil {
			return err
		}
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		out = ProductStock{Product: p, AvailableStock: p.TotalStock - reserved}
		return nil
	})
	if err != nil {
		return ProductStock{}, err
	}
	s.log().Info("stock adjusted",
		zap.String("product_id", productID),
		zap.Int("total_stock", out.TotalStock),
		zap.Int("available_stock", out.AvailableStock))
	return out, nil
}

func (s *Service) publish(ctx context.Context, eventType string, p orders.OrderEventPayload) {
	if s.Events == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       TraceID(ctx),
		CorrelationID: p.OrderID,
		Payload:       kafkax.MustMarshal(p),
	}
	s.Events.Publish(orders.PartitionKey(p.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: orders.HeaderEventType, Value: []byte(eventType)},
		kafkago.Header{Key: orders.HeaderEventVersion, Value: []byte("1")},
	)
}

type traceKey struct{}

// WithTraceID attaches the request id that ends up as the event trace_id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
