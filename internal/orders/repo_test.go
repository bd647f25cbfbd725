package orders_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/lifecycle"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Runs against a real database only when POSTGRES_TEST_DSN is set.
func newTestRepo(t *testing.T) *orders.Repo {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	db, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, postgres.Migrate(ctx, db))
	return &orders.Repo{DB: db}
}

func TestRepo_OrderAndReservationRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	productID := "p-" + uuid.NewString()
	require.NoError(t, repo.PutProduct(ctx, orders.Product{ID: productID, Name: "Tee", TotalStock: 5, Price: decimal.RequireFromString("12.50")}))

	red := "red"
	o := orders.Order{
		ID:            uuid.NewString(),
		ExternalID:    "ext-" + uuid.NewString(),
		UserID:        "u1",
		Amount:        decimal.RequireFromString("25.00"),
		OrderStatus:   orders.StatusPendingConfirmation,
		PaymentStatus: orders.PaymentUnpaid,
		Customer:      orders.Customer{Name: "Ana", Phone: "+34 600"},
		Lines: []orders.OrderLine{{
			ProductID: productID,
			Variant:   orders.NewVariantKey(&red, nil, nil),
			Quantity:  2,
			Price:     decimal.RequireFromString("12.50"),
		}},
	}

	err := repo.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, &orders.Reservation{
			ID: uuid.NewString(), OrderID: o.ID, ProductID: productID,
			Variant: orders.NewVariantKey(&red, nil, nil), Quantity: 2, Status: orders.ReservationActive,
		})
	})
	require.NoError(t, err)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		got, err := tx.FindOrderByExternalID(ctx, o.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.True(t, got.Amount.Equal(o.Amount))
		assert.Equal(t, "Ana", got.Customer.Name)
		require.Len(t, got.Lines, 1)
		assert.Equal(t, "red", *got.Lines[0].Variant.Color)
		assert.Nil(t, got.Lines[0].Variant.Size)

		exact, err := tx.SumActiveReservedQuantity(ctx, productID, orders.NewVariantKey(&red, nil, nil))
		require.NoError(t, err)
		assert.Equal(t, 2, exact)
		none, err := tx.SumActiveReservedQuantity(ctx, productID, orders.VariantKey{})
		require.NoError(t, err)
		assert.Equal(t, 0, none)

		active, err := tx.ListActiveReservations(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.NoError(t, tx.MarkConsumed(ctx, active[0].ID))
		assert.ErrorIs(t, tx.MarkReleased(ctx, active[0].ID), orders.ErrInvalidReservationState)
		return nil
	})
	require.NoError(t, err)
}

func TestRepo_DuplicateExternalID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ext := "ext-" + uuid.NewString()

	insert := func() error {
		return repo.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
			return tx.InsertOrder(ctx, &orders.Order{
				ID: uuid.NewString(), ExternalID: ext, UserID: "u1", Amount: decimal.Zero,
				OrderStatus: orders.StatusPendingConfirmation, PaymentStatus: orders.PaymentUnpaid,
			})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), orders.ErrAlreadyExists)
}

func TestRepo_DecrementGuard(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	productID := "p-" + uuid.NewString()
	require.NoError(t, repo.PutProduct(ctx, orders.Product{ID: productID, Name: "Mug", TotalStock: 1, Price: decimal.NewFromInt(3)}))

	err := repo.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return tx.DecrementStock(ctx, productID, 2)
	})
	var ise *orders.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 1, ise.Available)
}

func insertOrder(t *testing.T, repo *orders.Repo) string {
	t.Helper()
	id := uuid.NewString()
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertOrder(ctx, &orders.Order{
			ID: id, UserID: "u1", Amount: decimal.Zero,
			OrderStatus: orders.StatusPendingConfirmation, PaymentStatus: orders.PaymentUnpaid,
		})
	})
	require.NoError(t, err)
	return id
}

func TestRepo_ConcurrentReserveNoOversell(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	const (
		stock  = 5
		buyers = 30
	)
	productID := "p-" + uuid.NewString()
	require.NoError(t, repo.PutProduct(ctx, orders.Product{ID: productID, Name: "Cap", TotalStock: stock, Price: decimal.NewFromInt(7)}))

	ids := make([]string, buyers)
	for i := range ids {
		ids[i] = insertOrder(t, repo)
	}
	inv := &inventory.Service{Store: repo, Log: zap.NewNop()}

	var (
		wg       sync.WaitGroup
		ok, fail atomic.Int32
		start    = make(chan struct{})
	)
	for _, id := range ids {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			<-start
			_, err := inv.Reserve(ctx, orderID, []orders.ItemInput{{ProductID: productID, Quantity: 1}})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, orders.ErrInsufficientStock):
				fail.Add(1)
			default:
				t.Errorf("reserve %s: %v", orderID, err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(stock), ok.Load())
	assert.Equal(t, int32(buyers-stock), fail.Load())

	err := repo.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		reserved, err := tx.SumActiveReservedForProduct(ctx, productID)
		require.NoError(t, err)
		total, err := tx.GetTotalStock(ctx, productID)
		require.NoError(t, err)
		assert.LessOrEqual(t, reserved, total)
		assert.Equal(t, stock, reserved)
		return nil
	})
	require.NoError(t, err)
}

func TestRepo_ConcurrentMarkPaidAndCancel(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	productID := "p-" + uuid.NewString()
	require.NoError(t, repo.PutProduct(ctx, orders.Product{ID: productID, Name: "Scarf", TotalStock: 5, Price: decimal.NewFromInt(20)}))

	svc := &lifecycle.Service{
		Store:     repo,
		Inventory: &inventory.Service{Store: repo, Log: zap.NewNop()},
		Log:       zap.NewNop(),
	}
	placed, err := svc.PlaceOrder(ctx, lifecycle.PlaceOrderInput{UserID: "u1", Items: []orders.ItemInput{{ProductID: productID, Quantity: 2}}})
	require.NoError(t, err)
	orderID := placed.Order.ID

	var (
		wg             sync.WaitGroup
		paidOK, cancOK atomic.Int32
		start          = make(chan struct{})
	)
	run := func(op func(context.Context, string) (orders.Order, error), counter *atomic.Int32) {
		defer wg.Done()
		<-start
		_, err := op(ctx, orderID)
		if err == nil {
			counter.Add(1)
			return
		}
		if !orders.IsBusinessError(err) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go run(svc.MarkPaid, &paidOK)
		go run(svc.Cancel, &cancOK)
	}
	close(start)
	wg.Wait()

	assert.LessOrEqual(t, paidOK.Load(), int32(1))
	assert.Equal(t, int32(1), cancOK.Load())

	view, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, view.OrderStatus)
	require.Len(t, view.Reservations, 1)
	r := view.Reservations[0]
	if paidOK.Load() == 1 {
		assert.Equal(t, orders.PaymentPaid, view.PaymentStatus)
		assert.Equal(t, orders.ReservationConsumed, r.Status)
		assert.NotNil(t, r.RestockedAt)
	} else {
		assert.Equal(t, orders.PaymentUnpaid, view.PaymentStatus)
		assert.Equal(t, orders.ReservationReleased, r.Status)
	}

	err = repo.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		total, err := tx.GetTotalStock(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		reserved, err := tx.SumActiveReservedForProduct(ctx, productID)
		require.NoError(t, err)
		assert.Zero(t, reserved)
		return nil
	})
	require.NoError(t, err)
}
