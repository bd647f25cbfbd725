package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/lifecycle"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	srv   *httptest.Server
	redis *miniredis.Miniredis
	store *orders.MemStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := orders.NewMemStore()
	require.NoError(t, st.PutProduct(context.Background(), orders.Product{ID: "P", Name: "Tee", TotalStock: 5, Price: decimal.RequireFromString("10.00")}))

	log := zap.NewNop()
	svc := &lifecycle.Service{
		Store:     st,
		Inventory: &inventory.Service{Store: st, Log: log},
		Log:       log,
	}
	cache := &redisx.OrderCache{RDB: rdb}
	router := NewRouter(log, 0)
	(&OrdersHandler{Service: svc, Cache: cache, Idempotency: &redisx.Idempotency{RDB: rdb}, Log: log}).Register(router)
	(&AdminHandler{Service: svc, Cache: cache, Log: log}).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, redis: mr, store: st}
}

type caller struct {
	userID string
	role   string
}

var (
	anon  = caller{}
	alice = caller{userID: "alice"}
	bob   = caller{userID: "bob"}
	admin = caller{userID: "ops", role: "admin"}
)

func (ts *testServer) do(t *testing.T, c caller, method, path string, body any, hdr ...string) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set(HeaderUserID, c.userID)
	}
	if c.role != "" {
		req.Header.Set(HeaderUserRole, c.role)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func (ts *testServer) placeOrder(t *testing.T, c caller, qty int) lifecycle.OrderView {
	t.Helper()
	resp, body := ts.do(t, c, http.MethodPost, "/orders", CreateOrderReq{
		Customer: orders.Customer{Name: "Ana"},
		Items:    []orders.ItemInput{{ProductID: "P", Quantity: qty}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	return decode[CreateOrderResp](t, body).Order
}

func TestCheckStock(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, anon, http.MethodPost, "/inventory/check-stock", CheckStockReq{ProductID: "P", RequestedQty: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[inventory.StockCheck](t, body)
	assert.True(t, got.HasStock)
	assert.Equal(t, 5, got.AvailableStock)

	ts.placeOrder(t, alice, 3)
	_, body = ts.do(t, anon, http.MethodPost, "/inventory/check-stock", CheckStockReq{ProductID: "P", RequestedQty: 3})
	got = decode[inventory.StockCheck](t, body)
	assert.False(t, got.HasStock)
	assert.Equal(t, 2, got.AvailableStock)

	resp, body = ts.do(t, anon, http.MethodPost, "/inventory/check-stock", CheckStockReq{ProductID: "P", RequestedQty: 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decode[errorResp](t, body).Error)

	resp, _ = ts.do(t, anon, http.MethodPost, "/inventory/check-stock", CheckStockReq{ProductID: "nope", RequestedQty: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateOrder(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, anon, http.MethodPost, "/orders", CreateOrderReq{Items: []orders.ItemInput{{ProductID: "P", Quantity: 1}}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	view := ts.placeOrder(t, alice, 2)
	assert.Equal(t, "alice", view.UserID)
	assert.Equal(t, orders.StatusPendingConfirmation, view.DisplayStatus)
	require.Len(t, view.Reservations, 1)
	assert.Equal(t, orders.ReservationActive, view.Reservations[0].Status)

	resp, body := ts.do(t, alice, http.MethodPost, "/orders", CreateOrderReq{Items: []orders.ItemInput{{ProductID: "P", Quantity: 4}}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_stock", decode[errorResp](t, body).Error)
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	ts := newTestServer(t)
	req := CreateOrderReq{Items: []orders.ItemInput{{ProductID: "P", Quantity: 2}}}

	resp, body := ts.do(t, alice, http.MethodPost, "/orders", req, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[CreateOrderResp](t, body)
	assert.True(t, ts.redis.Exists("idem:order:create:k-1"))

	resp, body = ts.do(t, alice, http.MethodPost, "/orders", req, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decode[CreateOrderResp](t, body)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Order.ID, again.Order.ID)

	// redis lost the key; the database still knows the external id
	ts.redis.FlushAll()
	resp, body = ts.do(t, alice, http.MethodPost, "/orders", req, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.Order.ID, decode[CreateOrderResp](t, body).Order.ID)

	resp, _ = ts.do(t, bob, http.MethodPost, "/orders", req, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, body = ts.do(t, anon, http.MethodPost, "/inventory/check-stock", CheckStockReq{ProductID: "P", RequestedQty: 1})
	assert.Equal(t, 3, decode[inventory.StockCheck](t, body).AvailableStock)
}

func TestGetOrder_OwnerOrAdmin(t *testing.T) {
	ts := newTestServer(t)
	view := ts.placeOrder(t, alice, 1)
	path := "/orders/" + view.ID

	resp, _ := ts.do(t, alice, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, ts.redis.Exists("order_view:"+view.ID))

	// served from cache, still owner-checked
	resp, _ = ts.do(t, bob, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, admin, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, alice, http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_RequiresRole(t *testing.T) {
	ts := newTestServer(t)
	view := ts.placeOrder(t, alice, 1)

	resp, body := ts.do(t, anon, http.MethodPost, "/admin/orders/"+view.ID+"/mark-paid", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode[errorResp](t, body).Error)

	resp, _ = ts.do(t, alice, http.MethodPost, "/admin/orders/"+view.ID+"/mark-paid", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, body = ts.do(t, anon, http.MethodPost, "/inventory/check-stock", CheckStockReq{ProductID: "P", RequestedQty: 1})
	assert.Equal(t, 4, decode[inventory.StockCheck](t, body).AvailableStock)
}

func TestAdmin_MarkPaidInvalidatesCache(t *testing.T) {
	ts := newTestServer(t)
	view := ts.placeOrder(t, alice, 3)
	ts.do(t, alice, http.MethodGet, "/orders/"+view.ID, nil)
	require.True(t, ts.redis.Exists("order_view:"+view.ID))

	resp, body := ts.do(t, admin, http.MethodPost, "/admin/orders/"+view.ID+"/mark-paid", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	out := decode[OrderActionResp](t, body)
	assert.True(t, out.Success)
	assert.Equal(t, orders.StatusPaid, out.Order.OrderStatus)
	assert.Equal(t, orders.PaymentPaid, out.Order.PaymentStatus)
	assert.False(t, ts.redis.Exists("order_view:"+view.ID))

	_, body = ts.do(t, alice, http.MethodGet, "/orders/"+view.ID, nil)
	got := decode[lifecycle.OrderView](t, body)
	assert.Equal(t, orders.StatusPaid, got.DisplayStatus)
	assert.Equal(t, orders.ReservationConsumed, got.Reservations[0].Status)

	resp, body = ts.do(t, admin, http.MethodPost, "/admin/orders/"+view.ID+"/mark-paid", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_paid", decode[errorResp](t, body).Error)

	resp, body = ts.do(t, anon, http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ps := decode[[]lifecycle.ProductStock](t, body)
	require.Len(t, ps, 1)
	assert.Equal(t, 2, ps[0].TotalStock)
}

func TestGetOrder_StaleFillAfterMutationIsRejected(t *testing.T) {
	ts := newTestServer(t)
	view := ts.placeOrder(t, alice, 1)
	cache := &redisx.OrderCache{RDB: redis.NewClient(&redis.Options{Addr: ts.redis.Addr()})}
	t.Cleanup(func() { _ = cache.RDB.Close() })

	// a slow reader captured the generation and the pre-payment view
	gen, err := cache.Generation(context.Background(), view.ID)
	require.NoError(t, err)
	stale, err := json.Marshal(view)
	require.NoError(t, err)

	resp, _ := ts.do(t, admin, http.MethodPost, "/admin/orders/"+view.ID+"/mark-paid", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := cache.SetIfGeneration(context.Background(), view.ID, gen, stale)
	require.NoError(t, err)
	assert.False(t, stored)

	_, body := ts.do(t, alice, http.MethodGet, "/orders/"+view.ID, nil)
	assert.Equal(t, orders.StatusPaid, decode[lifecycle.OrderView](t, body).DisplayStatus)
}

func TestAdmin_ChangeStatusAndCancel(t *testing.T) {
	ts := newTestServer(t)
	view := ts.placeOrder(t, alice, 2)
	base := "/admin/orders/" + view.ID

	resp, body := ts.do(t, admin, http.MethodPost, base+"/change-status", ChangeStatusReq{NewStatus: orders.StatusPaid})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", decode[errorResp](t, body).Error)

	resp, _ = ts.do(t, admin, http.MethodPost, base+"/change-status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, admin, http.MethodPost, base+"/change-status", ChangeStatusReq{NewStatus: orders.StatusPendingPayment})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.do(t, admin, http.MethodGet, base+"/next-statuses", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ns := decode[NextStatusesResp](t, body)
	assert.Equal(t, []orders.Status{orders.StatusCancelled}, ns.NextStatuses)
	assert.True(t, ns.CanMarkPaid)
	assert.True(t, ns.CanCancel)

	resp, body = ts.do(t, admin, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, orders.StatusCancelled, decode[OrderActionResp](t, body).Order.OrderStatus)

	resp, body = ts.do(t, admin, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "order_cancelled", decode[errorResp](t, body).Error)

	_, body = ts.do(t, anon, http.MethodPost, "/inventory/check-stock", CheckStockReq{ProductID: "P", RequestedQty: 1})
	assert.Equal(t, 5, decode[inventory.StockCheck](t, body).AvailableStock)

	resp, _ = ts.do(t, admin, http.MethodPost, "/admin/orders/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_Stock(t *testing.T) {
	ts := newTestServer(t)
	ts.placeOrder(t, alice, 2)

	resp, body := ts.do(t, admin, http.MethodPut, "/admin/products/P/stock", map[string]int{"totalStock": 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_stock", decode[errorResp](t, body).Error)

	resp, _ = ts.do(t, admin, http.MethodPut, "/admin/products/P/stock", map[string]int{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, admin, http.MethodPut, "/admin/products/P/stock", map[string]int{"totalStock": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 5, decode[lifecycle.ProductStock](t, body).AvailableStock)

	resp, body = ts.do(t, admin, http.MethodPost, "/admin/products/P/stock/receive", ReceiveStockReq{Quantity: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 10, decode[lifecycle.ProductStock](t, body).TotalStock)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, anon, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}
