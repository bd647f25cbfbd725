package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/lifecycle"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// OrderCache is satisfied by *redisx.OrderCache.
type OrderCache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool, error)
	Generation(ctx context.Context, orderID string) (int64, error)
	SetIfGeneration(ctx context.Context, orderID string, gen int64, body []byte) (bool, error)
	Invalidate(ctx context.Context, orderID string) error
}

// IdempotencyStore is satisfied by *redisx.Idempotency.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (string, error)
	Remember(ctx context.Context, key, orderID string) error
}

// OrdersHandler serves the shopper-facing endpoints.
type OrdersHandler struct {
	Service     *lifecycle.Service
	Cache       OrderCache       // optional
	Idempotency IdempotencyStore // optional
	Log         *zap.Logger
	Timeout     time.Duration
}

type CheckStockReq struct {
	ProductID    string  `json:"productId"`
	RequestedQty int     `json:"requestedQty"`
	Color        *string `json:"color"`
	Size         *string `json:"size"`
	Material     *string `json:"material"`
}

type CreateOrderReq struct {
	ExternalID string             `json:"externalId"`
	Customer   orders.Customer    `json:"customer"`
	Items      []orders.ItemInput `json:"items"`
}

type CreateOrderResp struct {
	Order      lifecycle.OrderView `json:"order"`
	Idempotent bool                `json:"idempotent"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/inventory/check-stock", h.checkStock)
	r.Get("/products", h.listProducts)
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{orderId}", h.getOrder)
	})
}

func requestContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx := lifecycle.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	return context.WithTimeout(ctx, timeout)
}

func (h *OrdersHandler) checkStock(w http.ResponseWriter, r *http.Request) {
	var req CheckStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, orders.Code(orders.ErrValidation), "invalid json")
		return
	}

	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	res, err := h.Service.CheckStock(ctx, req.ProductID, req.RequestedQty,
		orders.NewVariantKey(req.Color, req.Size, req.Material))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	ps, err := h.Service.ListProducts(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, orders.Code(orders.ErrValidation), "invalid json")
		return
	}
	if req.ExternalID == "" {
		req.ExternalID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	if len(req.Items) == 0 {
		writeErr(w, http.StatusBadRequest, orders.Code(orders.ErrValidation), "missing items")
		return
	}

	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	// Fast-path idempotency via Redis; DB tetap jadi kebenaran
	if req.ExternalID != "" && h.Idempotency != nil {
		if id, err := h.Idempotency.Lookup(ctx, req.ExternalID); err != nil {
			h.Log.Warn("idempotency lookup failed", zap.Error(err))
		} else if id != "" {
			if view, err := h.Service.GetOrder(ctx, id); err == nil && view.UserID == p.UserID {
				writeJSON(w, http.StatusOK, CreateOrderResp{Order: view, Idempotent: true})
				return
			}
		}
	}

	res, err := h.Service.PlaceOrder(ctx, lifecycle.PlaceOrderInput{
		ExternalID: req.ExternalID,
		UserID:     p.UserID,
		Customer:   req.Customer,
		Items:      req.Items,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if res.Existed && res.Order.UserID != p.UserID {
		writeErr(w, http.StatusConflict, orders.Code(orders.ErrAlreadyExists), "idempotency key already used")
		return
	}

	if req.ExternalID != "" && h.Idempotency != nil {
		if err := h.Idempotency.Remember(ctx, req.ExternalID, res.Order.ID); err != nil {
			h.Log.Warn("idempotency remember failed", zap.Error(err))
		}
	}

	view, err := h.Service.GetOrder(ctx, res.Order.ID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	code := http.StatusCreated
	if res.Existed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{Order: view, Idempotent: res.Existed})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	orderID := chi.URLParam(r, "orderId")

	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	// 1) coba cache
	gen, cacheable := int64(0), false
	if h.Cache != nil {
		if b, ok, err := h.Cache.Get(ctx, orderID); err != nil {
			h.Log.Warn("order cache get failed", zap.String("order_id", orderID), zap.Error(err))
		} else if ok {
			var view lifecycle.OrderView
			if err := json.Unmarshal(b, &view); err == nil {
				h.writeOwnedOrder(w, p, view)
				return
			}
		}
		// generasi dibaca sebelum DB, supaya invalidate di antaranya terdeteksi
		if g, err := h.Cache.Generation(ctx, orderID); err != nil {
			h.Log.Warn("order cache generation failed", zap.String("order_id", orderID), zap.Error(err))
		} else {
			gen, cacheable = g, true
		}
	}

	// 2) fallback DB
	view, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if cacheable {
		if b, err := json.Marshal(view); err == nil {
			if _, err := h.Cache.SetIfGeneration(ctx, orderID, gen, b); err != nil {
				h.Log.Warn("order cache set failed", zap.String("order_id", orderID), zap.Error(err))
			}
		}
	}
	h.writeOwnedOrder(w, p, view)
}

// Other users' orders are reported as missing rather than forbidden.
func (h *OrdersHandler) writeOwnedOrder(w http.ResponseWriter, p Principal, view lifecycle.OrderView) {
	if !p.IsAdmin && view.UserID != p.UserID {
		writeError(w, h.Log, orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func invalidate(ctx context.Context, c OrderCache, log *zap.Logger, orderID string) {
	if c == nil {
		return
	}
	if err := c.Invalidate(ctx, orderID); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("order cache invalidate failed", zap.String("order_id", orderID), zap.Error(err))
	}
}
