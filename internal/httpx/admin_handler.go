package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/lifecycle"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler serves the back-office order and stock endpoints.
type AdminHandler struct {
	Service *lifecycle.Service
	Cache   OrderCache // optional
	Log     *zap.Logger
	Timeout time.Duration
}

type NextStatusesResp struct {
	CurrentStatus orders.Status   `json:"currentStatus"`
	DisplayStatus orders.Status   `json:"displayStatus"`
	NextStatuses  []orders.Status `json:"nextStatuses"`
	CanMarkPaid   bool            `json:"canMarkPaid"`
	CanCancel     bool            `json:"canCancel"`
}

type ChangeStatusReq struct {
	NewStatus orders.Status `json:"newStatus"`
}

type SetStockReq struct {
	TotalStock *int `json:"totalStock"`
}

type ReceiveStockReq struct {
	Quantity int `json:"quantity"`
}

type OrderActionResp struct {
	Success bool         `json:"success"`
	Order   orders.Order `json:"order"`
	Message string       `json:"message,omitempty"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Get("/orders/{orderId}", h.getOrder)
		r.Get("/orders/{orderId}/next-statuses", h.nextStatuses)
		r.Post("/orders/{orderId}/mark-paid", h.markPaid)
		r.Post("/orders/{orderId}/cancel", h.cancel)
		r.Post("/orders/{orderId}/change-status", h.changeStatus)
		r.Put("/products/{productId}/stock", h.setStock)
		r.Post("/products/{productId}/stock/receive", h.receiveStock)
	})
}

func (h *AdminHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	view, err := h.Service.GetOrder(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// nextStatuses backs the admin status picker.
func (h *AdminHandler) nextStatuses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	view, err := h.Service.GetOrder(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, NextStatusesResp{
		CurrentStatus: view.OrderStatus,
		DisplayStatus: view.DisplayStatus,
		NextStatuses:  view.NextStatuses,
		CanMarkPaid:   view.CanMarkPaid,
		CanCancel:     view.CanCancel,
	})
}

func (h *AdminHandler) markPaid(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	o, err := h.Service.MarkPaid(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	invalidate(ctx, h.Cache, h.Log, orderID)
	writeJSON(w, http.StatusOK, OrderActionResp{Success: true, Order: o, Message: "order marked as paid and stock deducted"})
}

func (h *AdminHandler) cancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	o, err := h.Service.Cancel(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	invalidate(ctx, h.Cache, h.Log, orderID)
	writeJSON(w, http.StatusOK, OrderActionResp{Success: true, Order: o, Message: "order cancelled and reservations released"})
}

func (h *AdminHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req ChangeStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewStatus == "" {
		writeErr(w, http.StatusBadRequest, orders.Code(orders.ErrValidation), "newStatus is required")
		return
	}

	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	o, err := h.Service.ChangeStatus(ctx, orderID, req.NewStatus)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	invalidate(ctx, h.Cache, h.Log, orderID)
	writeJSON(w, http.StatusOK, OrderActionResp{Success: true, Order: o})
}

func (h *AdminHandler) setStock(w http.ResponseWriter, r *http.Request) {
	var req SetStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TotalStock == nil {
		writeErr(w, http.StatusBadRequest, orders.Code(orders.ErrValidation), "totalStock is required")
		return
	}

	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	ps, err := h.Service.SetStock(ctx, chi.URLParam(r, "productId"), *req.TotalStock)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *AdminHandler) receiveStock(w http.ResponseWriter, r *http.Request) {
	var req ReceiveStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, orders.Code(orders.ErrValidation), "invalid json")
		return
	}

	ctx, cancel := requestContext(r, h.Timeout)
	defer cancel()

	ps, err := h.Service.ReceiveStock(ctx, chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Info("stock received", zap.String("product_id", ps.ID), zap.Int("quantity", req.Quantity))
	writeJSON(w, http.StatusOK, ps)
}
