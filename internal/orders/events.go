package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderPaid          = "OrderPaid"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
)

// Kafka headers copied from the envelope so consumers can filter without decoding.
const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "storefront-orders"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string     `json:"product_id"`
	Variant   VariantKey `json:"variant"`
	Qty       int        `json:"qty"`
	Price     string     `json:"price"`
}

// OrderEventPayload is shared by every lifecycle event; PreviousStatus is empty for OrderPlaced.
type OrderEventPayload struct {
	OrderID        string        `json:"order_id"`
	ExternalID     string        `json:"external_id,omitempty"`
	UserID         string        `json:"user_id"`
	OrderStatus    Status        `json:"order_status"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	PreviousStatus Status        `json:"previous_status,omitempty"`
	Amount         string        `json:"amount"`
	Customer       Customer      `json:"customer"`
	Items          []ItemQty     `json:"items"`
	// jumlah reservasi yang disentuh oleh transisi ini
	ReservationsConsumed  int `json:"reservations_consumed,omitempty"`
	ReservationsReleased  int `json:"reservations_released,omitempty"`
	ReservationsRestocked int `json:"reservations_restocked,omitempty"`
}

func NewOrderEventPayload(o Order, prev Status) OrderEventPayload {
	items := make([]ItemQty, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, ItemQty{ProductID: l.ProductID, Variant: l.Variant, Qty: l.Quantity, Price: l.Price.String()})
	}
	return OrderEventPayload{
		OrderID:        o.ID,
		ExternalID:     o.ExternalID,
		UserID:         o.UserID,
		OrderStatus:    o.OrderStatus,
		PaymentStatus:  o.PaymentStatus,
		PreviousStatus: prev,
		Amount:         o.Amount.StringFixed(2),
		Customer:       o.Customer,
		Items:          items,
	}
}
