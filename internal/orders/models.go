package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	TotalStock int             `json:"totalStock"`
	Price      decimal.Decimal `json:"price"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Customer is the shipping/contact snapshot taken at checkout.
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type Order struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"externalId,omitempty"`
	UserID        string          `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	OrderStatus   Status          `json:"orderStatus"` // lihat status.go
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	Customer      Customer        `json:"customer"`
	Lines         []OrderLine     `json:"items"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// OrderLine keeps the price the product had when the order was placed.
type OrderLine struct {
	ProductID string          `json:"productId"`
	Variant   VariantKey      `json:"variant"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
)

type Reservation struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"orderId"`
	ProductID   string            `json:"productId"`
	Variant     VariantKey        `json:"variant"`
	Quantity    int               `json:"quantity"`
	Status      ReservationStatus `json:"status"`
	RestockedAt *time.Time        `json:"restockedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ItemInput is one cart line as submitted at checkout.
type ItemInput struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Color     *string `json:"color,omitempty"`
	Size      *string `json:"size,omitempty"`
	Material  *string `json:"material,omitempty"`
}

func (it ItemInput) Variant() VariantKey {
	return NewVariantKey(it.Color, it.Size, it.Material)
}
