package orders

type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusPendingPayment      Status = "pending_payment"
	StatusPaid                Status = "paid"
	StatusProcessing          Status = "processing"
	StatusShipped             Status = "shipped"
	StatusDelivered           Status = "delivered"
	StatusCancelled           Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPaid              PaymentStatus = "paid"
	PaymentNoPaymentRequired PaymentStatus = "no_payment_required"
)

// Edges into paid and cancelled exist in the table but are only taken by
// MarkPaid and Cancel, which carry the inventory side effects.
var validNext = map[Status][]Status{
	StatusPendingConfirmation: {StatusPendingPayment, StatusCancelled},
	StatusPendingPayment:      {StatusCancelled},
	StatusPaid:                {StatusProcessing, StatusCancelled},
	StatusProcessing:          {StatusShipped, StatusCancelled},
	StatusShipped:             {StatusDelivered, StatusCancelled},
	StatusDelivered:           {},
	StatusCancelled:           {},
}

func CanTransition(from, to Status) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidNextStatuses returns a copy of the allowed targets of from.
func ValidNextStatuses(from Status) []Status {
	return append([]Status(nil), validNext[from]...)
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentUnpaid, PaymentPaid, PaymentNoPaymentRequired:
		return true
	}
	return false
}

// EffectiveStatus is the status shown to readers. An order marked paid whose
// payment_status disagrees is presented as pending_payment; this is the only
// place the drift between the two fields is corrected.
func EffectiveStatus(o Order) Status {
	if o.OrderStatus == StatusPaid && o.PaymentStatus != PaymentPaid {
		return StatusPendingPayment
	}
	return o.OrderStatus
}

// Desynchronized reports whether order_status and payment_status disagree about payment.
func Desynchronized(o Order) bool {
	return EffectiveStatus(o) != o.OrderStatus
}
