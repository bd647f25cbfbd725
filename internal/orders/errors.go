package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidReservationState = errors.New("invalid reservation state")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrAlreadyPaid             = errors.New("order already paid")
	ErrOrderCancelled          = errors.New("order is cancelled")
	ErrCannotCancelPaidOrder   = errors.New("order can no longer be cancelled")
	ErrOrderNotFound           = errors.New("order not found")
	ErrProductNotFound         = errors.New("product not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrValidation              = errors.New("validation failed")

	// ErrAlreadyExists is returned by stores when an external_id is already taken.
	ErrAlreadyExists = errors.New("order already exists")
)

// InsufficientStockError names the line that could not be satisfied.
type InsufficientStockError struct {
	ProductID string
	Variant   VariantKey
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s variant %s: available %d, requested %d",
		e.ProductID, e.Variant, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var codes = []struct {
	err  error
	code string
}{
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrInvalidReservationState, "invalid_reservation_state"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrAlreadyPaid, "already_paid"},
	{ErrOrderCancelled, "order_cancelled"},
	{ErrCannotCancelPaidOrder, "cannot_cancel_paid_order"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrProductNotFound, "product_not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrValidation, "validation_error"},
	{ErrAlreadyExists, "already_exists"},
}

// Code returns the stable snake_case identifier of err, or "internal_error".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}

// IsBusinessError reports whether err is one of the domain errors above.
func IsBusinessError(err error) bool {
	return Code(err) != "internal_error"
}

// Validationf builds an input error that matches ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
