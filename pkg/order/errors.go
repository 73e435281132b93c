package order

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrMissingCustomer = errors.New("customer id is required")
	ErrMissingAddress  = errors.New("delivery address is required")
	ErrMissingSeller   = errors.New("seller id is required")
	ErrInvalidQuantity = errors.New("quantity must be positive")

	ErrItemNotFound      = errors.New("item not found")
	ErrOutOfStock        = errors.New("item is out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStockConflict means the order row exists but the stock decrement
	// lost a race with another checkout and needs manual reconciliation.
	ErrStockConflict = errors.New("stock changed concurrently")

	// ErrBackendUnavailable wraps every store failure. Treat the affected
	// line as not committed unless the receipt says otherwise.
	ErrBackendUnavailable = errors.New("backend unavailable")

	ErrOrderNotFound     = errors.New("order not found")
	ErrNotOrderSeller    = errors.New("order belongs to another seller")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InsufficientStockError reports how much of an item could be sold.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: %d available, %d requested", e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ValidationError lists every cart line rejected by pre-validation.
// Nothing was written when this error is returned.
type ValidationError struct {
	Failures []LineResult
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.ItemID, f.Err))
	}
	return fmt.Sprintf("%d cart line(s) rejected: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func backendError(op string, err error) error {
	if errors.Is(err, ErrBackendUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
