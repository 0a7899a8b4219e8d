package orders

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrConcurrencyConflict: a compare-and-swap write matched zero rows.
	// Safe to retry the whole transition request.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	// ErrStoreUnavailable wraps transient infrastructure failures; callers
	// retry with backoff, which is safe because transitions are idempotent.
	ErrStoreUnavailable = errors.New("persistence unavailable")
)

type InvalidTransitionError struct {
	From Status
	To   Status
	Role ActorRole
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s by %s", e.From, e.To, e.Role)
}

type StockUnavailableError struct {
	ProductID string
	Kind      ProductKind
	Required  int
	Available int
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (%s): need %d, have %d",
		e.ProductID, e.Kind, e.Required, e.Available)
}
