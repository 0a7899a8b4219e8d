package fulfillment

import (
	"context"
	"time"

	"github.com/mercadolocal/fulfillment/internal/orders"
)

// OrderStore is the slice of the order repository the coordinator needs.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, from, to orders.Status, at time.Time) error
	AssignDriver(ctx context.Context, orderID, driverID string, from orders.Status) error
}

// StockKeeper applies and reverses an order's ledger side effects atomically
// with the status write that triggers them.
type StockKeeper interface {
	ApplyOnDelivery(ctx context.Context, o *orders.Order, at time.Time) (applied bool, err error)
	ReleaseOnCancel(ctx context.Context, o *orders.Order) error
}

// Notifier is told about every committed transition. Best effort; failures
// there must not affect the transition itself.
type Notifier interface {
	OrderTransitioned(ctx context.Context, o *orders.Order, from orders.Status, actorID string, role orders.ActorRole)
}

type Request struct {
	OrderID string
	Status  orders.Status
	// ActorID is the requesting party, except for ready->assigned where
	// dispatch passes the driver being assigned.
	ActorID string
	Role    orders.ActorRole
}

type Coordinator struct {
	store  OrderStore
	stock  StockKeeper
	notify Notifier
	locks  keyedMutex
	now    func() time.Time
}

func New(store OrderStore, stock StockKeeper, notify Notifier) *Coordinator {
	return &Coordinator{store: store, stock: stock, notify: notify, now: time.Now}
}

// actorAllowed binds the role to the concrete party on the order: a buyer
// can only act on their own order, a seller on their own sale, a driver only
// once the order is pinned to them. Dispatch is an internal role and is
// trusted by construction.
func actorAllowed(o *orders.Order, role orders.ActorRole, actorID string) bool {
	switch role {
	case orders.RoleBuyer:
		return actorID == o.BuyerID
	case orders.RoleSeller:
		return actorID == o.SellerID
	case orders.RoleDriver:
		return o.DriverID != nil && actorID == *o.DriverID
	case orders.RoleDispatch:
		return true
	}
	return false
}

// admit decides what to do with a request against the order's current
// state. The actor-binding check runs first, so a stranger never learns the
// order snapshot through the duplicate path; the duplicate check runs
// before the edge check, which is what keeps client retries (including
// retries after a response was lost) safe for every transition.
func (c *Coordinator) admit(o *orders.Order, req Request) (duplicate bool, err error) {
	if !actorAllowed(o, req.Role, req.ActorID) {
		return false, &orders.InvalidTransitionError{From: o.Status, To: req.Status, Role: req.Role}
	}
	if o.Status == req.Status {
		return true, nil
	}
	if !orders.CanTransition(o.Status, req.Status, req.Role, o.Method) {
		return false, &orders.InvalidTransitionError{From: o.Status, To: req.Status, Role: req.Role}
	}
	return false, nil
}

// RequestTransition advances one order through the lifecycle. Legal-edge and
// role checks are pure; the mutation runs inside a per-order critical
// section with a fresh read, so concurrent requests for the same order are
// totally ordered. A duplicate request for the status the order already has
// returns the persisted order untouched.
func (c *Coordinator) RequestTransition(ctx context.Context, req Request) (*orders.Order, error) {
	o, err := c.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	dup, err := c.admit(o, req)
	if err != nil {
		return nil, err
	}
	if dup {
		return o, nil
	}

	unlock := c.locks.lock(req.OrderID)
	defer unlock()

	// somebody may have moved the order while we waited on the lock
	o, err = c.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	dup, err = c.admit(o, req)
	if err != nil {
		return nil, err
	}
	if dup {
		return o, nil
	}

	from := o.Status
	at := c.now().UTC()

	switch req.Status {
	case orders.StatusDelivered:
		// claim + ledger decrement + status write commit together; on
		// shortage nothing changes and the order keeps its prior state.
		if _, err := c.stock.ApplyOnDelivery(ctx, o, at); err != nil {
			return nil, err
		}
	case orders.StatusCancelled:
		if err := c.stock.ReleaseOnCancel(ctx, o); err != nil {
			return nil, err
		}
	case orders.StatusAssigned:
		if err := c.store.AssignDriver(ctx, o.ID, req.ActorID, from); err != nil {
			return nil, err
		}
	default:
		if err := c.store.UpdateStatus(ctx, o.ID, from, req.Status, at); err != nil {
			return nil, err
		}
	}

	o, err = c.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if c.notify != nil {
		c.notify.OrderTransitioned(ctx, o, from, req.ActorID, req.Role)
	}
	return o, nil
}
