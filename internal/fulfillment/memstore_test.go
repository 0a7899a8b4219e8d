package fulfillment

import (
	"context"
	"sync"
	"time"

	"github.com/mercadolocal/fulfillment/internal/orders"
)

// memStore implements OrderStore and StockKeeper with the same observable
// contract as the postgres repos: CAS status writes, claim-then-decrement
// with all-or-nothing semantics, restore on cancel. It additionally counts
// ledger decrements per entry so tests can assert exactly-once application.
type memStore struct {
	mu         sync.Mutex
	orders     map[string]*orders.Order
	stock      map[string]int
	decrements map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		orders:     map[string]*orders.Order{},
		stock:      map[string]int{},
		decrements: map[string]int{},
	}
}

func stockKey(productID string, kind orders.ProductKind) string {
	return productID + "|" + string(kind)
}

func (s *memStore) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]orders.OrderItem(nil), o.Items...)
	return &cp, nil
}

func setTimestamp(o *orders.Order, to orders.Status, at time.Time) {
	set := func(f **time.Time) {
		if *f == nil {
			t := at
			*f = &t
		}
	}
	switch to {
	case orders.StatusAccepted:
		set(&o.AcceptedAt)
	case orders.StatusReady:
		set(&o.ReadyAt)
	case orders.StatusPickedUp:
		set(&o.PickedUpAt)
	case orders.StatusInTransit:
		set(&o.InTransitAt)
	case orders.StatusDelivered:
		set(&o.DeliveredAt)
	case orders.StatusRejected:
		set(&o.RejectedAt)
	}
}

func (s *memStore) UpdateStatus(_ context.Context, orderID string, from, to orders.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if o.Status != from {
		return orders.ErrConcurrencyConflict
	}
	o.Status = to
	setTimestamp(o, to, at)
	o.UpdatedAt = at
	return nil
}

func (s *memStore) AssignDriver(_ context.Context, orderID, driverID string, from orders.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if o.Status != from || o.DriverID != nil {
		return orders.ErrConcurrencyConflict
	}
	d := driverID
	o.DriverID = &d
	o.Status = orders.StatusAssigned
	return nil
}

func (s *memStore) ApplyOnDelivery(_ context.Context, o *orders.Order, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return false, orders.ErrOrderNotFound
	}
	if cur.Status != o.Status {
		return false, orders.ErrConcurrencyConflict
	}
	claimed := !cur.StockApplied
	if claimed {
		// all-or-nothing: verify every item before touching any counter
		for _, it := range cur.Items {
			k := stockKey(it.ProductID, it.Kind)
			if s.stock[k] < it.Qty {
				return false, &orders.StockUnavailableError{
					ProductID: it.ProductID, Kind: it.Kind,
					Required: it.Qty, Available: s.stock[k],
				}
			}
		}
		for _, it := range cur.Items {
			k := stockKey(it.ProductID, it.Kind)
			s.stock[k] -= it.Qty
			s.decrements[k]++
		}
		cur.StockApplied = true
	}
	cur.Status = orders.StatusDelivered
	setTimestamp(cur, orders.StatusDelivered, at)
	cur.UpdatedAt = at
	return claimed, nil
}

func (s *memStore) ReleaseOnCancel(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if cur.Status != o.Status {
		return orders.ErrConcurrencyConflict
	}
	if cur.StockApplied {
		for _, it := range cur.Items {
			s.stock[stockKey(it.ProductID, it.Kind)] += it.Qty
		}
		cur.StockApplied = false
	}
	cur.Status = orders.StatusCancelled
	return nil
}

// recordingNotifier collects (from, to) pairs of every committed transition.
type recordingNotifier struct {
	mu    sync.Mutex
	pairs [][2]orders.Status
}

func (n *recordingNotifier) OrderTransitioned(_ context.Context, o *orders.Order, from orders.Status, _ string, _ orders.ActorRole) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pairs = append(n.pairs, [2]orders.Status{from, o.Status})
}
