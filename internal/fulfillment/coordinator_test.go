package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mercadolocal/fulfillment/internal/orders"
)

const (
	buyerID  = "buyer-1"
	sellerID = "seller-1"
	driverID = "driver-1"
)

func seedOrder(s *memStore, id string, method orders.DeliveryMethod, status orders.Status, items []orders.OrderItem) {
	o := &orders.Order{
		ID: id, ExternalID: "ext-" + id,
		BuyerID: buyerID, SellerID: sellerID,
		Method: method, Status: status, Items: items,
	}
	switch status {
	case orders.StatusAssigned, orders.StatusPickedUp, orders.StatusInTransit:
		d := driverID
		o.DriverID = &d
	}
	s.orders[id] = o
}

func twoItems() []orders.OrderItem {
	return []orders.OrderItem{
		{ProductID: "prod-a", Kind: orders.KindDaily, Qty: 2, PriceCents: 500},
		{ProductID: "prod-b", Kind: orders.KindStandard, Qty: 1, PriceCents: 900},
	}
}

func seedTwoItemStock(s *memStore) {
	s.stock[stockKey("prod-a", orders.KindDaily)] = 5
	s.stock[stockKey("prod-b", orders.KindStandard)] = 3
}

// Full delivery lifecycle: accepted -> ready -> assigned -> picked_up ->
// in_transit -> delivered. Stock A=5,B=3 ends at A=3,B=2, one decrement per
// entry, delivered_at set exactly once.
func TestDeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	notes := &recordingNotifier{}
	c := New(store, store, notes)

	seedOrder(store, "ord-1", orders.MethodDelivery, orders.StatusPending, twoItems())
	seedTwoItemStock(store)

	steps := []Request{
		{OrderID: "ord-1", Status: orders.StatusAccepted, ActorID: sellerID, Role: orders.RoleSeller},
		{OrderID: "ord-1", Status: orders.StatusReady, ActorID: sellerID, Role: orders.RoleSeller},
		{OrderID: "ord-1", Status: orders.StatusAssigned, ActorID: driverID, Role: orders.RoleDispatch},
		{OrderID: "ord-1", Status: orders.StatusPickedUp, ActorID: driverID, Role: orders.RoleDriver},
		{OrderID: "ord-1", Status: orders.StatusInTransit, ActorID: driverID, Role: orders.RoleDriver},
		{OrderID: "ord-1", Status: orders.StatusDelivered, ActorID: driverID, Role: orders.RoleDriver},
	}
	for _, req := range steps {
		o, err := c.RequestTransition(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, req.Status, o.Status)
	}

	o, err := store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.True(t, o.StockApplied)
	require.NotNil(t, o.DeliveredAt)
	require.NotNil(t, o.AcceptedAt)
	require.NotNil(t, o.ReadyAt)
	require.NotNil(t, o.PickedUpAt)
	require.NotNil(t, o.InTransitAt)
	require.NotNil(t, o.DriverID)
	assert.Equal(t, driverID, *o.DriverID)

	assert.Equal(t, 3, store.stock[stockKey("prod-a", orders.KindDaily)])
	assert.Equal(t, 2, store.stock[stockKey("prod-b", orders.KindStandard)])
	assert.Equal(t, 1, store.decrements[stockKey("prod-a", orders.KindDaily)])
	assert.Equal(t, 1, store.decrements[stockKey("prod-b", orders.KindStandard)])

	assert.Equal(t, [][2]orders.Status{
		{orders.StatusPending, orders.StatusAccepted},
		{orders.StatusAccepted, orders.StatusReady},
		{orders.StatusReady, orders.StatusAssigned},
		{orders.StatusAssigned, orders.StatusPickedUp},
		{orders.StatusPickedUp, orders.StatusInTransit},
		{orders.StatusInTransit, orders.StatusDelivered},
	}, notes.pairs)
}

func TestPickupLifecycleSkipsCourierStates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, store, nil)

	seedOrder(store, "ord-p", orders.MethodPickup, orders.StatusReady, twoItems())
	seedTwoItemStock(store)

	// the courier edges do not exist on a pickup order
	_, err := c.RequestTransition(ctx, Request{OrderID: "ord-p", Status: orders.StatusAssigned, ActorID: driverID, Role: orders.RoleDispatch})
	var invalid *orders.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	o, err := c.RequestTransition(ctx, Request{OrderID: "ord-p", Status: orders.StatusDelivered, ActorID: buyerID, Role: orders.RoleBuyer})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, o.Status)
	assert.True(t, o.StockApplied)
	assert.Equal(t, 3, store.stock[stockKey("prod-a", orders.KindDaily)])
	assert.Equal(t, 2, store.stock[stockKey("prod-b", orders.KindStandard)])
}

// N concurrent delivery confirmations yield exactly one ledger decrement
// per item and all callers see the same delivered order.
func TestConcurrentDeliveredExactlyOnce(t *testing.T) {
	for _, n := range []int{1, 5, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ctx := context.Background()
			store := newMemStore()
			c := New(store, store, nil)

			seedOrder(store, "ord-c", orders.MethodDelivery, orders.StatusInTransit, twoItems())
			seedTwoItemStock(store)

			var g errgroup.Group
			for i := 0; i < n; i++ {
				g.Go(func() error {
					o, err := c.RequestTransition(ctx, Request{
						OrderID: "ord-c", Status: orders.StatusDelivered,
						ActorID: driverID, Role: orders.RoleDriver,
					})
					if err != nil {
						return err
					}
					if o.Status != orders.StatusDelivered {
						return fmt.Errorf("got status %s", o.Status)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			assert.Equal(t, 1, store.decrements[stockKey("prod-a", orders.KindDaily)])
			assert.Equal(t, 1, store.decrements[stockKey("prod-b", orders.KindStandard)])
			assert.Equal(t, 3, store.stock[stockKey("prod-a", orders.KindDaily)])
			assert.Equal(t, 2, store.stock[stockKey("prod-b", orders.KindStandard)])
		})
	}
}

// A repeated request after the first one succeeded returns the same order
// and performs no further mutation.
func TestSequentialRetryIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, store, nil)

	seedOrder(store, "ord-r", orders.MethodDelivery, orders.StatusInTransit, twoItems())
	seedTwoItemStock(store)

	req := Request{OrderID: "ord-r", Status: orders.StatusDelivered, ActorID: driverID, Role: orders.RoleDriver}
	first, err := c.RequestTransition(ctx, req)
	require.NoError(t, err)

	second, err := c.RequestTransition(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.DeliveredAt, second.DeliveredAt)
	assert.Equal(t, 1, store.decrements[stockKey("prod-a", orders.KindDaily)])
	assert.Equal(t, 1, store.decrements[stockKey("prod-b", orders.KindStandard)])
}

// With k units on the shelf, concurrent single-unit deliveries succeed for
// at most k orders; the rest get StockUnavailable and stay in their prior
// state with stock_applied still false.
func TestStockNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, store, nil)

	const k = 3
	store.stock[stockKey("prod-hot", orders.KindDaily)] = k

	var ids []string
	for i := 0; i < k+1; i++ {
		id := fmt.Sprintf("ord-hot-%d", i)
		drv := fmt.Sprintf("driver-%d", i)
		o := &orders.Order{
			ID: id, ExternalID: "ext-" + id,
			BuyerID: buyerID, SellerID: sellerID,
			Method: orders.MethodDelivery, Status: orders.StatusInTransit,
			DriverID: &drv,
			Items: []orders.OrderItem{
				{ProductID: "prod-hot", Kind: orders.KindDaily, Qty: 1},
			},
		}
		store.orders[id] = o
		ids = append(ids, id)
	}

	results := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			drv := fmt.Sprintf("driver-%d", i)
			_, err := c.RequestTransition(ctx, Request{
				OrderID: id, Status: orders.StatusDelivered,
				ActorID: drv, Role: orders.RoleDriver,
			})
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, short int
	for i, err := range results {
		if err == nil {
			ok++
			continue
		}
		var stockErr *orders.StockUnavailableError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, "prod-hot", stockErr.ProductID)
		short++

		o, gerr := store.GetOrder(ctx, ids[i])
		require.NoError(t, gerr)
		assert.Equal(t, orders.StatusInTransit, o.Status)
		assert.False(t, o.StockApplied)
	}
	assert.Equal(t, k, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, store.stock[stockKey("prod-hot", orders.KindDaily)])
}

// The sanctioned reversal path: cancelling an order whose stock was already
// applied restores the exact quantities and flips stock_applied back.
func TestCancelRestoresAppliedStock(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, store, nil)

	seedOrder(store, "ord-x", orders.MethodDelivery, orders.StatusAccepted, twoItems())
	store.orders["ord-x"].StockApplied = true // correction scenario
	store.stock[stockKey("prod-a", orders.KindDaily)] = 3
	store.stock[stockKey("prod-b", orders.KindStandard)] = 2

	o, err := c.RequestTransition(ctx, Request{
		OrderID: "ord-x", Status: orders.StatusCancelled,
		ActorID: sellerID, Role: orders.RoleSeller,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.False(t, o.StockApplied)
	assert.Equal(t, 5, store.stock[stockKey("prod-a", orders.KindDaily)])
	assert.Equal(t, 3, store.stock[stockKey("prod-b", orders.KindStandard)])
}

func TestCancelWithoutAppliedStockLeavesLedgerAlone(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, store, nil)

	seedOrder(store, "ord-y", orders.MethodDelivery, orders.StatusPending, twoItems())
	seedTwoItemStock(store)

	o, err := c.RequestTransition(ctx, Request{
		OrderID: "ord-y", Status: orders.StatusCancelled,
		ActorID: buyerID, Role: orders.RoleBuyer,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, 5, store.stock[stockKey("prod-a", orders.KindDaily)])
	assert.Equal(t, 3, store.stock[stockKey("prod-b", orders.KindStandard)])
}

func TestPickedUpOnPendingIsInvalid(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, store, nil)

	seedOrder(store, "ord-z", orders.MethodDelivery, orders.StatusPending, twoItems())

	_, err := c.RequestTransition(ctx, Request{
		OrderID: "ord-z", Status: orders.StatusPickedUp,
		ActorID: driverID, Role: orders.RoleDriver,
	})
	var invalid *orders.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, orders.StatusPending, invalid.From)
	assert.Equal(t, orders.StatusPickedUp, invalid.To)
	assert.Equal(t, orders.RoleDriver, invalid.Role)

	o, err := store.GetOrder(ctx, "ord-z")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)
}

func TestOrderNotFound(t *testing.T) {
	store := newMemStore()
	c := New(store, store, nil)

	_, err := c.RequestTransition(context.Background(), Request{
		OrderID: "nope", Status: orders.StatusAccepted,
		ActorID: sellerID, Role: orders.RoleSeller,
	})
	assert.True(t, errors.Is(err, orders.ErrOrderNotFound))
}

// The role must belong to the right party on the order: another buyer may
// not cancel, and a driver may not act before dispatch pinned them.
func TestActorBinding(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, store, nil)

	seedOrder(store, "ord-b", orders.MethodDelivery, orders.StatusPending, twoItems())

	var invalid *orders.InvalidTransitionError
	_, err := c.RequestTransition(ctx, Request{
		OrderID: "ord-b", Status: orders.StatusCancelled,
		ActorID: "buyer-2", Role: orders.RoleBuyer,
	})
	require.ErrorAs(t, err, &invalid)

	_, err = c.RequestTransition(ctx, Request{
		OrderID: "ord-b", Status: orders.StatusAccepted,
		ActorID: driverID, Role: orders.RoleDriver,
	})
	require.ErrorAs(t, err, &invalid)
}

// Naming the order's current status is only a retry for the actor bound to
// the order. A stranger probing with the right status must be rejected, not
// handed the order snapshot.
func TestDuplicateStatusStillChecksActor(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, store, nil)

	seedOrder(store, "ord-d", orders.MethodDelivery, orders.StatusInTransit, twoItems())

	var invalid *orders.InvalidTransitionError
	_, err := c.RequestTransition(ctx, Request{
		OrderID: "ord-d", Status: orders.StatusInTransit,
		ActorID: "driver-99", Role: orders.RoleDriver,
	})
	require.ErrorAs(t, err, &invalid)

	o, err := c.RequestTransition(ctx, Request{
		OrderID: "ord-d", Status: orders.StatusInTransit,
		ActorID: driverID, Role: orders.RoleDriver,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInTransit, o.Status)
}
