package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mercadolocal/fulfillment/internal/fulfillment"
	kafkax "github.com/mercadolocal/fulfillment/internal/kafka"
	"github.com/mercadolocal/fulfillment/internal/orders"
)

type Coordinator interface {
	RequestTransition(ctx context.Context, req fulfillment.Request) (*orders.Order, error)
}

// Deduper claims an event id exactly once per service; Claim reports
// whether this worker won the claim and should process the event.
type Deduper interface {
	Claim(ctx context.Context, eventID string) bool
}

type DriverPool interface {
	Next(ctx context.Context) (string, error)
}

// Service assigns drivers to delivery orders that just became ready. It
// consumes order.transitioned and goes back through the coordinator for the
// ready -> assigned edge, so dispatch obeys the same validation and
// serialization as every other actor.
type Service struct {
	Coord   Coordinator
	Dedup   Deduper
	Drivers DriverPool
}

// HandleTransition is the consumer handler for order.transitioned.
func (s *Service) HandleTransition(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderTransitioned {
		return nil
	}

	// a replayed event must not re-run the assignment
	if !s.Dedup.Claim(ctx, env.EventID) {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderTransitionedPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.To != orders.StatusReady || p.Method != orders.MethodDelivery {
		return nil
	}

	driverID, err := s.Drivers.Next(ctx)
	if err != nil {
		// no driver on duty: leave the order in ready, a later event or a
		// manual assignment picks it up
		log.Printf("dispatch: no driver for order %s: %v", p.OrderID, err)
		return nil
	}

	_, err = s.Coord.RequestTransition(ctx, fulfillment.Request{
		OrderID: p.OrderID,
		Status:  orders.StatusAssigned,
		ActorID: driverID,
		Role:    orders.RoleDispatch,
	})
	var invalid *orders.InvalidTransitionError
	if errors.As(err, &invalid) {
		// order moved on (cancelled, or another dispatcher won); done
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("dispatch: order %s assigned to driver %s", p.OrderID, driverID)
	return nil
}
