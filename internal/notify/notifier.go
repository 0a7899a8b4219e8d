package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/mercadolocal/fulfillment/internal/kafka"
	"github.com/mercadolocal/fulfillment/internal/orders"
	"github.com/mercadolocal/fulfillment/internal/redisx"
)

// Kafka publishes every committed transition as an OrderTransitioned
// envelope, partition-keyed by order id, and refreshes the redis status
// cache the status endpoint reads from. Both are best effort: the
// transition is already durable in the store by the time this runs.
type Kafka struct {
	Producer *kafkax.Producer
	Cache    *redisx.StatusCache
	Service  string
}

func (n *Kafka) OrderTransitioned(ctx context.Context, o *orders.Order, from orders.Status, actorID string, role orders.ActorRole) {
	n.Cache.SetStatus(ctx, o.ID, string(o.Status))

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderTransitioned,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.Service,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderTransitionedPayload{
			OrderID:   o.ID,
			From:      from,
			To:        o.Status,
			Method:    o.Method,
			ActorID:   actorID,
			ActorRole: role,
		}),
	}
	n.Producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderTransitioned)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
