package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated      = "OrderCreated"
	EventOrderTransitioned = "OrderTransitioned"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "fulfillment-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string      `json:"product_id"`
	Kind      ProductKind `json:"kind,omitempty"`
	Qty       int         `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID    string         `json:"order_id"`
	ExternalID string         `json:"external_id"`
	BuyerID    string         `json:"buyer_id"`
	SellerID   string         `json:"seller_id"`
	Method     DeliveryMethod `json:"delivery_method"`
	Items      []ItemQty      `json:"items"`
	TotalCents int            `json:"total_cents"`
}

// OrderTransitionedPayload carries {orderId, oldStatus, newStatus} for the
// notification consumers, plus enough context for dispatch to act without
// a read back to the store.
type OrderTransitionedPayload struct {
	OrderID   string         `json:"order_id"`
	From      Status         `json:"from"`
	To        Status         `json:"to"`
	Method    DeliveryMethod `json:"delivery_method"`
	ActorID   string         `json:"actor_id"`
	ActorRole ActorRole      `json:"actor_role"`
}
