package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/mercadolocal/fulfillment/internal/fulfillment"
	kafkax "github.com/mercadolocal/fulfillment/internal/kafka"
	"github.com/mercadolocal/fulfillment/internal/orders"
	"github.com/mercadolocal/fulfillment/internal/redisx"
)

// Coordinator is what the transition endpoint needs; satisfied by
// *fulfillment.Coordinator and by mocks in tests.
type Coordinator interface {
	RequestTransition(ctx context.Context, req fulfillment.Request) (*orders.Order, error)
}

// StatusCache sits in front of the orders table for status reads;
// satisfied by *redisx.StatusCache.
type StatusCache interface {
	GetStatus(ctx context.Context, orderID string) (string, error)
	SetStatus(ctx context.Context, orderID, status string)
}

type OrdersHandler struct {
	Repo     *orders.Repo
	Coord    Coordinator
	Producer *kafkax.Producer // order.created events for intake
	Redis    *redis.Client
	Cache    StatusCache
	Service  string
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Post("/orders/{id}/transition", h.transition)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type orderView struct {
	ID           string                `json:"id"`
	ExternalID   string                `json:"external_id"`
	BuyerID      string                `json:"buyer_id"`
	SellerID     string                `json:"seller_id"`
	DriverID     *string               `json:"driver_id,omitempty"`
	Method       orders.DeliveryMethod `json:"delivery_method"`
	Status       orders.Status         `json:"status"`
	TotalCents   int                   `json:"total_cents"`
	StockApplied bool                  `json:"stock_applied"`
	AcceptedAt   *time.Time            `json:"accepted_at,omitempty"`
	ReadyAt      *time.Time            `json:"ready_at,omitempty"`
	PickedUpAt   *time.Time            `json:"picked_up_at,omitempty"`
	InTransitAt  *time.Time            `json:"in_transit_at,omitempty"`
	DeliveredAt  *time.Time            `json:"delivered_at,omitempty"`
	RejectedAt   *time.Time            `json:"rejected_at,omitempty"`
	UpdatedAt    time.Time             `json:"updated_at"`
	Items        []itemView            `json:"items,omitempty"`
}

type itemView struct {
	ProductID  string             `json:"product_id"`
	Kind       orders.ProductKind `json:"kind"`
	Qty        int                `json:"qty"`
	PriceCents int                `json:"price_cents"`
}

func toView(o *orders.Order) orderView {
	v := orderView{
		ID: o.ID, ExternalID: o.ExternalID, BuyerID: o.BuyerID, SellerID: o.SellerID,
		DriverID: o.DriverID, Method: o.Method, Status: o.Status,
		TotalCents: o.TotalCents, StockApplied: o.StockApplied,
		AcceptedAt: o.AcceptedAt, ReadyAt: o.ReadyAt, PickedUpAt: o.PickedUpAt,
		InTransitAt: o.InTransitAt, DeliveredAt: o.DeliveredAt, RejectedAt: o.RejectedAt,
		UpdatedAt: o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, itemView{
			ProductID: it.ProductID, Kind: it.Kind, Qty: it.Qty, PriceCents: it.PriceCents,
		})
	}
	return v
}

type TransitionReq struct {
	Status    string `json:"status"`
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req TransitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	status, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	role, err := orders.ParseRole(req.ActorRole)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if orderID == "" || req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Coord.RequestTransition(ctx, fulfillment.Request{
		OrderID: orderID, Status: status, ActorID: req.ActorID, Role: role,
	})
	if err != nil {
		writeTransitionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(o))
}

// writeTransitionErr maps the error taxonomy to response codes. Validation
// errors are terminal for the request; 409 and 503 tell the client the same
// payload may be retried.
func writeTransitionErr(w http.ResponseWriter, err error) {
	var invalid *orders.InvalidTransitionError
	var stock *orders.StockUnavailableError
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": "invalid transition",
			"from":  invalid.From, "to": invalid.To, "role": invalid.Role,
		})
	case errors.As(err, &stock):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "stock unavailable", "product_id": stock.ProductID,
		})
	case errors.Is(err, orders.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict, retry"})
	case errors.Is(err, orders.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable, retry"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

type CreateOrderReq struct {
	ExternalID     string             `json:"external_id"`
	BuyerID        string             `json:"buyer_id"`
	SellerID       string             `json:"seller_id"`
	DeliveryMethod string             `json:"delivery_method"`
	Items          []orders.ItemInput `json:"items"`
}

type CreateOrderResp struct {
	OrderID    string `json:"order_id"`
	TotalCents int    `json:"total_cents"`
	Idempotent bool   `json:"idempotent"`
}

// createOrder is the intake path: orders start in pending with
// stock_applied=false and are idempotent by external_id. The coordinator
// never creates orders itself.
func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ExternalID == "" || req.BuyerID == "" || req.SellerID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	method, err := orders.ParseMethod(req.DeliveryMethod)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID, total, existed, err := h.Repo.CreateOrderTx(ctx, req.ExternalID, req.BuyerID, req.SellerID, method, req.Items)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// redis shortcuts: intake idempotency + status cache. DB stays the truth.
	idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, req.ExternalID)
	_ = h.Redis.Set(ctx, idemKey, orderID, redisx.TTLIdempotency).Err()
	h.Cache.SetStatus(ctx, orderID, string(orders.StatusPending))

	if !existed {
		items := make([]orders.ItemQty, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, orders.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
		}
		ev := orders.Envelope{
			EventID:       uuid.NewString(),
			EventType:     orders.EventOrderCreated,
			EventVersion:  1,
			OccurredAt:    time.Now().UTC(),
			Producer:      h.Service,
			TraceID:       r.Header.Get("X-Request-Id"),
			CorrelationID: orderID,
		}
		ev.Payload = kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID:    orderID,
			ExternalID: req.ExternalID,
			BuyerID:    req.BuyerID,
			SellerID:   req.SellerID,
			Method:     method,
			Items:      items,
			TotalCents: total,
		})
		h.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
			kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}

	writeJSON(w, http.StatusAccepted, CreateOrderResp{OrderID: orderID, TotalCents: total, Idempotent: existed})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Repo.GetOrder(ctx, orderID)
	if err != nil {
		writeTransitionErr(w, err)
		return
	}

	// refresh the status cache on the way out
	h.Cache.SetStatus(ctx, orderID, string(o.Status))

	writeJSON(w, http.StatusOK, toView(o))
}

// getOrderStatus answers from the cache and only falls back to the store on
// a miss, so the hot poll loop of the client apps stays off the database.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if s, err := h.Cache.GetStatus(ctx, orderID); err == nil && s != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s))
		return
	}

	status, err := h.Repo.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeTransitionErr(w, err)
		return
	}
	h.Cache.SetStatus(ctx, orderID, string(status))
	writeJSON(w, http.StatusOK, map[string]orders.Status{"status": status})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Repo.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
