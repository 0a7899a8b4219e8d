package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type Repo struct{ DB *pgxpool.Pool }

// storeErr marks infrastructure failures as retryable for the caller.
// Domain sentinels pass through untouched.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

const orderColumns = `id, external_id, buyer_id, seller_id, driver_id, delivery_method,
	status, total_cents, stock_applied,
	accepted_at, ready_at, picked_up_at, in_transit_at, delivered_at, rejected_at,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.ExternalID, &o.BuyerID, &o.SellerID, &o.DriverID, &o.Method,
		&o.Status, &o.TotalCents, &o.StockApplied,
		&o.AcceptedAt, &o.ReadyAt, &o.PickedUpAt, &o.InTransitAt, &o.DeliveredAt, &o.RejectedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, storeErr("get order", err)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, kind, qty, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, storeErr("get order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Kind, &it.Qty, &it.PriceCents); err != nil {
			return nil, storeErr("scan order item", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get order items", err)
	}
	return o, nil
}

// GetOrderStatus is the light read behind the status endpoint; the full
// order (items included) comes from GetOrder.
func (r *Repo) GetOrderStatus(ctx context.Context, id string) (Status, error) {
	var s Status
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", storeErr("get order status", err)
	}
	return s, nil
}

// statusTimestamp maps a target status to its set-at-most-once column.
// assigned and cancelled have no dedicated column; updated_at covers them.
var statusTimestamp = map[Status]string{
	StatusAccepted:  "accepted_at",
	StatusReady:     "ready_at",
	StatusPickedUp:  "picked_up_at",
	StatusInTransit: "in_transit_at",
	StatusDelivered: "delivered_at",
	StatusRejected:  "rejected_at",
}

// UpdateStatus is a compare-and-swap on status: it only moves the order if
// it is still in `from`, writing the transition timestamp in the same
// statement. Zero rows matched means somebody else won; the caller retries
// the whole transition.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, from, to Status, at time.Time) error {
	q := `UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`
	args := []any{orderID, from, to}
	if col, ok := statusTimestamp[to]; ok {
		q = fmt.Sprintf(
			`UPDATE orders SET status=$3, %s=COALESCE(%s,$4), updated_at=now() WHERE id=$1 AND status=$2`,
			col, col)
		args = append(args, at)
	}
	ct, err := r.DB.Exec(ctx, q, args...)
	if err != nil {
		return storeErr("update status", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

// AssignDriver moves ready -> assigned and pins the driver in one CAS write.
// driver_id is only ever written here, and only while it is still NULL.
func (r *Repo) AssignDriver(ctx context.Context, orderID, driverID string, from Status) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$4, driver_id=$3, updated_at=now()
		WHERE id=$1 AND status=$2 AND driver_id IS NULL`,
		orderID, from, driverID, StatusAssigned)
	if err != nil {
		return storeErr("assign driver", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

// CreateOrderTx creates a pending order with stock_applied=false, idempotent
// by external_id: a duplicate intake returns the existing order id instead
// of a second order. Prices and kinds come from the catalog inside the
// transaction, never from the client.
func (r *Repo) CreateOrderTx(ctx context.Context, externalID, buyerID, sellerID string, method DeliveryMethod, items []ItemInput) (orderID string, total int, existed bool, err error) {
	row := r.DB.QueryRow(ctx, `SELECT id, total_cents FROM orders WHERE external_id=$1`, externalID)
	if err = row.Scan(&orderID, &total); err == nil {
		return orderID, total, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return "", 0, false, storeErr("lookup external_id", err)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", 0, false, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	type catalogRow struct {
		kind  ProductKind
		price int
	}
	ids := make([]any, 0, len(items))
	params := ""
	for i, it := range items {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		ids = append(ids, it.ProductID)
	}
	rows, err := tx.Query(ctx, `SELECT id, kind, price_cents FROM products WHERE id IN (`+params+`)`, ids...)
	if err != nil {
		return "", 0, false, storeErr("load products", err)
	}
	catalog := map[string]catalogRow{}
	for rows.Next() {
		var id string
		var c catalogRow
		if err := rows.Scan(&id, &c.kind, &c.price); err != nil {
			return "", 0, false, storeErr("scan product", err)
		}
		catalog[id] = c
	}
	if err := rows.Err(); err != nil {
		return "", 0, false, storeErr("load products", err)
	}

	for _, it := range items {
		c, ok := catalog[it.ProductID]
		if !ok {
			return "", 0, false, fmt.Errorf("product not found: %s", it.ProductID)
		}
		if it.Qty <= 0 {
			return "", 0, false, fmt.Errorf("invalid qty for product %s", it.ProductID)
		}
		total += c.price * it.Qty
	}

	orderID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, buyer_id, seller_id, delivery_method, status, total_cents, stock_applied)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
		orderID, externalID, buyerID, sellerID, method, StatusPending, total)
	if err != nil {
		return "", 0, false, storeErr("insert order", err)
	}

	for _, it := range items {
		c := catalog[it.ProductID]
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, kind, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			orderID, it.ProductID, c.kind, it.Qty, c.price)
		if err != nil {
			return "", 0, false, storeErr("insert order item", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", 0, false, storeErr("commit", err)
	}
	return orderID, total, false, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, seller_id, kind, price_cents, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, storeErr("list products", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.SellerID, &p.Kind, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, storeErr("scan product", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
