package orders

import "time"

type DeliveryMethod string

const (
	MethodPickup   DeliveryMethod = "pickup"
	MethodDelivery DeliveryMethod = "delivery"
)

type ProductKind string

const (
	KindStandard ProductKind = "standard" // regular catalog stock
	KindDaily    ProductKind = "daily"    // per-day inventory the seller republishes each morning
)

type Product struct {
	ID         string
	SKU        string
	Name       string
	SellerID   string
	Kind       ProductKind
	PriceCents int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StockEntry is the authoritative counter for one (product, kind) pair.
// Mutated only inside StockRepo transactions, never by direct overwrite.
type StockEntry struct {
	ProductID string
	Kind      ProductKind
	Available int
	Version   int64
	UpdatedAt time.Time
}

type Order struct {
	ID         string
	ExternalID string
	BuyerID    string
	SellerID   string
	DriverID   *string // nil until dispatch assigns one
	Method     DeliveryMethod
	Status     Status
	Items      []OrderItem
	TotalCents int

	// StockApplied is the sole witness that the ledger decrement for this
	// order has been committed. Flips false->true at most once, together
	// with the transition into delivered.
	StockApplied bool

	AcceptedAt  *time.Time
	ReadyAt     *time.Time
	PickedUpAt  *time.Time
	InTransitAt *time.Time
	DeliveredAt *time.Time
	RejectedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ID         int64
	OrderID    string
	ProductID  string
	Kind       ProductKind
	Qty        int
	PriceCents int
}
