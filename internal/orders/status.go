package orders

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusReady     Status = "ready"
	StatusAssigned  Status = "assigned"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

type ActorRole string

const (
	RoleBuyer    ActorRole = "buyer"
	RoleSeller   ActorRole = "seller"
	RoleDriver   ActorRole = "driver"
	RoleDispatch ActorRole = "dispatch"
)

// AllStatuses and AllRoles exist for exhaustive enumeration in tests and
// for request parsing; keep them in sync with the constants above.
var AllStatuses = []Status{
	StatusPending, StatusAccepted, StatusReady, StatusAssigned,
	StatusPickedUp, StatusInTransit, StatusDelivered, StatusCancelled, StatusRejected,
}

var AllRoles = []ActorRole{RoleBuyer, RoleSeller, RoleDriver, RoleDispatch}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRejected
}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if s == string(st) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func ParseRole(s string) (ActorRole, error) {
	for _, r := range AllRoles {
		if s == string(r) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown actor role %q", s)
}

func ParseMethod(s string) (DeliveryMethod, error) {
	switch DeliveryMethod(s) {
	case MethodPickup, MethodDelivery:
		return DeliveryMethod(s), nil
	}
	return "", fmt.Errorf("unknown delivery method %q", s)
}

// edge describes who may take a transition and on which delivery method
// (empty method = either).
type edge struct {
	roles  map[ActorRole]bool
	method DeliveryMethod
}

func by(rs ...ActorRole) map[ActorRole]bool {
	m := make(map[ActorRole]bool, len(rs))
	for _, r := range rs {
		m[r] = true
	}
	return m
}

// validNext is the whole lifecycle. The pickup path skips the courier
// states: ready goes straight to delivered. Cancellation is allowed from
// pre-courier states only; the buyer loses the right once the seller has
// started preparing (ready), the seller keeps it until pickup.
var validNext = map[Status]map[Status]edge{
	StatusPending: {
		StatusAccepted:  {roles: by(RoleSeller)},
		StatusRejected:  {roles: by(RoleSeller)},
		StatusCancelled: {roles: by(RoleBuyer, RoleSeller)},
	},
	StatusAccepted: {
		StatusReady:     {roles: by(RoleSeller)},
		StatusCancelled: {roles: by(RoleBuyer, RoleSeller)},
	},
	StatusReady: {
		StatusAssigned:  {roles: by(RoleDispatch), method: MethodDelivery},
		StatusDelivered: {roles: by(RoleBuyer, RoleSeller), method: MethodPickup},
		StatusCancelled: {roles: by(RoleSeller)},
	},
	StatusAssigned: {
		StatusPickedUp:  {roles: by(RoleDriver), method: MethodDelivery},
		StatusCancelled: {roles: by(RoleSeller), method: MethodDelivery},
	},
	StatusPickedUp: {
		StatusInTransit: {roles: by(RoleDriver), method: MethodDelivery},
	},
	StatusInTransit: {
		StatusDelivered: {roles: by(RoleDriver), method: MethodDelivery},
	},
}

// CanTransition reports whether role may move an order with the given
// delivery method from one status to another. Pure; anything not listed in
// validNext is denied, terminal states have no outgoing edges at all.
func CanTransition(from, to Status, role ActorRole, method DeliveryMethod) bool {
	e, ok := validNext[from][to]
	if !ok {
		return false
	}
	if e.method != "" && e.method != method {
		return false
	}
	return e.roles[role]
}
