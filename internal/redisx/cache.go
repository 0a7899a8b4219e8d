package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusCache is the fast path in front of the orders table for status
// reads. The database stays the truth; a miss or a redis failure just falls
// through to it.
type StatusCache struct{ C *redis.Client }

// GetStatus returns the cached payload for an order, "" on a miss.
func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (string, error) {
	s, err := c.C.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return s, err
}

func (c *StatusCache) SetStatus(ctx context.Context, orderID, status string) {
	b, _ := json.Marshal(map[string]string{"status": status})
	_ = c.C.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Deduper claims event ids for one consumer service. Claim is a single
// SET NX round trip, so two workers replaying the same event cannot both
// win the claim.
type Deduper struct {
	C       *redis.Client
	Service string
}

// Claim reports whether the caller should process the event. Fails open on
// redis errors: handlers behind it are idempotent, a rare double delivery
// beats dropping the event.
func (d *Deduper) Claim(ctx context.Context, eventID string) bool {
	ok, err := d.C.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Result()
	if err != nil {
		return true
	}
	return ok
}

// DriverRotation rotates the on-duty list so assignments spread
// round-robin.
type DriverRotation struct{ C *redis.Client }

func (r *DriverRotation) Next(ctx context.Context) (string, error) {
	id, err := r.C.LMove(ctx, KeyDriversOnDuty, KeyDriversOnDuty, "LEFT", "RIGHT").Result()
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("on-duty list empty")
	}
	return id, nil
}
