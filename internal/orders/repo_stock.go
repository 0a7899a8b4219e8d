package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StockRepo struct{ DB *pgxpool.Pool }

// ApplyOnDelivery commits the delivered transition together with its stock
// side effect as one transaction:
//
//  1. claim: flip stock_applied false->true, conditional on it still being
//     false. Zero rows = a previous delivery confirmation already decremented
//     the ledger; skip the ledger and only finish the status write.
//  2. decrement every item under a row lock; any shortage rolls the whole
//     transaction back (claim included) and the order stays in its prior
//     state, so the (k+1)-th unit can never be sold.
//  3. status -> delivered, delivered_at set once.
//
// Returns whether this call performed the ledger decrement.
func (r *StockRepo) ApplyOnDelivery(ctx context.Context, o *Order, at time.Time) (applied bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET stock_applied=TRUE, updated_at=now()
		WHERE id=$1 AND stock_applied=FALSE`, o.ID)
	if err != nil {
		return false, storeErr("claim stock_applied", err)
	}
	claimed := ct.RowsAffected() == 1

	if claimed {
		for _, it := range o.Items {
			var available int
			err := tx.QueryRow(ctx, `
				SELECT available_quantity FROM stock_entries
				WHERE product_id=$1 AND kind=$2 FOR UPDATE`,
				it.ProductID, it.Kind).Scan(&available)
			if errors.Is(err, pgx.ErrNoRows) {
				return false, &StockUnavailableError{ProductID: it.ProductID, Kind: it.Kind, Required: it.Qty}
			}
			if err != nil {
				return false, storeErr("lock stock entry", err)
			}
			if available < it.Qty {
				return false, &StockUnavailableError{
					ProductID: it.ProductID, Kind: it.Kind, Required: it.Qty, Available: available,
				}
			}
			if _, err := tx.Exec(ctx, `
				UPDATE stock_entries
				SET available_quantity = available_quantity - $3, version = version + 1, updated_at = now()
				WHERE product_id=$1 AND kind=$2`,
				it.ProductID, it.Kind, it.Qty); err != nil {
				return false, storeErr("decrement stock", err)
			}
		}
	}

	ct, err = tx.Exec(ctx, `
		UPDATE orders SET status=$3, delivered_at=COALESCE(delivered_at,$4), updated_at=now()
		WHERE id=$1 AND status=$2`,
		o.ID, o.Status, StatusDelivered, at)
	if err != nil {
		return false, storeErr("mark delivered", err)
	}
	if ct.RowsAffected() == 0 {
		return false, ErrConcurrencyConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storeErr("commit", err)
	}
	return claimed, nil
}

// ReleaseOnCancel marks the order cancelled and, if its stock had already
// been decremented, restores every item quantity and flips stock_applied
// back in the same transaction. This is the only path that ever calls
// restore; ordinary retries never do.
func (r *StockRepo) ReleaseOnCancel(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET stock_applied=FALSE, updated_at=now()
		WHERE id=$1 AND stock_applied=TRUE`, o.ID)
	if err != nil {
		return storeErr("release stock_applied", err)
	}
	if ct.RowsAffected() == 1 {
		for _, it := range o.Items {
			if _, err := tx.Exec(ctx, `
				UPDATE stock_entries
				SET available_quantity = available_quantity + $3, version = version + 1, updated_at = now()
				WHERE product_id=$1 AND kind=$2`,
				it.ProductID, it.Kind, it.Qty); err != nil {
				return storeErr("restore stock", err)
			}
		}
	}

	ct, err = tx.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=now()
		WHERE id=$1 AND status=$2`,
		o.ID, o.Status, StatusCancelled)
	if err != nil {
		return storeErr("mark cancelled", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConcurrencyConflict
	}
	return tx.Commit(ctx)
}
