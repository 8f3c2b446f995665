package repository

import (
	"context"
	"errors"
	"time"

	"leadgate_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Billing order lifecycle. Orders move pending -> completed exactly once;
// the transition and the PURCHASE ledger entry commit in the same
// transaction.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
)

type BillingOrder struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Credits           int64
	TotalCents        int64
	Currency          string
	Status            string
	ProviderSessionID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const orderColumns = `id, tenant_id, credits, total_cents, currency, status,
	provider_session_id, created_at, updated_at`

func scanOrder(row pgx.Row) (BillingOrder, error) {
	var o BillingOrder
	err := row.Scan(&o.ID, &o.TenantID, &o.Credits, &o.TotalCents, &o.Currency,
		&o.Status, &o.ProviderSessionID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) CreateOrder(ctx context.Context, tenantID uuid.UUID, credits, totalCents int64, currency string, providerSessionID *string) (BillingOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx, `
		INSERT INTO billing_orders (tenant_id, credits, total_cents, currency, status, provider_session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+orderColumns,
		tenantID, credits, totalCents, currency, OrderStatusPending, providerSessionID))
}

func (r *Repository) GetOrder(ctx context.Context, orderID uuid.UUID) (BillingOrder, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM billing_orders
		WHERE id = $1
	`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return BillingOrder{}, apperr.NotFound("billing order not found")
	}
	return o, err
}

// CompleteOrderWithPurchase flips a pending order to completed and appends
// the matching PURCHASE ledger entry atomically. The status-guarded UPDATE
// makes the transition single-winner: a second caller sees zero rows, loads
// the order, and returns it as an already-completed no-op.
func (r *Repository) CompleteOrderWithPurchase(ctx context.Context, orderID uuid.UUID) (BillingOrder, bool, error) {
	var (
		order   BillingOrder
		applied bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `
			UPDATE billing_orders
			SET status = $2, updated_at = now()
			WHERE id = $1 AND status = $3
			RETURNING `+orderColumns,
			orderID, OrderStatusCompleted, OrderStatusPending))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		oid := o.ID
		_, err = r.appendEntry(ctx, tx, o.TenantID, EntryPurchase, o.Credits,
			"credit purchase", nil, &oid)
		if err != nil && !errors.Is(err, ErrDuplicateEntry) {
			return err
		}

		order = o
		applied = true
		return nil
	})
	if err != nil {
		return BillingOrder{}, false, err
	}
	if applied {
		return order, true, nil
	}

	// Lost the race or the order was never pending. Report current state.
	o, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return BillingOrder{}, false, err
	}
	return o, false, nil
}
