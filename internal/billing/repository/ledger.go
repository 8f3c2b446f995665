// Package repository provides the append-only credit ledger and billing
// order persistence. The ledger is the single source of truth for tenant
// balances; no other field anywhere stores a "real" balance.
package repository

import (
	"context"
	"errors"
	"time"

	"leadgate_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryPurchase    EntryType = "PURCHASE"
	EntryConsumption EntryType = "CONSUMPTION"
	EntryRefund      EntryType = "REFUND"
	EntryBonus       EntryType = "BONUS"
	EntryAdjustment  EntryType = "ADJUSTMENT"
)

// ErrDuplicateEntry signals that an idempotency key (delivery id or billing
// order id) already has a ledger entry. Callers treat this as a successful
// no-op, never as a failure.
var ErrDuplicateEntry = errors.New("duplicate ledger entry")

// Entry is one append-only ledger row.
type Entry struct {
	ID             int64
	TenantID       uuid.UUID
	Type           EntryType
	Amount         int64 // signed: negative for consumption
	BalanceAfter   int64
	Description    string
	DeliveryID     *uuid.UUID
	BillingOrderID *uuid.UUID
	CreatedAt      time.Time
}

// DB is the connection surface the repository needs. Satisfied by
// *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool DB
}

func New(pool DB) *Repository {
	return &Repository{pool: pool}
}

// appendEntry writes one ledger row inside tx, serialized per tenant by an
// advisory transaction lock so concurrent writers cannot race on
// balance_after. Replays keyed by delivery_id (CONSUMPTION) or
// billing_order_id (PURCHASE) surface as ErrDuplicateEntry; partial unique
// indexes on those columns back the lookup.
func (r *Repository) appendEntry(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, entryType EntryType, amount int64, description string, deliveryID, orderID *uuid.UUID) (Entry, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 1))`, tenantID); err != nil {
		return Entry{}, err
	}

	// A row already keyed by this delivery or order is a replay. The lookup
	// runs before the balance check: the first application may have drained
	// the balance, and a replay must stay a no-op either way.
	if deliveryID != nil {
		dup, err := replayExists(ctx, tx, "delivery_id", deliveryID, EntryConsumption)
		if err != nil {
			return Entry{}, err
		}
		if dup {
			return Entry{}, ErrDuplicateEntry
		}
	}
	if orderID != nil {
		dup, err := replayExists(ctx, tx, "billing_order_id", orderID, EntryPurchase)
		if err != nil {
			return Entry{}, err
		}
		if dup {
			return Entry{}, ErrDuplicateEntry
		}
	}

	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT balance_after
		FROM credit_ledger_entries
		WHERE tenant_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, tenantID).Scan(&balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, err
	}

	newBalance := balance + amount
	if newBalance < 0 {
		return Entry{}, apperr.InsufficientBalance("credit balance is insufficient")
	}

	var entry Entry
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_ledger_entries
			(tenant_id, type, amount, balance_after, description, delivery_id, billing_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id, tenant_id, type, amount, balance_after, description,
			delivery_id, billing_order_id, created_at
	`, tenantID, entryType, amount, newBalance, description, deliveryID, orderID).Scan(
		&entry.ID, &entry.TenantID, &entry.Type, &entry.Amount, &entry.BalanceAfter,
		&entry.Description, &entry.DeliveryID, &entry.BillingOrderID, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrDuplicateEntry
	}
	if err != nil {
		return Entry{}, err
	}

	return entry, nil
}

func replayExists(ctx context.Context, tx pgx.Tx, column string, key *uuid.UUID, entryType EntryType) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credit_ledger_entries
			WHERE `+column+` = $1 AND type = $2
		)
	`, key, entryType).Scan(&exists)
	return exists, err
}

// AddCredits appends a positive entry and returns the new balance in the
// same atomic operation. The optional order id is the idempotency key for
// PURCHASE entries.
func (r *Repository) AddCredits(ctx context.Context, tenantID uuid.UUID, amount int64, entryType EntryType, reason string, orderID *uuid.UUID) (int64, error) {
	if amount <= 0 {
		return 0, apperr.Validation("credit amount must be positive")
	}

	var balance int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		entry, err := r.appendEntry(ctx, tx, tenantID, entryType, amount, reason, nil, orderID)
		if err != nil {
			return err
		}
		balance = entry.BalanceAfter
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ConsumeCredit appends a negative entry keyed by delivery id and returns
// the new balance. Replaying the same delivery is ErrDuplicateEntry;
// consuming past zero is an insufficient-balance error.
func (r *Repository) ConsumeCredit(ctx context.Context, tenantID uuid.UUID, amount int64, reason string, deliveryID *uuid.UUID) (int64, error) {
	if amount <= 0 {
		return 0, apperr.Validation("consumption amount must be positive")
	}

	var balance int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		entry, err := r.appendEntry(ctx, tx, tenantID, EntryConsumption, -amount, reason, deliveryID, nil)
		if err != nil {
			return err
		}
		balance = entry.BalanceAfter
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// GetBalance derives the balance from the latest ledger entry.
func (r *Repository) GetBalance(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance_after
		FROM credit_ledger_entries
		WHERE tenant_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, tenantID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListEntries returns the newest ledger entries for a tenant.
func (r *Repository) ListEntries(ctx context.Context, tenantID uuid.UUID, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, type, amount, balance_after, description,
			delivery_id, billing_order_id, created_at
		FROM credit_ledger_entries
		WHERE tenant_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &e.Amount, &e.BalanceAfter,
			&e.Description, &e.DeliveryID, &e.BillingOrderID, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
