// Package repository persists lead deliveries. A delivery row snapshots the
// qualified lead at handoff time and tracks dispatch attempts toward the
// tenant endpoint.
package repository

import (
	"context"
	"errors"
	"time"

	"leadgate_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDelivered  Status = "DELIVERED"
	StatusPartial    Status = "PARTIAL"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

type Delivery struct {
	ID            uuid.UUID
	LeadOfferID   uuid.UUID
	TenantID      uuid.UUID
	Status        Status
	Payload       []byte // JSON snapshot frozen at creation
	Attempts      int
	LastError     *string
	NextAttemptAt *time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const deliveryColumns = `id, lead_offer_id, tenant_id, status, payload,
	attempts, last_error, next_attempt_at, delivered_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.LeadOfferID, &d.TenantID, &d.Status, &d.Payload,
		&d.Attempts, &d.LastError, &d.NextAttemptAt, &d.DeliveredAt,
		&d.CreatedAt, &d.UpdatedAt)
	return d, err
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a PENDING delivery, at most one per lead offer. A repeat
// call for the same lead offer returns the existing row unchanged, so
// reprocessed qualification events cannot fan out into duplicate handoffs.
func (r *Repository) Create(ctx context.Context, id, leadOfferID, tenantID uuid.UUID, payload []byte) (Delivery, bool, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, `
		INSERT INTO deliveries (id, lead_offer_id, tenant_id, status, payload, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (lead_offer_id) DO NOTHING
		RETURNING `+deliveryColumns,
		id, leadOfferID, tenantID, StatusPending, payload))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, false, err
	}

	d, err = scanDelivery(r.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE lead_offer_id = $1
	`, leadOfferID))
	if err != nil {
		return Delivery{}, false, err
	}
	return d, false, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, apperr.NotFound("delivery not found")
	}
	return d, err
}

func (r *Repository) GetByLeadOffer(ctx context.Context, leadOfferID uuid.UUID) (Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE lead_offer_id = $1
	`, leadOfferID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, apperr.NotFound("delivery not found")
	}
	return d, err
}

// SelectDueBatch picks pending deliveries whose retry timer elapsed, oldest
// first. SKIP LOCKED only spreads rows across selections racing at the same
// instant; the locks end with the statement. The status-guarded MarkOutcome
// is what keeps a delivery from being finalized twice.
func (r *Repository) SelectDueBatch(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE status = $1 AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// ListByTenant returns the newest deliveries for a tenant.
func (r *Repository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// MarkOutcome finalizes a delivery as DELIVERED or PARTIAL.
func (r *Repository) MarkOutcome(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $2, attempts = attempts + 1, last_error = NULL,
			next_attempt_at = NULL, delivered_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, status, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("delivery is no longer pending")
	}
	return nil
}

// RecordAttemptFailure bumps the attempt counter and schedules the next try.
func (r *Repository) RecordAttemptFailure(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, updated_at = now()
		WHERE id = $1
	`, id, lastError, nextAttemptAt)
	return err
}

// MarkTerminalFailure parks a delivery as FAILED or DEAD_LETTER.
func (r *Repository) MarkTerminalFailure(ctx context.Context, id uuid.UUID, status Status, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $2, last_error = $3, next_attempt_at = NULL, updated_at = now()
		WHERE id = $1
	`, id, status, lastError)
	return err
}
