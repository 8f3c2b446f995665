package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"leadgate_backend/internal/leads/domain"
	"leadgate_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const leadOfferColumns = `
	id, lead_id, tenant_id, offer_id, status, contact_attempts,
	reactivation_count, next_attempt_at, status_changed_at,
	disqualification_category, billing_eligibility, qualification_fields,
	score, score_breakdown, version, created_at, updated_at`

func scanLeadOffer(row pgx.Row) (LeadOffer, error) {
	var (
		lo         LeadOffer
		fieldsJSON []byte
	)
	err := row.Scan(
		&lo.ID, &lo.LeadID, &lo.TenantID, &lo.OfferID, &lo.Status,
		&lo.ContactAttempts, &lo.ReactivationCount, &lo.NextAttemptAt,
		&lo.StatusChangedAt, &lo.DisqualificationCategory, &lo.BillingEligibility,
		&fieldsJSON, &lo.Score, &lo.ScoreBreakdown, &lo.Version,
		&lo.CreatedAt, &lo.UpdatedAt,
	)
	if err != nil {
		return LeadOffer{}, err
	}

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &lo.Fields); err != nil {
			return LeadOffer{}, err
		}
	}
	return lo, nil
}

// CreateLeadOffer inserts a fresh PENDING_MAPPING row for a lead.
func (r *Repository) CreateLeadOffer(ctx context.Context, leadID uuid.UUID) (LeadOffer, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO lead_offers (lead_id, status, billing_eligibility, qualification_fields)
		VALUES ($1, $2, $3, '{}'::jsonb)
		RETURNING`+leadOfferColumns, leadID, domain.StatusPendingMapping, domain.BillingEligible)
	return scanLeadOffer(row)
}

// GetLeadOffer loads a lead offer by id.
func (r *Repository) GetLeadOffer(ctx context.Context, id uuid.UUID) (LeadOffer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+leadOfferColumns+`
		FROM lead_offers
		WHERE id = $1`, id)
	lo, err := scanLeadOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadOffer{}, apperr.NotFound("lead offer not found")
	}
	return lo, err
}

// GetActiveLeadOfferForLead returns the most recent non-terminal lead offer
// for a lead, if any.
func (r *Repository) GetActiveLeadOfferForLead(ctx context.Context, leadID uuid.UUID) (LeadOffer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+leadOfferColumns+`
		FROM lead_offers
		WHERE lead_id = $1
		  AND status NOT IN ($2, $3, $4)
		ORDER BY created_at DESC
		LIMIT 1`, leadID, domain.StatusSentToDeveloper, domain.StatusDisqualified, domain.StatusStopped)
	lo, err := scanLeadOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadOffer{}, apperr.NotFound("no active lead offer")
	}
	return lo, err
}

// TransitionUpdate carries the row mutations applied together with a status
// change. Nil members leave the column untouched.
type TransitionUpdate struct {
	TenantID                 *uuid.UUID
	OfferID                  *uuid.UUID
	ContactAttempts          *int
	ReactivationCount        *int
	NextAttemptAt            *time.Time
	ClearNextAttempt         bool
	DisqualificationCategory *domain.DisqualificationCategory
	BillingEligibility       *domain.BillingEligibility
	Fields                   *domain.QualificationFields
	Score                    *int
	ScoreBreakdown           []byte
}

// ApplyTransition moves a lead offer along a defined edge under an
// optimistic version check, recording the audit row in the same transaction.
// The caller passes the row it read; a concurrent writer bumping the version
// in between yields ErrVersionConflict and no changes.
func (r *Repository) ApplyTransition(ctx context.Context, current LeadOffer, event domain.Event, update TransitionUpdate) (LeadOffer, error) {
	next, err := domain.Transition(current.Status, event)
	if err != nil {
		return LeadOffer{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return LeadOffer{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fieldsJSON []byte
	if update.Fields != nil {
		fieldsJSON, err = json.Marshal(update.Fields)
		if err != nil {
			return LeadOffer{}, err
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE lead_offers SET
			status = $3,
			tenant_id = COALESCE($4, tenant_id),
			offer_id = COALESCE($5, offer_id),
			contact_attempts = COALESCE($6, contact_attempts),
			reactivation_count = COALESCE($7, reactivation_count),
			next_attempt_at = CASE WHEN $8 THEN NULL ELSE COALESCE($9, next_attempt_at) END,
			disqualification_category = COALESCE($10, disqualification_category),
			billing_eligibility = COALESCE($11, billing_eligibility),
			qualification_fields = COALESCE($12, qualification_fields),
			score = COALESCE($13, score),
			score_breakdown = COALESCE($14, score_breakdown),
			status_changed_at = CASE WHEN status <> $3 THEN now() ELSE status_changed_at END,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING`+leadOfferColumns,
		current.ID, current.Version, next,
		update.TenantID, update.OfferID,
		update.ContactAttempts, update.ReactivationCount,
		update.ClearNextAttempt, update.NextAttemptAt,
		update.DisqualificationCategory, update.BillingEligibility,
		fieldsJSON, update.Score, update.ScoreBreakdown,
	)

	updated, err := scanLeadOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadOffer{}, ErrVersionConflict
	}
	if err != nil {
		return LeadOffer{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO lead_offer_transitions (lead_offer_id, old_status, new_status, trigger)
		VALUES ($1, $2, $3, $4)
	`, current.ID, current.Status, next, event); err != nil {
		return LeadOffer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return LeadOffer{}, err
	}

	return updated, nil
}

// UpdateFields persists merged qualification fields without a status change,
// still under the optimistic version guard.
func (r *Repository) UpdateFields(ctx context.Context, current LeadOffer, update TransitionUpdate) (LeadOffer, error) {
	var (
		fieldsJSON []byte
		err        error
	)
	if update.Fields != nil {
		fieldsJSON, err = json.Marshal(update.Fields)
		if err != nil {
			return LeadOffer{}, err
		}
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE lead_offers SET
			qualification_fields = COALESCE($3, qualification_fields),
			score = COALESCE($4, score),
			score_breakdown = COALESCE($5, score_breakdown),
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING`+leadOfferColumns,
		current.ID, current.Version, fieldsJSON, update.Score, update.ScoreBreakdown)

	updated, err := scanLeadOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadOffer{}, ErrVersionConflict
	}
	return updated, err
}

// TransitionRecord is one audit row from the status history.
type TransitionRecord struct {
	ID          int64
	LeadOfferID uuid.UUID
	OldStatus   domain.Status
	NewStatus   domain.Status
	Trigger     domain.Event
	CreatedAt   time.Time
}

// ListTransitions returns the status history for a lead offer, oldest first.
func (r *Repository) ListTransitions(ctx context.Context, leadOfferID uuid.UUID) ([]TransitionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_offer_id, old_status, new_status, trigger, created_at
		FROM lead_offer_transitions
		WHERE lead_offer_id = $1
		ORDER BY id ASC
	`, leadOfferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]TransitionRecord, 0)
	for rows.Next() {
		var t TransitionRecord
		if err := rows.Scan(&t.ID, &t.LeadOfferID, &t.OldStatus, &t.NewStatus, &t.Trigger, &t.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// SelectRetryBatch returns lead offers due for a contact retry, oldest first.
func (r *Repository) SelectRetryBatch(ctx context.Context, now time.Time, limit int) ([]LeadOffer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+leadOfferColumns+`
		FROM lead_offers
		WHERE status IN ($1, $2)
		  AND contact_attempts < $3
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= $4
		ORDER BY next_attempt_at ASC
		LIMIT $5`,
		domain.StatusContacted, domain.StatusToBeContacted,
		domain.MaxContactAttempts, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeadOffers(rows)
}

// SelectReactivationBatch returns cooled lead offers eligible for a
// reactivation attempt, oldest first.
func (r *Repository) SelectReactivationBatch(ctx context.Context, cutoff time.Time, limit int) ([]LeadOffer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+leadOfferColumns+`
		FROM lead_offers
		WHERE status = $1
		  AND reactivation_count < $2
		  AND status_changed_at <= $3
		ORDER BY status_changed_at ASC
		LIMIT $4`,
		domain.StatusCooling, domain.MaxReactivations, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeadOffers(rows)
}

// SweepStaleToCooling bulk-moves exhausted, unresponsive lead offers to
// COOLING and marks them not chargeable. The WHERE clause restricts the
// update to rows for which the NO_RESPONSE_TIMEOUT edge is defined, so the
// bulk path cannot produce a state unreachable from the transition table.
// Audit rows are written for every moved lead offer.
func (r *Repository) SweepStaleToCooling(ctx context.Context, createdBefore time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		WITH stale AS (
			SELECT id, status
			FROM lead_offers
			WHERE status IN ($3, $4)
			  AND contact_attempts >= $5
			  AND created_at <= $6
			FOR UPDATE SKIP LOCKED
		)
		UPDATE lead_offers lo SET
			status = $1,
			billing_eligibility = $2,
			status_changed_at = now(),
			version = lo.version + 1,
			updated_at = now()
		FROM stale
		WHERE lo.id = stale.id
		RETURNING lo.id, stale.status`,
		domain.StatusCooling, domain.BillingNotChargeableIncomplete,
		domain.StatusContacted, domain.StatusToBeContacted,
		domain.MaxContactAttempts, createdBefore)
	if err != nil {
		return 0, err
	}

	type moved struct {
		id        uuid.UUID
		oldStatus domain.Status
	}
	var movedRows []moved
	for rows.Next() {
		var m moved
		if err := rows.Scan(&m.id, &m.oldStatus); err != nil {
			rows.Close()
			return 0, err
		}
		movedRows = append(movedRows, m)
	}
	rows.Close()
	if rows.Err() != nil {
		return 0, rows.Err()
	}

	for _, m := range movedRows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO lead_offer_transitions (lead_offer_id, old_status, new_status, trigger)
			VALUES ($1, $2, $3, $4)
		`, m.id, m.oldStatus, domain.StatusCooling, domain.EventNoResponseTimeout); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return len(movedRows), nil
}

func collectLeadOffers(rows pgx.Rows) ([]LeadOffer, error) {
	items := make([]LeadOffer, 0)
	for rows.Next() {
		lo, err := scanLeadOffer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, lo)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}
