// Package repository provides persistence for leads, lead offers and their
// conversation history.
package repository

import (
	"context"
	"errors"
	"time"

	"leadgate_backend/internal/leads/domain"
	"leadgate_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrVersionConflict signals a lost optimistic-lock race on a lead offer row.
// Callers reload and retry.
var ErrVersionConflict = errors.New("lead offer version conflict")

// Lead is a contact, identified primarily by phone number. Identity fields
// are immutable after creation; contact metadata may be updated.
type Lead struct {
	ID        uuid.UUID
	Phone     string
	Name      *string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeadOffer pairs a lead with one commercial offer inside one tenant. This is
// the unit the state machine operates on. TenantID and OfferID are nil while
// the lead's source is unmapped (PENDING_MAPPING).
type LeadOffer struct {
	ID                       uuid.UUID
	LeadID                   uuid.UUID
	TenantID                 *uuid.UUID
	OfferID                  *uuid.UUID
	Status                   domain.Status
	ContactAttempts          int
	ReactivationCount        int
	NextAttemptAt            *time.Time
	StatusChangedAt          time.Time
	DisqualificationCategory *domain.DisqualificationCategory
	BillingEligibility       domain.BillingEligibility
	Fields                   domain.QualificationFields
	Score                    *int
	ScoreBreakdown           []byte // JSON component breakdown
	Version                  int64
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreateLeadByPhone resolves a lead by normalized phone, creating it on
// first contact from a previously-unseen number.
func (r *Repository) GetOrCreateLeadByPhone(ctx context.Context, phone string, name *string) (Lead, bool, error) {
	var lead Lead
	created := false

	err := r.pool.QueryRow(ctx, `
		INSERT INTO leads (phone, name)
		VALUES ($1, $2)
		ON CONFLICT (phone) DO UPDATE
			SET name = COALESCE(leads.name, EXCLUDED.name),
			    updated_at = now()
		RETURNING id, phone, name, email, created_at, updated_at, (xmax = 0) AS inserted
	`, phone, name).Scan(&lead.ID, &lead.Phone, &lead.Name, &lead.Email, &lead.CreatedAt, &lead.UpdatedAt, &created)
	if err != nil {
		return Lead{}, false, err
	}

	return lead, created, nil
}

// GetLead loads a lead by id.
func (r *Repository) GetLead(ctx context.Context, leadID uuid.UUID) (Lead, error) {
	var lead Lead
	err := r.pool.QueryRow(ctx, `
		SELECT id, phone, name, email, created_at, updated_at
		FROM leads
		WHERE id = $1
	`, leadID).Scan(&lead.ID, &lead.Phone, &lead.Name, &lead.Email, &lead.CreatedAt, &lead.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// UpdateLeadContact sets mutable contact metadata on an existing lead.
func (r *Repository) UpdateLeadContact(ctx context.Context, leadID uuid.UUID, name, email *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET name = COALESCE($2, name),
		    email = COALESCE($3, email),
		    updated_at = now()
		WHERE id = $1
	`, leadID, name, email)
	return err
}
