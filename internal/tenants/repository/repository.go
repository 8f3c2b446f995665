// Package repository provides persistence for tenants, offers and ad-source
// mappings.
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

// Tenant is the organization that owns offers, leads and a credit balance.
type Tenant struct {
	ID                    uuid.UUID
	Name                  string
	DefaultScoreThreshold int
	CreditsPerLead        int64
	DeliveryEndpoint      string
	DeliverySecret        string
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Offer is a commercial offer (a development, a unit typology) a tenant
// sells leads against.
type Offer struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	PriceMin     int64
	PriceMax     int64
	Zones        []string
	PropertyType string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SourceMapping resolves an inbound ad/source identifier to a tenant+offer
// pair. Leads whose source has no mapping stay in PENDING_MAPPING.
type SourceMapping struct {
	ID        uuid.UUID
	SourceKey string
	TenantID  uuid.UUID
	OfferID   uuid.UUID
	IsActive  bool
	CreatedAt time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetTenant loads a tenant by id.
func (r *Repository) GetTenant(ctx context.Context, tenantID uuid.UUID) (Tenant, error) {
	var t Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, default_score_threshold, credits_per_lead,
			delivery_endpoint, delivery_secret, is_active, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(
		&t.ID, &t.Name, &t.DefaultScoreThreshold, &t.CreditsPerLead,
		&t.DeliveryEndpoint, &t.DeliverySecret, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, apperr.NotFound("tenant not found")
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// GetOffer loads an offer by id scoped to its tenant.
func (r *Repository) GetOffer(ctx context.Context, offerID, tenantID uuid.UUID) (Offer, error) {
	var o Offer
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, price_min, price_max, zones, property_type,
			is_active, created_at, updated_at
		FROM offers
		WHERE id = $1 AND tenant_id = $2
	`, offerID, tenantID).Scan(
		&o.ID, &o.TenantID, &o.Name, &o.PriceMin, &o.PriceMax, &o.Zones,
		&o.PropertyType, &o.IsActive, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, apperr.NotFound("offer not found")
	}
	if err != nil {
		return Offer{}, err
	}
	return o, nil
}

// ResolveSource finds the active tenant+offer mapping for an ad/source key.
func (r *Repository) ResolveSource(ctx context.Context, sourceKey string) (SourceMapping, error) {
	var m SourceMapping
	err := r.pool.QueryRow(ctx, `
		SELECT id, source_key, tenant_id, offer_id, is_active, created_at
		FROM source_mappings
		WHERE source_key = $1 AND is_active = true
	`, sourceKey).Scan(&m.ID, &m.SourceKey, &m.TenantID, &m.OfferID, &m.IsActive, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SourceMapping{}, apperr.NotFound("no mapping for source")
	}
	if err != nil {
		return SourceMapping{}, err
	}
	return m, nil
}
