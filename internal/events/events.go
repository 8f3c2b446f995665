// Package events re-exports the platform event bus and defines the domain
// events exchanged between modules.
package events

import (
	"time"

	platformevents "leadgate_backend/platform/events"
	"leadgate_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-exports so internal modules import a single events package.
type (
	Event       = platformevents.Event
	BaseEvent   = platformevents.BaseEvent
	Bus         = platformevents.Bus
	Handler     = platformevents.Handler
	HandlerFunc = platformevents.HandlerFunc
	InMemoryBus = platformevents.InMemoryBus
)

// NewBaseEvent creates a new base event with the current timestamp.
func NewBaseEvent() BaseEvent { return platformevents.NewBaseEvent() }

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(log)
}

// LeadCreated fires when a previously-unseen phone number becomes a lead.
type LeadCreated struct {
	BaseEvent
	LeadID uuid.UUID
	Phone  string
}

func (LeadCreated) EventName() string { return "leads.created" }

// LeadReady fires when a lead offer reaches LEAD_READY.
type LeadReady struct {
	BaseEvent
	LeadOfferID uuid.UUID
	TenantID    uuid.UUID
	Score       int
}

func (LeadReady) EventName() string { return "leads.ready" }

// LeadDisqualified fires when scoring rejects a lead offer.
type LeadDisqualified struct {
	BaseEvent
	LeadOfferID uuid.UUID
	Category    string
}

func (LeadDisqualified) EventName() string { return "leads.disqualified" }

// DeliveryDeadLettered fires when a delivery exhausts its retries. Alerting
// subscribes to this; it always requires manual intervention.
type DeliveryDeadLettered struct {
	BaseEvent
	DeliveryID  uuid.UUID
	LeadOfferID uuid.UUID
	TenantID    uuid.UUID
	LastError   string
}

func (DeliveryDeadLettered) EventName() string { return "deliveries.dead_lettered" }

// CreditsPurchased fires after a billing order is reconciled.
type CreditsPurchased struct {
	BaseEvent
	TenantID   uuid.UUID
	OrderID    uuid.UUID
	Credits    int64
	NewBalance int64
}

func (CreditsPurchased) EventName() string { return "billing.credits_purchased" }

// SweepCompleted fires after a scheduler sweep run with phase counters.
type SweepCompleted struct {
	BaseEvent
	StartedAt time.Time
	Retried   int
	Revived   int
	Cooled    int
	Errors    int
}

func (SweepCompleted) EventName() string { return "scheduler.sweep_completed" }
