// Package domain provides core business rules for the leads bounded context.
package domain

import (
	"fmt"

	"leadgate_backend/platform/apperr"
)

// Status is the lifecycle state of a LeadOffer.
type Status string

const (
	StatusPendingMapping  Status = "PENDING_MAPPING"
	StatusToBeContacted   Status = "TO_BE_CONTACTED"
	StatusContacted       Status = "CONTACTED"
	StatusEngaged         Status = "ENGAGED"
	StatusQualifying      Status = "QUALIFYING"
	StatusScored          Status = "SCORED"
	StatusLeadReady       Status = "LEAD_READY"
	StatusSentToDeveloper Status = "SENT_TO_DEVELOPER"
	StatusCooling         Status = "COOLING"
	StatusReactivation    Status = "REACTIVATION"
	StatusDisqualified    Status = "DISQUALIFIED"
	StatusStopped         Status = "STOPPED"
	StatusHumanHandoff    Status = "HUMAN_HANDOFF"
)

// Event is a trigger that may move a LeadOffer between statuses.
type Event string

const (
	EventSourceMapped      Event = "SOURCE_MAPPED"
	EventOutboundSent      Event = "OUTBOUND_SENT"
	EventRetryContact      Event = "RETRY_CONTACT"
	EventInboundReply      Event = "INBOUND_REPLY"
	EventFieldsExtracted   Event = "FIELDS_EXTRACTED"
	EventScoreComputed     Event = "SCORE_COMPUTED"
	EventQualified         Event = "QUALIFIED"
	EventDisqualified      Event = "DISQUALIFIED"
	EventDeliveryCompleted Event = "DELIVERY_COMPLETED"
	EventNoResponseTimeout Event = "NO_RESPONSE_TIMEOUT"
	EventReactivationDue   Event = "REACTIVATION_DUE"
	EventReactivationSent  Event = "REACTIVATION_SENT"
	EventStopRequested     Event = "STOP_REQUESTED"
	EventHumanHandoff      Event = "HUMAN_HANDOFF"
)

// DisqualificationCategory records why a lead was rejected.
type DisqualificationCategory string

const (
	DisqualifiedPriceTooHigh  DisqualificationCategory = "PRICE_TOO_HIGH"
	DisqualifiedPriceTooLow   DisqualificationCategory = "PRICE_TOO_LOW"
	DisqualifiedWrongZone     DisqualificationCategory = "WRONG_ZONE"
	DisqualifiedWrongTypology DisqualificationCategory = "WRONG_TYPOLOGY"
	DisqualifiedNotInterested DisqualificationCategory = "NOT_INTERESTED"
	DisqualifiedOther         DisqualificationCategory = "OTHER"
)

// BillingEligibility marks whether a LeadOffer can ever be charged.
type BillingEligibility string

const (
	BillingEligible                BillingEligibility = "ELIGIBLE"
	BillingNotChargeableIncomplete BillingEligibility = "NOT_CHARGEABLE_INCOMPLETE"
)

// MaxContactAttempts caps outbound contact retries per LeadOffer.
const MaxContactAttempts = 3

// MaxReactivations caps scheduled reactivation attempts per LeadOffer.
const MaxReactivations = 3

// transitions is the single authoritative edge table. No code path may set a
// LeadOffer status without going through Transition.
var transitions = map[Status]map[Event]Status{
	StatusPendingMapping: {
		EventSourceMapped:  StatusToBeContacted,
		EventStopRequested: StatusStopped,
	},
	StatusToBeContacted: {
		EventOutboundSent:      StatusContacted,
		EventRetryContact:      StatusContacted,
		EventNoResponseTimeout: StatusCooling,
		EventStopRequested:     StatusStopped,
		EventHumanHandoff:      StatusHumanHandoff,
	},
	StatusContacted: {
		EventRetryContact:      StatusContacted,
		EventInboundReply:      StatusEngaged,
		EventNoResponseTimeout: StatusCooling,
		EventStopRequested:     StatusStopped,
		EventHumanHandoff:      StatusHumanHandoff,
	},
	StatusEngaged: {
		EventInboundReply:    StatusEngaged,
		EventFieldsExtracted: StatusQualifying,
		EventStopRequested:   StatusStopped,
		EventHumanHandoff:    StatusHumanHandoff,
	},
	StatusQualifying: {
		EventInboundReply:  StatusQualifying,
		EventScoreComputed: StatusScored,
		EventStopRequested: StatusStopped,
		EventHumanHandoff:  StatusHumanHandoff,
	},
	StatusScored: {
		// New information reopens qualification.
		EventInboundReply:  StatusQualifying,
		EventQualified:     StatusLeadReady,
		EventDisqualified:  StatusDisqualified,
		EventStopRequested: StatusStopped,
		EventHumanHandoff:  StatusHumanHandoff,
	},
	StatusLeadReady: {
		EventDeliveryCompleted: StatusSentToDeveloper,
		EventStopRequested:     StatusStopped,
		EventHumanHandoff:      StatusHumanHandoff,
	},
	StatusCooling: {
		EventReactivationDue: StatusReactivation,
		EventStopRequested:   StatusStopped,
	},
	StatusReactivation: {
		EventReactivationSent: StatusCooling,
		EventInboundReply:     StatusEngaged,
		EventStopRequested:    StatusStopped,
		EventHumanHandoff:     StatusHumanHandoff,
	},
	StatusHumanHandoff: {
		EventStopRequested: StatusStopped,
	},
	// SENT_TO_DEVELOPER, DISQUALIFIED and STOPPED are terminal.
}

// terminalStatuses are statuses with no outgoing edges.
var terminalStatuses = map[Status]bool{
	StatusSentToDeveloper: true,
	StatusDisqualified:    true,
	StatusStopped:         true,
}

// IsTerminal returns true if no event can move the LeadOffer further.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// IsKnownStatus reports whether s is a defined lifecycle status.
func IsKnownStatus(s Status) bool {
	if terminalStatuses[s] {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// Transition is the guarded pure transition function. It returns the next
// status for (current, event), or an invalid-transition error when the event
// matches no edge from the current status. Undefined events are never
// silently coerced or ignored; the caller decides whether to retry, log or
// alert.
func Transition(current Status, event Event) (Status, error) {
	edges, ok := transitions[current]
	if !ok {
		return "", apperr.InvalidTransition(
			fmt.Sprintf("no transitions defined from status %s (event %s)", current, event))
	}

	next, ok := edges[event]
	if !ok {
		return "", apperr.InvalidTransition(
			fmt.Sprintf("event %s is not valid from status %s", event, current))
	}

	return next, nil
}

// CanTransition reports whether the edge (current, event) exists.
func CanTransition(current Status, event Event) bool {
	_, err := Transition(current, event)
	return err == nil
}
