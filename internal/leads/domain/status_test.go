package domain

import (
	"testing"

	"leadgate_backend/platform/apperr"
)

func TestTransitionAllowedEdges(t *testing.T) {
	cases := []struct {
		current Status
		event   Event
		want    Status
	}{
		{StatusPendingMapping, EventSourceMapped, StatusToBeContacted},
		{StatusToBeContacted, EventOutboundSent, StatusContacted},
		{StatusContacted, EventInboundReply, StatusEngaged},
		{StatusContacted, EventRetryContact, StatusContacted},
		{StatusEngaged, EventFieldsExtracted, StatusQualifying},
		{StatusEngaged, EventInboundReply, StatusEngaged},
		{StatusQualifying, EventScoreComputed, StatusScored},
		{StatusScored, EventQualified, StatusLeadReady},
		{StatusScored, EventDisqualified, StatusDisqualified},
		// New information reopens qualification from SCORED.
		{StatusScored, EventInboundReply, StatusQualifying},
		{StatusLeadReady, EventDeliveryCompleted, StatusSentToDeveloper},
		{StatusContacted, EventNoResponseTimeout, StatusCooling},
		{StatusCooling, EventReactivationDue, StatusReactivation},
		{StatusReactivation, EventReactivationSent, StatusCooling},
		// A reactivated lead that replies goes back into the conversation.
		{StatusReactivation, EventInboundReply, StatusEngaged},
		{StatusEngaged, EventStopRequested, StatusStopped},
		{StatusQualifying, EventHumanHandoff, StatusHumanHandoff},
		{StatusHumanHandoff, EventStopRequested, StatusStopped},
	}

	for _, tc := range cases {
		got, err := Transition(tc.current, tc.event)
		if err != nil {
			t.Errorf("Transition(%s, %s): unexpected error %v", tc.current, tc.event, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Transition(%s, %s) = %s, want %s", tc.current, tc.event, got, tc.want)
		}
	}
}

func TestTransitionRejectsUndefinedEdges(t *testing.T) {
	cases := []struct {
		current Status
		event   Event
	}{
		{StatusPendingMapping, EventInboundReply},
		{StatusPendingMapping, EventQualified},
		{StatusContacted, EventQualified},
		{StatusEngaged, EventScoreComputed},
		{StatusQualifying, EventQualified},
		{StatusLeadReady, EventInboundReply},
		{StatusCooling, EventInboundReply},
		{StatusCooling, EventHumanHandoff},
	}

	for _, tc := range cases {
		if _, err := Transition(tc.current, tc.event); err == nil {
			t.Errorf("Transition(%s, %s): expected error, got none", tc.current, tc.event)
		} else if apperr.GetKind(err) != apperr.KindInvalidTransition {
			t.Errorf("Transition(%s, %s): kind = %v, want KindInvalidTransition", tc.current, tc.event, apperr.GetKind(err))
		}
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	terminals := []Status{StatusSentToDeveloper, StatusDisqualified, StatusStopped}
	events := []Event{
		EventSourceMapped, EventOutboundSent, EventRetryContact, EventInboundReply,
		EventFieldsExtracted, EventScoreComputed, EventQualified, EventDisqualified,
		EventDeliveryCompleted, EventNoResponseTimeout, EventReactivationDue,
		EventReactivationSent, EventStopRequested, EventHumanHandoff,
	}

	for _, s := range terminals {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
		for _, e := range events {
			if CanTransition(s, e) {
				t.Errorf("terminal status %s has an edge for %s", s, e)
			}
		}
	}
}

func TestIsKnownStatus(t *testing.T) {
	all := []Status{
		StatusPendingMapping, StatusToBeContacted, StatusContacted, StatusEngaged,
		StatusQualifying, StatusScored, StatusLeadReady, StatusSentToDeveloper,
		StatusCooling, StatusReactivation, StatusDisqualified, StatusStopped,
		StatusHumanHandoff,
	}
	for _, s := range all {
		if !IsKnownStatus(s) {
			t.Errorf("IsKnownStatus(%s) = false, want true", s)
		}
	}
	if IsKnownStatus("NOT_A_STATUS") {
		t.Error("IsKnownStatus accepted an unknown status")
	}
}

func TestEveryNonTerminalStatusCanStop(t *testing.T) {
	for s := range transitions {
		if !CanTransition(s, EventStopRequested) {
			t.Errorf("status %s has no STOP_REQUESTED edge", s)
		}
	}
}
