package deal

import (
	"errors"
	"testing"
	"time"

	"fidexa/access"
	"fidexa/apperr"
)

func statusPtr(s Status) *Status { return &s }

func TestTransitionTableCoversEveryEvent(t *testing.T) {
	events := []Event{
		EventPaymentConfirmed, EventStartWork, EventMarkDelivered, EventRequestValidation,
		EventClientValidate, EventValidationTimeout, EventOpenDispute,
		EventResolveForProvider, EventResolveForClient, EventResolveResumeWork,
	}
	for _, e := range events {
		if _, ok := Lookup(e); !ok {
			t.Errorf("event %s missing from table", e)
		}
	}
	if _, ok := Lookup(EventCreated); ok {
		t.Fatalf("created must not be a transition")
	}
	if got := len(Transitions()); got != len(events) {
		t.Fatalf("expected %d transitions, got %d", len(events), got)
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for _, tr := range Transitions() {
		for _, from := range tr.From {
			if IsTerminal(from) {
				t.Errorf("%s leaves terminal status %s", tr.Event, from)
			}
		}
	}
}

func TestIsEdge(t *testing.T) {
	cases := []struct {
		from *Status
		to   Status
		want bool
	}{
		{nil, StatusPendingPayment, true},
		{nil, StatusFundsSecured, false},
		{statusPtr(StatusPendingPayment), StatusFundsSecured, true},
		{statusPtr(StatusPendingPayment), StatusInProgress, false},
		{statusPtr(StatusPendingPayment), StatusDispute, false},
		{statusPtr(StatusDelivered), StatusCompleted, true},
		{statusPtr(StatusAwaitingValidation), StatusDispute, true},
		{statusPtr(StatusDispute), StatusRefunded, true},
		{statusPtr(StatusDispute), StatusInProgress, true},
		{statusPtr(StatusCompleted), StatusDispute, false},
		{statusPtr(StatusRefunded), StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := IsEdge(tc.from, tc.to); got != tc.want {
			t.Errorf("IsEdge(%s, %s) = %v, want %v", fmtStatus(tc.from), tc.to, got, tc.want)
		}
	}
}

func TestGuards(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	pay, _ := Lookup(EventPaymentConfirmed)
	if err := pay.check(Deal{Status: StatusPendingPayment}, TransitionRequest{}, now); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("payment without confirmation: %v", err)
	}
	if err := pay.check(Deal{Status: StatusPendingPayment}, TransitionRequest{Facts: Facts{PaymentConfirmed: true}}, now); err != nil {
		t.Fatalf("confirmed payment: %v", err)
	}

	timeout, _ := Lookup(EventValidationTimeout)
	if err := timeout.check(Deal{Status: StatusDelivered, ValidationDeadline: &future}, TransitionRequest{}, now); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("timeout before deadline: %v", err)
	}
	if err := timeout.check(Deal{Status: StatusAwaitingValidation, ValidationDeadline: &past}, TransitionRequest{}, now); err != nil {
		t.Fatalf("timeout after deadline: %v", err)
	}
	if err := timeout.check(Deal{Status: StatusAwaitingValidation, ValidationDeadline: &now}, TransitionRequest{}, now); err != nil {
		t.Fatalf("timeout at deadline: %v", err)
	}
	if err := timeout.check(Deal{Status: StatusDispute, ValidationDeadline: &past}, TransitionRequest{}, now); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("timeout from dispute: %v", err)
	}

	resolve, _ := Lookup(EventResolveForClient)
	err := resolve.check(Deal{Status: StatusDispute}, TransitionRequest{Note: "  ", Facts: Facts{DisputeResolved: true}}, now)
	if apperr.FieldOf(err) != "note" {
		t.Fatalf("expected note validation, got %v", err)
	}
	if err := resolve.check(Deal{Status: StatusDispute}, TransitionRequest{Note: "refund"}, now); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("resolution outside a dispute resolution: %v", err)
	}
}

func TestPermitsByActorKind(t *testing.T) {
	validate, _ := Lookup(EventClientValidate)
	if validate.Permits(access.Provider("p", "")) {
		t.Fatalf("provider must not validate")
	}
	if !validate.Permits(access.Client("d", "")) {
		t.Fatalf("client validates")
	}
	open, _ := Lookup(EventOpenDispute)
	if open.Permits(access.Admin("a", "")) || open.Permits(access.TimeoutActor) {
		t.Fatalf("only parties open disputes")
	}
}

func TestReplay(t *testing.T) {
	history := []HistoryEntry{
		{NewStatus: StatusPendingPayment, Event: EventCreated},
		{OldStatus: statusPtr(StatusPendingPayment), NewStatus: StatusFundsSecured},
		{OldStatus: statusPtr(StatusFundsSecured), NewStatus: StatusInProgress},
		{OldStatus: statusPtr(StatusInProgress), NewStatus: StatusDelivered},
		{OldStatus: statusPtr(StatusDelivered), NewStatus: StatusDispute},
		{OldStatus: statusPtr(StatusDispute), NewStatus: StatusRefunded},
	}
	got, err := Replay(history)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got != StatusRefunded {
		t.Fatalf("expected refunded, got %s", got)
	}

	gap := append([]HistoryEntry{}, history[:2]...)
	gap = append(gap, HistoryEntry{OldStatus: statusPtr(StatusInProgress), NewStatus: StatusDelivered})
	if _, err := Replay(gap); err == nil {
		t.Fatalf("expected discontinuity error")
	}

	skip := []HistoryEntry{
		{NewStatus: StatusPendingPayment},
		{OldStatus: statusPtr(StatusPendingPayment), NewStatus: StatusCompleted},
	}
	if _, err := Replay(skip); err == nil {
		t.Fatalf("expected illegal edge error")
	}
	if _, err := Replay(nil); err == nil {
		t.Fatalf("expected empty history error")
	}
}
