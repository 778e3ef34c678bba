package deal

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"fidexa/access"
	"fidexa/apperr"
)

// Facts are the externally established conditions a guard may require.
type Facts struct {
	PaymentConfirmed bool
	DisputeResolved  bool
}

type guardFunc func(d Deal, req TransitionRequest, now time.Time) error

// Transition is one row of the state machine: event, legal sources, target,
// the actor shapes allowed to trigger it and its guard. Internal rows belong
// to the dispute subsystem and are only reachable through TransitionTx.
type Transition struct {
	Event    Event
	From     []Status
	To       Status
	Actors   []access.Kind
	Internal bool
	guard    guardFunc
}

var disputable = []Status{StatusFundsSecured, StatusInProgress, StatusDelivered, StatusAwaitingValidation}

var transitions = []Transition{
	{
		Event:  EventPaymentConfirmed,
		From:   []Status{StatusPendingPayment},
		To:     StatusFundsSecured,
		Actors: []access.Kind{access.KindSystem},
		guard: func(_ Deal, req TransitionRequest, _ time.Time) error {
			if !req.Facts.PaymentConfirmed {
				return apperr.New(apperr.KindInvalidTransition, "deal: payment not confirmed")
			}
			return nil
		},
	},
	{
		Event:  EventStartWork,
		From:   []Status{StatusFundsSecured},
		To:     StatusInProgress,
		Actors: []access.Kind{access.KindProvider},
	},
	{
		Event:  EventMarkDelivered,
		From:   []Status{StatusInProgress},
		To:     StatusDelivered,
		Actors: []access.Kind{access.KindProvider},
	},
	{
		Event:  EventRequestValidation,
		From:   []Status{StatusDelivered},
		To:     StatusAwaitingValidation,
		Actors: []access.Kind{access.KindProvider},
	},
	{
		Event:  EventClientValidate,
		From:   []Status{StatusDelivered, StatusAwaitingValidation},
		To:     StatusCompleted,
		Actors: []access.Kind{access.KindClient},
	},
	{
		Event:  EventValidationTimeout,
		From:   []Status{StatusDelivered, StatusAwaitingValidation},
		To:     StatusCompleted,
		Actors: []access.Kind{access.KindSystem},
		guard: func(d Deal, _ TransitionRequest, now time.Time) error {
			if d.ValidationDeadline == nil {
				return apperr.New(apperr.KindInvalidTransition, "deal: no validation deadline")
			}
			if now.Before(*d.ValidationDeadline) {
				return apperr.New(apperr.KindInvalidTransition, "deal: validation window still open")
			}
			return nil
		},
	},
	{
		Event:    EventOpenDispute,
		From:     disputable,
		To:       StatusDispute,
		Actors:   []access.Kind{access.KindProvider, access.KindClient},
		Internal: true,
	},
	{
		Event:    EventResolveForProvider,
		From:     []Status{StatusDispute},
		To:       StatusCompleted,
		Actors:   []access.Kind{access.KindAdmin},
		Internal: true,
		guard:    resolutionGuard,
	},
	{
		Event:    EventResolveForClient,
		From:     []Status{StatusDispute},
		To:       StatusRefunded,
		Actors:   []access.Kind{access.KindAdmin},
		Internal: true,
		guard:    resolutionGuard,
	},
	{
		Event:    EventResolveResumeWork,
		From:     []Status{StatusDispute},
		To:       StatusInProgress,
		Actors:   []access.Kind{access.KindAdmin},
		Internal: true,
		guard:    resolutionGuard,
	},
}

func resolutionGuard(_ Deal, req TransitionRequest, _ time.Time) error {
	if strings.TrimSpace(req.Note) == "" {
		return apperr.Validation("note", "resolution note is required")
	}
	if !req.Facts.DisputeResolved {
		return apperr.New(apperr.KindInvalidTransition, "deal: dispute not resolved")
	}
	return nil
}

// Transitions returns a copy of the state machine table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// Direct reports whether event may be requested on its own, outside the
// dispute subsystem.
func Direct(event Event) bool {
	t, ok := Lookup(event)
	return ok && !t.Internal
}

// Lookup finds the transition for event.
func Lookup(event Event) (Transition, bool) {
	for _, t := range transitions {
		if t.Event == event {
			return t, true
		}
	}
	return Transition{}, false
}

func (t Transition) Allows(from Status) bool {
	return slices.Contains(t.From, from)
}

func (t Transition) Permits(a access.Actor) bool {
	return access.Permits(t.Actors, a)
}

func (t Transition) check(d Deal, req TransitionRequest, now time.Time) error {
	if !t.Allows(d.Status) {
		return apperr.New(apperr.KindInvalidTransition, fmt.Sprintf("deal: cannot %s from %s", t.Event, d.Status))
	}
	if t.guard != nil {
		return t.guard(d, req, now)
	}
	return nil
}

// IsTerminal reports statuses that end the lifecycle.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusRefunded
}

// IsActive reports statuses counted against the provider's quota.
func IsActive(s Status) bool {
	return Valid(s) && !IsTerminal(s)
}

// HoldsFunds reports statuses in which the client's payment sits in escrow.
func HoldsFunds(s Status) bool {
	switch s {
	case StatusFundsSecured, StatusInProgress, StatusDelivered, StatusAwaitingValidation, StatusDispute:
		return true
	}
	return false
}

// MovesFunds reports statuses whose entry triggers a settlement.
func MovesFunds(s Status) bool {
	return IsTerminal(s)
}

// Valid reports whether s is a known status.
func Valid(s Status) bool {
	switch s {
	case StatusPendingPayment, StatusFundsSecured, StatusInProgress, StatusDelivered,
		StatusAwaitingValidation, StatusCompleted, StatusDispute, StatusRefunded:
		return true
	}
	return false
}

// IsEdge reports whether from -> to appears in the table. A nil from is the
// creation edge into pending_payment.
func IsEdge(from *Status, to Status) bool {
	if from == nil {
		return to == StatusPendingPayment
	}
	for _, t := range transitions {
		if t.To == to && t.Allows(*from) {
			return true
		}
	}
	return false
}

// Replay folds history in order and returns the status it reconstructs. It
// fails on the first row that is not a table edge or does not continue from
// the previous row.
func Replay(entries []HistoryEntry) (Status, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("deal: empty history")
	}
	var current *Status
	for i, e := range entries {
		if !sameStatus(e.OldStatus, current) {
			return "", fmt.Errorf("deal: history row %d starts from %s, expected %s", i, fmtStatus(e.OldStatus), fmtStatus(current))
		}
		if !IsEdge(e.OldStatus, e.NewStatus) {
			return "", fmt.Errorf("deal: history row %d: %s -> %s is not a transition", i, fmtStatus(e.OldStatus), e.NewStatus)
		}
		next := e.NewStatus
		current = &next
	}
	return *current, nil
}

func sameStatus(a, b *Status) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func fmtStatus(s *Status) string {
	if s == nil {
		return "<none>"
	}
	return string(*s)
}
