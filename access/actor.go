// Package access resolves who is acting on a deal and what that actor may do.
package access

import (
	"slices"

	"fidexa/apperr"
)

// Kind is an actor shape. Transition definitions list the kinds allowed to
// invoke them.
type Kind string

const (
	KindProvider Kind = "provider"
	KindClient   Kind = "client"
	KindAdmin    Kind = "admin"
	KindSystem   Kind = "system"
)

// Actor is the resolved caller of one operation.
//
// A provider or admin carries UserID. A client carries the DealID its token
// resolved to and no UserID. System actors carry neither; Label names the
// trigger ("system/timeout", "system/payment").
type Actor struct {
	Kind   Kind
	UserID string
	DealID string
	Label  string
}

func Provider(userID, label string) Actor {
	return Actor{Kind: KindProvider, UserID: userID, Label: label}
}

func Admin(userID, label string) Actor {
	return Actor{Kind: KindAdmin, UserID: userID, Label: label}
}

// Client is the actor for a caller holding the secure token of dealID.
func Client(dealID, label string) Actor {
	return Actor{Kind: KindClient, DealID: dealID, Label: label}
}

func System(label string) Actor {
	return Actor{Kind: KindSystem, Label: label}
}

var (
	TimeoutActor = System("system/timeout")
	PaymentActor = System("system/payment")
)

// Reference is the principal id recorded on history and messages; nil for
// clients and system triggers.
func (a Actor) Reference() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// DisplayLabel falls back to the kind when no label was resolved.
func (a Actor) DisplayLabel() string {
	if a.Label != "" {
		return a.Label
	}
	return string(a.Kind)
}

// Permits reports whether the actor's kind is in allowed.
func Permits(allowed []Kind, a Actor) bool {
	return slices.Contains(allowed, a.Kind)
}

// ErrDealNotFound is the single answer for unknown deals, unknown tokens and
// tokens presented against another deal.
var ErrDealNotFound = apperr.New(apperr.KindNotFound, "deal not found")

// BindToDeal checks that a is acting on its own deal. A client bound to a
// different deal gets ErrDealNotFound; a provider that does not own the deal
// gets a forbidden error. Admin and system actors are not deal-bound.
func BindToDeal(a Actor, dealID, providerID string) error {
	switch a.Kind {
	case KindClient:
		if a.DealID == "" || a.DealID != dealID {
			return ErrDealNotFound
		}
	case KindProvider:
		if a.UserID == "" || a.UserID != providerID {
			return apperr.New(apperr.KindForbidden, "access: provider does not own deal")
		}
	case KindAdmin:
		if a.UserID == "" {
			return apperr.New(apperr.KindForbidden, "access: admin identity missing")
		}
	case KindSystem:
	default:
		return apperr.New(apperr.KindForbidden, "access: unknown actor")
	}
	return nil
}
