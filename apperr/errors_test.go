package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("deal: create: %w", New(KindQuotaExceeded, "deal: quota of 3 active deals reached"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error to match sentinel, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("quota error must not match validation")
	}
}

func TestConflictIsInvalidTransition(t *testing.T) {
	err := New(KindConflict, "deal: status changed")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected conflict to satisfy ErrInvalidTransition")
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict to satisfy ErrConflict")
	}
	if errors.Is(New(KindInvalidTransition, "x"), ErrConflict) {
		t.Fatalf("invalid transition must not satisfy ErrConflict")
	}
}

func TestValidationField(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Validation("amount", "amount must be positive"))
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation kind, got %q", KindOf(err))
	}
	if FieldOf(err) != "amount" {
		t.Fatalf("expected field amount, got %q", FieldOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty kind for plain error")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindPaymentCollaborator, "payment: release", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
}
