package provider

import (
	"context"
	"errors"
	"testing"

	"fidexa/apperr"
)

type memoryStore struct {
	profiles map[string]Profile
	err      error
}

func (m *memoryStore) Get(_ context.Context, userID string) (Profile, error) {
	if m.err != nil {
		return Profile{}, m.err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) Upsert(_ context.Context, p Profile) (Profile, error) {
	if m.profiles == nil {
		m.profiles = map[string]Profile{}
	}
	m.profiles[p.UserID] = p
	return p, nil
}

func TestUpdateTrimsAndClearsBlankFields(t *testing.T) {
	store := &memoryStore{}
	svc := NewService(store)

	company := "  Studio Awa "
	empty := "   "
	got, err := svc.Update(context.Background(), "u1", UpdateParams{FullName: " Awa Diop ", CompanyName: &company, Phone: &empty})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.FullName != "Awa Diop" || got.CompanyName == nil || *got.CompanyName != "Studio Awa" {
		t.Fatalf("unexpected profile: %+v", got)
	}
	if got.Phone != nil {
		t.Fatalf("blank phone should be cleared, got %q", *got.Phone)
	}
	if got.DisplayName() != "Studio Awa" {
		t.Fatalf("display name should prefer the company, got %q", got.DisplayName())
	}
}

func TestUpdateRequiresName(t *testing.T) {
	svc := NewService(&memoryStore{})
	_, err := svc.Update(context.Background(), "u1", UpdateParams{FullName: " "})
	if !errors.Is(err, apperr.ErrValidation) || apperr.FieldOf(err) != "full_name" {
		t.Fatalf("expected full_name validation error, got %v", err)
	}
}

func TestPublicCardFallsBackWithoutProfile(t *testing.T) {
	svc := NewService(&memoryStore{})
	card, err := svc.PublicCard(context.Background(), "u1", "Awa Diop")
	if err != nil {
		t.Fatalf("public card: %v", err)
	}
	if card.DisplayName != "Awa Diop" {
		t.Fatalf("unexpected card: %+v", card)
	}

	boom := errors.New("db down")
	svc = NewService(&memoryStore{err: boom})
	if _, err := svc.PublicCard(context.Background(), "u1", "x"); !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
