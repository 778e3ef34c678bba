package provider

import (
	"context"
	"strings"

	"fidexa/apperr"
)

// ProfileStore abstracts repository operations for the service.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (Profile, error)
	Upsert(ctx context.Context, p Profile) (Profile, error)
}

// Service exposes business-level provider operations.
type Service struct {
	repo ProfileStore
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileStore) *Service {
	return &Service{repo: repo}
}

// UpdateParams carries the editable profile fields.
type UpdateParams struct {
	FullName    string
	CompanyName *string
	Phone       *string
	Bio         *string
	AvatarURL   *string
}

// Get returns the profile for the given provider.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	return s.repo.Get(ctx, userID)
}

// Update replaces the editable fields of the provider's profile.
func (s *Service) Update(ctx context.Context, userID string, p UpdateParams) (Profile, error) {
	name := strings.TrimSpace(p.FullName)
	if name == "" {
		return Profile{}, apperr.Validation("full_name", "full name is required")
	}
	return s.repo.Upsert(ctx, Profile{
		UserID:      userID,
		FullName:    name,
		CompanyName: blankToNil(p.CompanyName),
		Phone:       blankToNil(p.Phone),
		Bio:         blankToNil(p.Bio),
		AvatarURL:   blankToNil(p.AvatarURL),
	})
}

// PublicCard returns what a client sees of the provider. A provider without a
// profile row still gets a card built from the fallback name.
func (s *Service) PublicCard(ctx context.Context, userID, fallbackName string) (PublicCard, error) {
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return PublicCard{DisplayName: fallbackName, FullName: fallbackName}, nil
		}
		return PublicCard{}, err
	}
	return p.Public(), nil
}

func blankToNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
