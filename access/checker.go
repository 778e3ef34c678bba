package access

import (
	"context"
	"errors"
	"fmt"

	"fidexa/apperr"
	"fidexa/auth"
)

// RoleReader reads current role grants from storage.
type RoleReader interface {
	Roles(ctx context.Context, userID string) ([]auth.Role, error)
}

// OwnerLookup answers which provider owns a deal. It returns an error
// matching apperr.ErrNotFound for unknown deals.
type OwnerLookup interface {
	ProviderOf(ctx context.Context, dealID string) (string, error)
}

// Checker exposes the authorization primitives consumed by the HTTP layer:
// has_role, is_admin, is_provider and is_deal_owner. Grants are read from
// storage on every call so a revoked role takes effect before the token
// expires.
type Checker struct {
	roles  RoleReader
	owners OwnerLookup
}

func NewChecker(roles RoleReader, owners OwnerLookup) *Checker {
	return &Checker{roles: roles, owners: owners}
}

func (c *Checker) HasRole(ctx context.Context, userID string, role auth.Role) (bool, error) {
	if userID == "" {
		return false, nil
	}
	roles, err := c.roles.Roles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("access: load roles: %w", err)
	}
	return auth.Principal{UserID: userID, Roles: roles}.HasRole(role), nil
}

func (c *Checker) IsAdmin(ctx context.Context, p auth.Principal) (bool, error) {
	return c.HasRole(ctx, p.UserID, auth.RoleAdmin)
}

func (c *Checker) IsProvider(ctx context.Context, p auth.Principal) (bool, error) {
	return c.HasRole(ctx, p.UserID, auth.RoleProvider)
}

// IsDealOwner reports whether p created dealID. Unknown deals are simply not
// owned.
func (c *Checker) IsDealOwner(ctx context.Context, p auth.Principal, dealID string) (bool, error) {
	if p.UserID == "" || dealID == "" {
		return false, nil
	}
	owner, err := c.owners.ProviderOf(ctx, dealID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("access: deal owner: %w", err)
	}
	return owner == p.UserID, nil
}

// ActorFor resolves an authenticated principal into its actor shape for
// dealID: provider-owner first, then admin. Anyone else sees the deal as
// missing.
func (c *Checker) ActorFor(ctx context.Context, p auth.Principal, dealID, label string) (Actor, error) {
	owner, err := c.IsDealOwner(ctx, p, dealID)
	if err != nil {
		return Actor{}, err
	}
	if owner {
		provider, err := c.IsProvider(ctx, p)
		if err != nil {
			return Actor{}, err
		}
		if provider {
			return Provider(p.UserID, label), nil
		}
	}

	admin, err := c.IsAdmin(ctx, p)
	if err != nil {
		return Actor{}, err
	}
	if admin {
		return Admin(p.UserID, "admin"), nil
	}
	return Actor{}, ErrDealNotFound
}
