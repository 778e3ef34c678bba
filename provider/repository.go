package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fidexa/apperr"
	"fidexa/db"
)

// ErrNotFound signals the requested provider has no profile.
var ErrNotFound = apperr.New(apperr.KindNotFound, "provider: not found")

// Repository reads and writes provider profiles.
type Repository struct {
	db db.Querier
}

// NewRepository wires a pgx-backed repository implementation.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// Get fetches a profile by the owning user id.
func (r *Repository) Get(ctx context.Context, userID string) (Profile, error) {
	const query = `
		SELECT user_id::text, full_name, company_name, phone, bio, avatar_url, updated_at
		FROM profiles
		WHERE user_id = $1
	`

	var p Profile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.FullName,
		&p.CompanyName,
		&p.Phone,
		&p.Bio,
		&p.AvatarURL,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("provider: query by user: %w", err)
	}
	return p, nil
}

// Upsert stores the profile, creating it on first write.
func (r *Repository) Upsert(ctx context.Context, p Profile) (Profile, error) {
	const query = `
		INSERT INTO profiles (user_id, full_name, company_name, phone, bio, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			company_name = EXCLUDED.company_name,
			phone = EXCLUDED.phone,
			bio = EXCLUDED.bio,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = now()
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query, p.UserID, p.FullName, p.CompanyName, p.Phone, p.Bio, p.AvatarURL).Scan(&p.UpdatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("provider: upsert: %w", err)
	}
	return p, nil
}
