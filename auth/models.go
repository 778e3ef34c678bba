package auth

import (
	"slices"
	"time"
)

type Role string

const (
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// User is the domain representation of an authenticated principal.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Roles        []Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the verified identity carried by a request. A principal with
// no roles is treated like an anonymous caller.
type Principal struct {
	UserID string
	Roles  []Role
}

func (p Principal) HasRole(role Role) bool {
	return slices.Contains(p.Roles, role)
}

func (p Principal) IsAdmin() bool    { return p.HasRole(RoleAdmin) }
func (p Principal) IsProvider() bool { return p.HasRole(RoleProvider) }

// RegisterRequest contains provider registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
