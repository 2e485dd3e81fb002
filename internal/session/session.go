// Package session holds the single authoritative record of the client's
// authentication state. All mutation goes through the Store's transition
// methods; the rest of the core reads snapshots or watches for changes.
package session

import (
	"strings"
	"time"
)

// Role is the closed set of account roles carried in token claims.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// ParseRole normalizes a raw role claim. Unknown values collapse to
// employee, the least-privileged role.
func ParseRole(raw string) Role {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleManager:
		return RoleManager
	default:
		return RoleEmployee
	}
}

// ProfileFields are the non-authentication attributes held by the profile
// store. They enrich a UserProfile best-effort and are never required for
// a session to be valid.
type ProfileFields struct {
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	JobTitle  string    `json:"jobTitle"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserProfile merges identity-provider fields with profile-store fields.
type UserProfile struct {
	ID    string
	Email string
	Role  Role

	ProfileFields
}

// Session is the process-wide authentication state.
//
// Invariant: Authenticated implies Token and ExpiresAt are set. ExpiresAt
// may be in the past, which means the token is stale and a refresh is
// pending.
type Session struct {
	Authenticated bool
	User          *UserProfile
	Token         string
	ExpiresAt     time.Time
	Err           string
	Loading       bool
}
