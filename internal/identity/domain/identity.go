package domain

import "time"

// Identity is a credential linked to a user. Local identities carry a bcrypt password hash
// and use the username as ProviderID.
type Identity struct {
	ID           string
	UserID       string
	Provider     IdentityProvider
	ProviderID   string
	PasswordHash string // empty if not local
	CreatedAt    time.Time
}

type IdentityProvider string

const (
	IdentityProviderLocal IdentityProvider = "local"
)
