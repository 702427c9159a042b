package domain

import "time"

// Code is a one-time email code (stored in email_codes). Only the hash is persisted.
type Code struct {
	ID        string
	Email     string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the code can no longer be used at now.
func (c *Code) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
