package domain

import (
	"errors"
	"strings"
	"time"
)

// User is a principal: the account a session belongs to.
type User struct {
	ID       string
	Username string
	Email    string
	Campus   string
	College  string
	Major    string
	// CurrentJTI is the session pointer; "" when the user never logged in. Written only by the session service.
	CurrentJTI string
	Blocked    bool
	// BlockEndTime ends the block. A block only holds while BlockEndTime is in the future;
	// a blocked user with no end time is unblocked at the next successful login.
	BlockEndTime *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("username is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if !strings.Contains(u.Email, "@") {
		return errors.New("email is invalid")
	}
	return nil
}

// BlockActive reports whether the block still applies at now.
func (u *User) BlockActive(now time.Time) bool {
	if !u.Blocked {
		return false
	}
	return u.BlockEndTime != nil && now.Before(*u.BlockEndTime)
}

// BlockElapsed reports whether the user is flagged blocked but no block period is running.
func (u *User) BlockElapsed(now time.Time) bool {
	return u.Blocked && !u.BlockActive(now)
}
