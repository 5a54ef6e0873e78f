package domain

import "time"

// UserStatus enumerates possible account states.
type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// User mirrors the persisted representation in the users table.
// Soft deletion and row versioning are handled entirely by the store adapter;
// a repository never returns a soft-deleted user.
type User struct {
	ID                  string
	Email               string
	FirstName           string
	LastName            *string
	PasswordHash        string
	PasswordAlgo        string
	Status              UserStatus
	RoleID              *string
	EmailVerified       bool
	EmailVerifiedAt     *time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         *string
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	VerifyTokenHash     *string
	PasswordChangedAt   time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the account lockout window is still open at the supplied moment.
// The lock wins over password correctness; callers must check it before verifying credentials.
func (u User) IsLocked(at time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(at)
}

// Sanitized returns a copy with credential material blanked for returning to callers.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.ResetTokenHash = nil
	u.VerifyTokenHash = nil
	return u
}
