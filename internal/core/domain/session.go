package domain

import "time"

// Revocation reasons recorded on terminal sessions.
const (
	RevokeReasonLogout         = "user_logout"
	RevokeReasonExpired        = "expired"
	RevokeReasonReplayDetected = "replay_detected"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonBulk           = "bulk_revocation"
)

// Session represents one issued credential lineage for a user on one device.
// Refresh tokens are stored hashed; the raw value is only ever held by the client.
// PrevRefreshTokenHash retains the value rotated away most recently so that
// presenting it again can be distinguished from an unknown token (replay signal).
type Session struct {
	ID                   string
	UserID               string
	AccessTokenID        string
	RefreshTokenHash     string
	PrevRefreshTokenHash *string
	DeviceID             *string
	DeviceName           *string
	DeviceType           string
	IPAddress            *string
	UserAgent            *string
	Remember             bool
	CreatedAt            time.Time
	LastUsedAt           time.Time
	ExpiresAt            time.Time
	IsActive             bool
	RevokedAt            *time.Time
	RevokeReason         *string
}

// IsLive reports whether the session is still usable at the supplied moment.
func (s Session) IsLive(at time.Time) bool {
	return s.IsActive && s.RevokedAt == nil && s.ExpiresAt.After(at)
}

// IsExpired reports whether the session passed its expiry at the supplied moment.
func (s Session) IsExpired(at time.Time) bool {
	return !s.ExpiresAt.After(at)
}

// DeviceInfo captures client device metadata supplied at login.
type DeviceInfo struct {
	DeviceID   *string
	DeviceName *string
	DeviceType string
	IPAddress  *string
	UserAgent  *string
}

// SessionRotation carries the replacement credentials applied on a successful refresh.
type SessionRotation struct {
	AccessTokenID    string
	RefreshTokenHash string
	ExpiresAt        time.Time
	RotatedAt        time.Time
}

// TokenPair is the raw credential pair handed to the client after login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
