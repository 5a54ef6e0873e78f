package port

import (
	"context"
	"time"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
)

// RefreshLookup reports how a refresh-token hash matched a session.
type RefreshLookup int

const (
	// RefreshCurrent means the hash equals the session's live refresh token.
	RefreshCurrent RefreshLookup = iota
	// RefreshSuperseded means the hash equals a value already rotated away.
	RefreshSuperseded
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	GetByAccessTokenID(ctx context.Context, tokenID string) (*domain.Session, error)
	// GetByRefreshTokenHash matches the hash against both the current and the
	// previously rotated refresh value so replay can be told apart from unknown tokens.
	GetByRefreshTokenHash(ctx context.Context, hash string) (*domain.Session, RefreshLookup, error)
	// Rotate applies the rotation conditionally: the update only commits while the
	// stored refresh hash still equals oldRefreshHash. A lost race surfaces as
	// ErrNotFound and must be treated as replay by the caller.
	Rotate(ctx context.Context, sessionID, oldRefreshHash string, rotation domain.SessionRotation) error
	Touch(ctx context.Context, sessionID string, at time.Time) error
	Revoke(ctx context.Context, sessionID, reason string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time, exceptSessionID string) (int, error)
	ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error)
	// ExpireOverdue marks sessions past expiry as inactive with reason "expired".
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
	// PurgeRevokedBefore hard-deletes revoked sessions older than the cutoff.
	PurgeRevokedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
