package port

import (
	"context"
	"time"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
// Email lookups are case-insensitive; implementations store emails lowercased.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error)
	GetByVerifyTokenHash(ctx context.Context, hash string) (*domain.User, error)
	UpdateStatus(ctx context.Context, id string, status domain.UserStatus) error
	UpdatePassword(ctx context.Context, id string, passwordHash, passwordAlgo string, changedAt time.Time) error
	// UpdateLoginTracking persists the failed-attempt counter and lock window.
	// Best-effort under concurrency; an occasional lost increment is acceptable.
	UpdateLoginTracking(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error
	RecordLoginSuccess(ctx context.Context, id string, at time.Time, ip *string) error
	SetResetToken(ctx context.Context, id string, hash *string, expiresAt *time.Time) error
	SetVerifyToken(ctx context.Context, id string, hash *string) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	CountByRole(ctx context.Context, roleID string) (int, error)
}
