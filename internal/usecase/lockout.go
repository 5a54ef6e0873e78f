package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/core/port"
	"github.com/KallebyX/nexus-auth/internal/infra/metrics"
)

const (
	defaultMaxLoginAttempts = 5
	defaultLockoutDuration  = 15 * time.Minute
)

// LockoutTracker rate-limits authentication attempts per user. The lock is a
// timed cooldown rather than a permanent ban, so an attacker cannot lock a
// victim out of their own account indefinitely by tripping the threshold.
type LockoutTracker struct {
	users     port.UserRepository
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewLockoutTracker constructs a LockoutTracker.
func NewLockoutTracker(users port.UserRepository, threshold int, cooldown time.Duration, logger *zap.Logger) *LockoutTracker {
	if threshold <= 0 {
		threshold = defaultMaxLoginAttempts
	}
	if cooldown <= 0 {
		cooldown = defaultLockoutDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker := &LockoutTracker{
		users:     users,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
	}
	tracker.now = func() time.Time { return time.Now().UTC() }
	return tracker
}

// WithClock overrides the internal clock for deterministic tests.
func (t *LockoutTracker) WithClock(clock func() time.Time) {
	if clock != nil {
		t.now = clock
	}
}

// IsLocked reports whether the user's lockout window is still open.
func (t *LockoutTracker) IsLocked(user *domain.User) bool {
	if user == nil {
		return false
	}
	return user.IsLocked(t.now())
}

// RecordFailure increments the failed-attempt counter and opens the lock
// window once the threshold is reached. The counter survives lock expiry; it
// only resets on RecordSuccess. Returns the updated user and whether this
// failure transitioned the account into the locked state.
func (t *LockoutTracker) RecordFailure(ctx context.Context, user *domain.User) (*domain.User, bool, error) {
	if user == nil {
		return nil, false, fmt.Errorf("user is required")
	}

	updated := *user
	updated.FailedLoginAttempts++

	lockedNow := false
	if updated.FailedLoginAttempts >= t.threshold && !updated.IsLocked(t.now()) {
		until := t.now().Add(t.cooldown)
		updated.LockedUntil = &until
		lockedNow = true
	}

	if err := t.users.UpdateLoginTracking(ctx, updated.ID, updated.FailedLoginAttempts, updated.LockedUntil); err != nil {
		return nil, false, fmt.Errorf("update login tracking: %w", err)
	}

	if lockedNow {
		metrics.LockoutsTotal.Inc()
		t.logger.Warn("account locked after repeated failures",
			zap.String("user_id", updated.ID),
			zap.Int("attempts", updated.FailedLoginAttempts),
			zap.Time("locked_until", *updated.LockedUntil),
		)
	}

	return &updated, lockedNow, nil
}

// RecordSuccess resets the failed-attempt counter, clears the lock window, and
// stamps last-login time and origin.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, user *domain.User, ip *string) (*domain.User, error) {
	if user == nil {
		return nil, fmt.Errorf("user is required")
	}

	now := t.now()
	updated := *user
	updated.FailedLoginAttempts = 0
	updated.LockedUntil = nil
	updated.LastLoginAt = &now
	updated.LastLoginIP = ip

	if err := t.users.RecordLoginSuccess(ctx, updated.ID, now, ip); err != nil {
		return nil, fmt.Errorf("record login success: %w", err)
	}

	return &updated, nil
}
