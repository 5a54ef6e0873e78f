package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/core/port"
	"github.com/KallebyX/nexus-auth/internal/infra/metrics"
	"github.com/KallebyX/nexus-auth/internal/infra/security"
	"github.com/KallebyX/nexus-auth/internal/repository"
)

const (
	accessTokenBytes  = 32
	refreshTokenBytes = 64

	defaultSessionTTL      = 24 * time.Hour
	defaultRememberTTL     = 30 * 24 * time.Hour
	defaultRefreshExtend   = 60 * time.Minute
	defaultRetentionWindow = 90 * 24 * time.Hour
)

// SessionManagerConfig tunes session windows and store-call bounds.
type SessionManagerConfig struct {
	SessionTTL       time.Duration
	RememberTTL      time.Duration
	RefreshExtension time.Duration
	RetentionWindow  time.Duration
	StoreTimeout     time.Duration
	RetryBackoff     time.Duration
}

func (c SessionManagerConfig) withDefaults() SessionManagerConfig {
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.RememberTTL <= 0 {
		c.RememberTTL = defaultRememberTTL
	}
	if c.RefreshExtension <= 0 {
		c.RefreshExtension = defaultRefreshExtend
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = defaultRetentionWindow
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// SessionManager mints, validates, rotates, and revokes session credential
// pairs. A session moves active → active (rotated)* → revoked|expired; the
// terminal states are permanent.
type SessionManager struct {
	sessions port.SessionRepository
	users    port.UserRepository
	audit    port.AuditSink
	cfg      SessionManagerConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(sessions port.SessionRepository, users port.UserRepository, audit port.AuditSink, cfg SessionManagerConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &SessionManager{
		sessions: sessions,
		users:    users,
		audit:    audit,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
	manager.now = func() time.Time { return time.Now().UTC() }
	return manager
}

// WithClock overrides the internal clock for deterministic tests.
func (m *SessionManager) WithClock(clock func() time.Time) {
	if clock != nil {
		m.now = clock
	}
}

// SessionCredentials pairs a freshly minted session with the raw secrets that
// exist only in memory at creation time.
type SessionCredentials struct {
	Session       domain.Session
	AccessTokenID string
	RefreshToken  string
}

// CreateSession mints a new session for the user. The access-token identifier
// and refresh-token value come from independent random reads; the session row
// is durably created before any secret is returned.
func (m *SessionManager) CreateSession(ctx context.Context, userID string, device domain.DeviceInfo, remember bool) (*SessionCredentials, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	accessTokenID, err := security.GenerateTokenID(accessTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate access token id: %w", err)
	}
	refreshToken, err := security.GenerateTokenID(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := m.now()
	ttl := m.cfg.SessionTTL
	if remember {
		ttl = m.cfg.RememberTTL
	}

	deviceType := strings.TrimSpace(device.DeviceType)
	if deviceType == "" {
		deviceType = "web"
	}

	session := domain.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		AccessTokenID:    accessTokenID,
		RefreshTokenHash: security.HashToken(refreshToken),
		DeviceID:         device.DeviceID,
		DeviceName:       device.DeviceName,
		DeviceType:       deviceType,
		IPAddress:        device.IPAddress,
		UserAgent:        device.UserAgent,
		Remember:         remember,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(ttl),
		IsActive:         true,
	}

	err = callStore(ctx, m.cfg.StoreTimeout, func(ctx context.Context) error {
		return m.sessions.Create(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsIssuedTotal.Inc()

	return &SessionCredentials{
		Session:       session,
		AccessTokenID: accessTokenID,
		RefreshToken:  refreshToken,
	}, nil
}

// ValidateAccessToken resolves the session behind a token identifier and its
// owning user. The last-used marker is refreshed but expiry is never extended
// here; extension only happens on explicit refresh.
func (m *SessionManager) ValidateAccessToken(ctx context.Context, tokenID string) (*domain.Session, *domain.User, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, nil, ErrSessionNotFound
	}

	var session *domain.Session
	err := retryRead(ctx, m.cfg.StoreTimeout, m.cfg.RetryBackoff, func(ctx context.Context) error {
		found, err := m.sessions.GetByAccessTokenID(ctx, tokenID)
		if err != nil {
			return err
		}
		session = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("lookup session: %w", err)
	}

	now := m.now()
	if session.RevokedAt != nil || !session.IsActive {
		return nil, nil, ErrSessionRevoked
	}
	if session.IsExpired(now) {
		return nil, nil, ErrSessionExpired
	}

	var user *domain.User
	err = retryRead(ctx, m.cfg.StoreTimeout, m.cfg.RetryBackoff, func(ctx context.Context) error {
		found, err := m.users.GetByID(ctx, session.UserID)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("lookup session user: %w", err)
	}

	if err := m.sessions.Touch(ctx, session.ID, now); err != nil {
		m.logger.Warn("touch session failed", zap.String("session_id", session.ID), zap.Error(err))
	} else {
		session.LastUsedAt = now
	}

	return session, user, nil
}

// RefreshSession rotates the session's credential pair. The rotation write is
// conditional on the stored refresh hash still matching the presented value;
// losing that race, or presenting a value already rotated away, revokes the
// whole session and fails with ErrReplayDetected.
func (m *SessionManager) RefreshSession(ctx context.Context, refreshToken string) (*SessionCredentials, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrSessionNotFound
	}

	hash := security.HashToken(refreshToken)

	var (
		session *domain.Session
		lookup  port.RefreshLookup
	)
	err := retryRead(ctx, m.cfg.StoreTimeout, m.cfg.RetryBackoff, func(ctx context.Context) error {
		found, kind, err := m.sessions.GetByRefreshTokenHash(ctx, hash)
		if err != nil {
			return err
		}
		session = found
		lookup = kind
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup session by refresh token: %w", err)
	}

	if lookup == port.RefreshSuperseded {
		return nil, m.handleReplay(ctx, session)
	}

	now := m.now()
	if session.RevokedAt != nil || !session.IsActive {
		return nil, ErrSessionRevoked
	}
	if session.IsExpired(now) {
		return nil, ErrSessionExpired
	}

	newAccessID, err := security.GenerateTokenID(accessTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate access token id: %w", err)
	}
	newRefresh, err := security.GenerateTokenID(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	extension := m.cfg.RefreshExtension
	if session.Remember {
		extension = m.cfg.RememberTTL
	}

	rotation := domain.SessionRotation{
		AccessTokenID:    newAccessID,
		RefreshTokenHash: security.HashToken(newRefresh),
		ExpiresAt:        now.Add(extension),
		RotatedAt:        now,
	}

	// Deliberately no retry: re-applying a rotation after an ambiguous timeout
	// could rotate twice and strand the client's copy.
	err = callStore(ctx, m.cfg.StoreTimeout, func(ctx context.Context) error {
		return m.sessions.Rotate(ctx, session.ID, hash, rotation)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Conditional update found no row: a concurrent refresh won the race.
			return nil, m.handleReplay(ctx, session)
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	rotated := *session
	rotated.AccessTokenID = newAccessID
	rotated.RefreshTokenHash = rotation.RefreshTokenHash
	prev := hash
	rotated.PrevRefreshTokenHash = &prev
	rotated.ExpiresAt = rotation.ExpiresAt
	rotated.LastUsedAt = now

	metrics.RotationsTotal.Inc()
	m.emit(ctx, domain.AuditEvent{
		ActorID:      &rotated.UserID,
		Action:       domain.AuditSessionRotated,
		ResourceType: "session",
		ResourceID:   &rotated.ID,
		Outcome:      "success",
		IPAddress:    rotated.IPAddress,
	})

	return &SessionCredentials{
		Session:       rotated,
		AccessTokenID: newAccessID,
		RefreshToken:  newRefresh,
	}, nil
}

// Revoke marks the session inactive with the given reason. Revoking a session
// that is already terminal is a no-op success.
func (m *SessionManager) Revoke(ctx context.Context, sessionID, reason string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if reason == "" {
		reason = domain.RevokeReasonLogout
	}

	err := callStore(ctx, m.cfg.StoreTimeout, func(ctx context.Context) error {
		return m.sessions.Revoke(ctx, sessionID, reason, m.now())
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Already revoked or unknown: idempotent success.
			return nil
		}
		return fmt.Errorf("revoke session: %w", err)
	}

	return nil
}

// RevokeAllForUser revokes every active session owned by the user, optionally
// sparing the caller's current session (password-change flows).
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID, reason, exceptSessionID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}
	if reason == "" {
		reason = domain.RevokeReasonBulk
	}

	var count int
	err := callStore(ctx, m.cfg.StoreTimeout, func(ctx context.Context) error {
		revoked, err := m.sessions.RevokeAllForUser(ctx, userID, reason, m.now(), exceptSessionID)
		if err != nil {
			return err
		}
		count = revoked
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}

	return count, nil
}

// ListActiveSessions returns the user's live sessions, most recently used first.
func (m *SessionManager) ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	var sessions []domain.Session
	err := retryRead(ctx, m.cfg.StoreTimeout, m.cfg.RetryBackoff, func(ctx context.Context) error {
		found, err := m.sessions.ListActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		sessions = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return sessions, nil
}

// SweepResult reports what a sweep pass changed.
type SweepResult struct {
	Expired int
	Purged  int
}

// Sweep transitions overdue sessions to expired and hard-purges revoked
// sessions past the retention window. Runs on a schedule, never inline with a
// request; it only touches sessions already bound for a terminal state, so it
// is safe to run concurrently with live traffic.
func (m *SessionManager) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := m.now()

	expired, err := m.sessions.ExpireOverdue(ctx, now)
	if err != nil {
		return result, fmt.Errorf("expire overdue sessions: %w", err)
	}
	result.Expired = expired

	purged, err := m.sessions.PurgeRevokedBefore(ctx, now.Add(-m.cfg.RetentionWindow))
	if err != nil {
		return result, fmt.Errorf("purge revoked sessions: %w", err)
	}
	result.Purged = purged

	metrics.SessionsSweptTotal.WithLabelValues("expired").Add(float64(expired))
	metrics.SessionsSweptTotal.WithLabelValues("purged").Add(float64(purged))

	if expired > 0 || purged > 0 {
		m.logger.Info("session sweep completed",
			zap.Int("expired", expired),
			zap.Int("purged", purged),
		)
		m.emit(ctx, domain.AuditEvent{
			Action:       domain.AuditSessionsSwept,
			ResourceType: "session",
			Outcome:      "success",
			Details: map[string]any{
				"expired": expired,
				"purged":  purged,
			},
		})
	}

	return result, nil
}

// handleReplay revokes the whole session and surfaces ErrReplayDetected.
// Reuse of a superseded refresh token is treated as a compromise signal, not a
// benign retry; this is the one error path with a mandatory side effect.
func (m *SessionManager) handleReplay(ctx context.Context, session *domain.Session) error {
	metrics.ReplaysDetectedTotal.Inc()

	if err := callStore(ctx, m.cfg.StoreTimeout, func(ctx context.Context) error {
		return m.sessions.Revoke(ctx, session.ID, domain.RevokeReasonReplayDetected, m.now())
	}); err != nil && !errors.Is(err, repository.ErrNotFound) {
		m.logger.Error("revoke session after replay failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}

	m.logger.Warn("refresh token replay detected",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
	)
	m.emit(ctx, domain.AuditEvent{
		ActorID:      &session.UserID,
		Action:       domain.AuditReplayDetected,
		ResourceType: "session",
		ResourceID:   &session.ID,
		Outcome:      "revoked",
		IPAddress:    session.IPAddress,
	})

	return ErrReplayDetected
}

func (m *SessionManager) emit(ctx context.Context, event domain.AuditEvent) {
	if m.audit == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	m.audit.Record(ctx, event)
}
