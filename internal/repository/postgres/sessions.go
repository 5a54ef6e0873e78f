package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/core/port"
	"github.com/KallebyX/nexus-auth/internal/repository"
)

var sessionColumns = []string{
	"id",
	"user_id",
	"access_token_id",
	"refresh_token_hash",
	"prev_refresh_token_hash",
	"device_id",
	"device_name",
	"device_type",
	"ip_address",
	"user_agent",
	"remember",
	"created_at",
	"last_used_at",
	"expires_at",
	"is_active",
	"revoked_at",
	"revoke_reason",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	repo := &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a session row.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	sql, args, err := r.builder.Insert("sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.UserID,
			session.AccessTokenID,
			session.RefreshTokenHash,
			session.PrevRefreshTokenHash,
			session.DeviceID,
			session.DeviceName,
			session.DeviceType,
			session.IPAddress,
			session.UserAgent,
			session.Remember,
			session.CreatedAt,
			session.LastUsedAt,
			session.ExpiresAt,
			session.IsActive,
			session.RevokedAt,
			session.RevokeReason,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByID fetches a session by identifier.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByAccessTokenID fetches the session bound to the access token identifier.
func (r *SessionRepository) GetByAccessTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	return r.getOne(ctx, squirrel.Eq{"access_token_id": tokenID})
}

// GetByRefreshTokenHash fetches the session holding the hash as either its
// current or its previous refresh token, reporting which one matched. A match
// on the previous value is the replay signal the caller acts on.
func (r *SessionRepository) GetByRefreshTokenHash(ctx context.Context, hash string) (*domain.Session, port.RefreshLookup, error) {
	session, err := r.getOne(ctx, squirrel.Eq{"refresh_token_hash": hash})
	if err == nil {
		return session, port.RefreshCurrent, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, port.RefreshCurrent, err
	}

	session, err = r.getOne(ctx, squirrel.Eq{"prev_refresh_token_hash": hash})
	if err != nil {
		return nil, port.RefreshCurrent, err
	}
	return session, port.RefreshSuperseded, nil
}

// Rotate replaces the token pair with a conditional update on the current
// refresh hash. Zero rows affected means a concurrent rotation won the race;
// the caller treats that as replay.
func (r *SessionRepository) Rotate(ctx context.Context, sessionID, oldRefreshHash string, rotation domain.SessionRotation) error {
	sql, args, err := r.builder.Update("sessions").
		Set("access_token_id", rotation.AccessTokenID).
		Set("refresh_token_hash", rotation.RefreshTokenHash).
		Set("prev_refresh_token_hash", oldRefreshHash).
		Set("expires_at", rotation.ExpiresAt).
		Set("last_used_at", rotation.RotatedAt).
		Where(squirrel.Eq{
			"id":                 sessionID,
			"refresh_token_hash": oldRefreshHash,
			"is_active":          true,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build rotate session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Touch refreshes the session's last-used marker without extending expiry.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	sql, args, err := r.builder.Update("sessions").
		Set("last_used_at", at).
		Where(squirrel.Eq{"id": sessionID, "is_active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Revoke marks a live session inactive with the supplied reason.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID, reason string, at time.Time) error {
	sql, args, err := r.builder.Update("sessions").
		Set("is_active", false).
		Set("revoked_at", at).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"id": sessionID, "is_active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RevokeAllForUser revokes every live session for a user, optionally sparing one.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time, exceptSessionID string) (int, error) {
	query := r.builder.Update("sessions").
		Set("is_active", false).
		Set("revoked_at", at).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"user_id": userID, "is_active": true})
	if exceptSessionID != "" {
		query = query.Where(squirrel.NotEq{"id": exceptSessionID})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// ListActiveByUser returns the user's live sessions, most recently used first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	sql, args, err := r.builder.Select(sessionColumns...).
		From("sessions").
		Where(squirrel.Eq{"user_id": userID, "is_active": true}).
		Where(squirrel.Gt{"expires_at": time.Now().UTC()}).
		OrderBy("last_used_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// ExpireOverdue marks every live session past its expiry as inactive.
func (r *SessionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	sql, args, err := r.builder.Update("sessions").
		Set("is_active", false).
		Set("revoked_at", now).
		Set("revoke_reason", domain.RevokeReasonExpired).
		Where(squirrel.Eq{"is_active": true}).
		Where(squirrel.LtOrEq{"expires_at": now}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build expire sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// PurgeRevokedBefore hard-deletes revoked sessions older than the cutoff.
func (r *SessionRepository) PurgeRevokedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	sql, args, err := r.builder.Delete("sessions").
		Where(squirrel.Eq{"is_active": false}).
		Where(squirrel.Lt{"revoked_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (r *SessionRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.Session, error) {
	sql, args, err := r.builder.Select(sessionColumns...).
		From("sessions").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var session domain.Session
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.AccessTokenID,
		&session.RefreshTokenHash,
		&session.PrevRefreshTokenHash,
		&session.DeviceID,
		&session.DeviceName,
		&session.DeviceType,
		&session.IPAddress,
		&session.UserAgent,
		&session.Remember,
		&session.CreatedAt,
		&session.LastUsedAt,
		&session.ExpiresAt,
		&session.IsActive,
		&session.RevokedAt,
		&session.RevokeReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &session, nil
}
