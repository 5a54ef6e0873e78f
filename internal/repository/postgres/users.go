package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/repository"
)

var userColumns = []string{
	"id",
	"email",
	"first_name",
	"last_name",
	"password_hash",
	"password_algo",
	"status",
	"role_id",
	"email_verified",
	"email_verified_at",
	"failed_login_attempts",
	"locked_until",
	"last_login_at",
	"last_login_ip",
	"reset_token_hash",
	"reset_token_expires_at",
	"verify_token_hash",
	"password_changed_at",
	"created_at",
	"updated_at",
}

// UserRepository implements port.UserRepository backed by PostgreSQL.
// Rows carry a deleted_at column for soft deletion; every query filters it so
// a soft-deleted user is never returned.
type UserRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	repo := &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new user row. Emails are stored lowercased.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	sql, args, err := r.builder.Insert("users").
		Columns(userColumns...).
		Values(
			user.ID,
			strings.ToLower(user.Email),
			user.FirstName,
			user.LastName,
			user.PasswordHash,
			user.PasswordAlgo,
			string(user.Status),
			user.RoleID,
			user.EmailVerified,
			user.EmailVerifiedAt,
			user.FailedLoginAttempts,
			user.LockedUntil,
			user.LastLoginAt,
			user.LastLoginIP,
			user.ResetTokenHash,
			user.ResetTokenExpiresAt,
			user.VerifyTokenHash,
			user.PasswordChangedAt,
			user.CreatedAt,
			user.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID fetches a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail fetches a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"email": strings.ToLower(email)})
}

// GetByResetTokenHash fetches the user holding the supplied reset token hash.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"reset_token_hash": hash})
}

// GetByVerifyTokenHash fetches the user holding the supplied verification token hash.
func (r *UserRepository) GetByVerifyTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"verify_token_hash": hash})
}

// UpdateStatus changes the account status.
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status domain.UserStatus) error {
	return r.update(ctx, id, map[string]any{"status": string(status)})
}

// UpdatePassword replaces the stored password digest.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash, passwordAlgo string, changedAt time.Time) error {
	return r.update(ctx, id, map[string]any{
		"password_hash":       passwordHash,
		"password_algo":       passwordAlgo,
		"password_changed_at": changedAt,
	})
}

// UpdateLoginTracking persists the failed-attempt counter and lock window.
func (r *UserRepository) UpdateLoginTracking(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error {
	return r.update(ctx, id, map[string]any{
		"failed_login_attempts": attempts,
		"locked_until":          lockedUntil,
	})
}

// RecordLoginSuccess resets lockout state and stamps the login origin.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time, ip *string) error {
	return r.update(ctx, id, map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
		"last_login_at":         at,
		"last_login_ip":         ip,
	})
}

// SetResetToken stores or clears the password reset token hash.
func (r *UserRepository) SetResetToken(ctx context.Context, id string, hash *string, expiresAt *time.Time) error {
	return r.update(ctx, id, map[string]any{
		"reset_token_hash":       hash,
		"reset_token_expires_at": expiresAt,
	})
}

// SetVerifyToken stores or clears the email verification token hash.
func (r *UserRepository) SetVerifyToken(ctx context.Context, id string, hash *string) error {
	return r.update(ctx, id, map[string]any{"verify_token_hash": hash})
}

// MarkEmailVerified flags the account verified and clears the token hash.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"email_verified":    true,
		"email_verified_at": at,
		"verify_token_hash": nil,
	})
}

// CountByRole counts live users assigned to the role.
func (r *UserRepository) CountByRole(ctx context.Context, roleID string) (int, error) {
	sql, args, err := r.builder.Select("COUNT(*)").
		From("users").
		Where(squirrel.Eq{"role_id": roleID, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count users sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users by role: %w", err)
	}
	return count, nil
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.User, error) {
	where["deleted_at"] = nil
	sql, args, err := r.builder.Select(userColumns...).
		From("users").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var (
		user   domain.User
		status string
	)
	err = r.exec.QueryRow(ctx, sql, args...).Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.PasswordAlgo,
		&status,
		&user.RoleID,
		&user.EmailVerified,
		&user.EmailVerifiedAt,
		&user.FailedLoginAttempts,
		&user.LockedUntil,
		&user.LastLoginAt,
		&user.LastLoginIP,
		&user.ResetTokenHash,
		&user.ResetTokenExpiresAt,
		&user.VerifyTokenHash,
		&user.PasswordChangedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	user.Status = domain.UserStatus(status)

	return &user, nil
}

func (r *UserRepository) update(ctx context.Context, id string, set map[string]any) error {
	set["updated_at"] = time.Now().UTC()
	sql, args, err := r.builder.Update("users").
		SetMap(set).
		Where(squirrel.Eq{"id": id, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}
