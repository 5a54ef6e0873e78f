package postgres

import (
	"context"
	"encoding/json"
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

var permissionColumns = []string{
	"id",
	"name",
	"description",
	"resource",
	"action",
	"scope",
	"conditions",
	"is_active",
	"created_at",
	"updated_at",
}

// PermissionRepository implements port.PermissionRepository backed by PostgreSQL.
// Conditions are stored as a jsonb column.
type PermissionRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPermissionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewPermissionRepository(exec pgExecutor) *PermissionRepository {
	repo := &PermissionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Create inserts a permission row.
func (r *PermissionRepository) Create(ctx context.Context, permission domain.Permission) error {
	conditions, err := marshalConditions(permission.Conditions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if permission.CreatedAt.IsZero() {
		permission.CreatedAt = now
	}
	if permission.UpdatedAt.IsZero() {
		permission.UpdatedAt = now
	}

	sql, args, err := r.builder.Insert("permissions").
		Columns(permissionColumns...).
		Values(
			permission.ID,
			strings.ToLower(permission.Name),
			permission.Description,
			permission.Resource,
			string(permission.Action),
			string(permission.Scope),
			conditions,
			permission.IsActive,
			permission.CreatedAt,
			permission.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert permission sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert permission: %w", err)
	}

	return nil
}

// GetByID fetches a permission by identifier.
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*domain.Permission, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByName fetches a permission by unique name.
func (r *PermissionRepository) GetByName(ctx context.Context, name string) (*domain.Permission, error) {
	return r.getOne(ctx, squirrel.Eq{"name": strings.ToLower(name)})
}

// ListByRole returns the permissions directly attached to a role.
func (r *PermissionRepository) ListByRole(ctx context.Context, roleID string) ([]domain.Permission, error) {
	query := r.builder.Select(prefixed(permissionColumns, "p")...).
		From("permissions p").
		Join("role_permissions rp ON rp.permission_id = p.id").
		Where(squirrel.Eq{"rp.role_id": roleID}).
		OrderBy("p.name")
	return r.list(ctx, query, "list role permissions")
}

// ListByUser returns the permissions granted directly to a user, bypassing roles.
func (r *PermissionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Permission, error) {
	query := r.builder.Select(prefixed(permissionColumns, "p")...).
		From("permissions p").
		Join("user_permissions up ON up.permission_id = p.id").
		Where(squirrel.Eq{"up.user_id": userID}).
		OrderBy("p.name")
	return r.list(ctx, query, "list user permissions")
}

// GrantToUser attaches a direct user-level grant, ignoring duplicates.
func (r *PermissionRepository) GrantToUser(ctx context.Context, userID, permissionID string) error {
	sql, args, err := r.builder.Insert("user_permissions").
		Columns("user_id", "permission_id", "created_at").
		Values(userID, permissionID, time.Now().UTC()).
		Suffix("ON CONFLICT (user_id, permission_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build grant permission sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}

	return nil
}

// RevokeFromUser removes a direct user-level grant.
func (r *PermissionRepository) RevokeFromUser(ctx context.Context, userID, permissionID string) error {
	sql, args, err := r.builder.Delete("user_permissions").
		Where(squirrel.Eq{"user_id": userID, "permission_id": permissionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke permission sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *PermissionRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.Permission, error) {
	sql, args, err := r.builder.Select(permissionColumns...).
		From("permissions").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select permission sql: %w", err)
	}

	permission, err := scanPermission(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return permission, nil
}

func (r *PermissionRepository) list(ctx context.Context, query squirrel.SelectBuilder, op string) ([]domain.Permission, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s sql: %w", op, err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var permissions []domain.Permission
	for rows.Next() {
		permission, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, *permission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", op, err)
	}

	return permissions, nil
}

func scanPermission(row pgx.Row) (*domain.Permission, error) {
	var (
		permission domain.Permission
		action     string
		scope      string
		conditions []byte
	)
	err := row.Scan(
		&permission.ID,
		&permission.Name,
		&permission.Description,
		&permission.Resource,
		&action,
		&scope,
		&conditions,
		&permission.IsActive,
		&permission.CreatedAt,
		&permission.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan permission: %w", err)
	}

	permission.Action = domain.PermissionAction(action)
	permission.Scope = domain.PermissionScope(scope)
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &permission.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal permission conditions: %w", err)
		}
	}

	return &permission, nil
}

func marshalConditions(conditions map[string]any) ([]byte, error) {
	if len(conditions) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal permission conditions: %w", err)
	}
	return payload, nil
}

func prefixed(columns []string, alias string) []string {
	out := make([]string, len(columns))
	for i, column := range columns {
		out[i] = alias + "." + column
	}
	return out
}
