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

var roleColumns = []string{
	"id",
	"name",
	"display_name",
	"description",
	"level",
	"parent_role_id",
	"is_system",
	"is_default",
	"is_active",
	"max_users",
	"created_at",
	"updated_at",
}

// RoleRepository implements port.RoleRepository backed by PostgreSQL.
type RoleRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRoleRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewRoleRepository(exec pgExecutor) *RoleRepository {
	repo := &RoleRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Create inserts a role row.
func (r *RoleRepository) Create(ctx context.Context, role domain.Role) error {
	sql, args, err := r.builder.Insert("roles").
		Columns(roleColumns...).
		Values(
			role.ID,
			strings.ToLower(role.Name),
			role.DisplayName,
			role.Description,
			role.Level,
			role.ParentRoleID,
			role.IsSystem,
			role.IsDefault,
			role.IsActive,
			role.MaxUsers,
			role.CreatedAt,
			role.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert role sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert role: %w", err)
	}

	return nil
}

// GetByID fetches a role by identifier.
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*domain.Role, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByName fetches a role by unique name.
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	return r.getOne(ctx, squirrel.Eq{"name": strings.ToLower(name)})
}

// GetDefault fetches the role assigned to new users.
func (r *RoleRepository) GetDefault(ctx context.Context) (*domain.Role, error) {
	return r.getOne(ctx, squirrel.Eq{"is_default": true, "is_active": true})
}

// List returns all roles ordered by descending level.
func (r *RoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	sql, args, err := r.builder.Select(roleColumns...).
		From("roles").
		OrderBy("level DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list roles sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	return roles, nil
}

// MaxLevel returns the highest level among active roles.
func (r *RoleRepository) MaxLevel(ctx context.Context) (int, error) {
	sql, args, err := r.builder.Select("COALESCE(MAX(level), 0)").
		From("roles").
		Where(squirrel.Eq{"is_active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build max level sql: %w", err)
	}

	var level int
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&level); err != nil {
		return 0, fmt.Errorf("select max role level: %w", err)
	}
	return level, nil
}

// Update replaces the mutable role attributes.
func (r *RoleRepository) Update(ctx context.Context, role domain.Role) error {
	sql, args, err := r.builder.Update("roles").
		Set("display_name", role.DisplayName).
		Set("description", role.Description).
		Set("level", role.Level).
		Set("parent_role_id", role.ParentRoleID).
		Set("is_default", role.IsDefault).
		Set("is_active", role.IsActive).
		Set("max_users", role.MaxUsers).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": role.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update role sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes a role row. Attachment rows cascade at the schema level.
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	sql, args, err := r.builder.Delete("roles").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete role sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// AttachPermissions links permissions to a role, ignoring duplicates.
func (r *RoleRepository) AttachPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if len(permissionIDs) == 0 {
		return nil
	}

	query := r.builder.Insert("role_permissions").
		Columns("role_id", "permission_id", "created_at")
	now := time.Now().UTC()
	for _, permissionID := range permissionIDs {
		query = query.Values(roleID, permissionID, now)
	}

	sql, args, err := query.Suffix("ON CONFLICT (role_id, permission_id) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build attach permissions sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("attach permissions: %w", err)
	}

	return nil
}

// DetachPermission unlinks a permission from a role.
func (r *RoleRepository) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	sql, args, err := r.builder.Delete("role_permissions").
		Where(squirrel.Eq{"role_id": roleID, "permission_id": permissionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build detach permission sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("detach permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *RoleRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.Role, error) {
	sql, args, err := r.builder.Select(roleColumns...).
		From("roles").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select role sql: %w", err)
	}

	role, err := scanRole(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return role, nil
}

func scanRole(row pgx.Row) (*domain.Role, error) {
	var role domain.Role
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&role.Level,
		&role.ParentRoleID,
		&role.IsSystem,
		&role.IsDefault,
		&role.IsActive,
		&role.MaxUsers,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan role: %w", err)
	}
	return &role, nil
}
