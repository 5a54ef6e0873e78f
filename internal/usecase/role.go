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
	"github.com/KallebyX/nexus-auth/internal/repository"
)

// RoleService handles administrative role and permission management. Every
// mutation is gated on the acting role through the RBAC tie-break rules and
// invalidates the permission cache for affected roles.
type RoleService struct {
	roles       port.RoleRepository
	permissions port.PermissionRepository
	users       port.UserRepository
	rbac        *RBACResolver
	cache       port.PermissionCache
	audit       port.AuditSink
	storeTO     time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewRoleService constructs a RoleService.
func NewRoleService(
	roles port.RoleRepository,
	permissions port.PermissionRepository,
	users port.UserRepository,
	rbac *RBACResolver,
	cache port.PermissionCache,
	audit port.AuditSink,
	storeTimeout time.Duration,
	logger *zap.Logger,
) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}

	service := &RoleService{
		roles:       roles,
		permissions: permissions,
		users:       users,
		rbac:        rbac,
		cache:       cache,
		audit:       audit,
		storeTO:     storeTimeout,
		logger:      logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// CreateRoleInput carries the payload for a new role.
type CreateRoleInput struct {
	Name         string
	DisplayName  string
	Description  *string
	Level        int
	ParentRoleID *string
	IsDefault    bool
	MaxUsers     *int
}

// CreateRole creates a non-system role below the acting role's level. The
// parent chain is validated for cycles before the role is persisted.
func (s *RoleService) CreateRole(ctx context.Context, actingRole *domain.Role, in CreateRoleInput) (*domain.Role, error) {
	name := strings.ToLower(strings.TrimSpace(in.Name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrValidationFailed)
	}
	if in.Level < 0 {
		return nil, fmt.Errorf("%w: role level must be non-negative", ErrValidationFailed)
	}
	if actingRole == nil || actingRole.Level <= in.Level {
		return nil, ErrPermissionDenied
	}

	if _, err := s.roles.GetByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: role name already in use", ErrValidationFailed)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check role name: %w", err)
	}

	if in.ParentRoleID != nil {
		if _, err := s.rbac.ResolveEffectivePermissions(ctx, *in.ParentRoleID); err != nil {
			// Surfaces ErrHierarchyCycle for a broken parent chain.
			return nil, err
		}
	}

	now := s.now()
	role := domain.Role{
		ID:           uuid.NewString(),
		Name:         name,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Description:  in.Description,
		Level:        in.Level,
		ParentRoleID: in.ParentRoleID,
		IsDefault:    in.IsDefault,
		IsActive:     true,
		MaxUsers:     in.MaxUsers,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if role.DisplayName == "" {
		role.DisplayName = name
	}

	err := callStore(ctx, s.storeTO, func(ctx context.Context) error {
		return s.roles.Create(ctx, role)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: role name already in use", ErrValidationFailed)
		}
		return nil, fmt.Errorf("create role: %w", err)
	}

	s.emit(ctx, domain.AuditEvent{
		Action:       domain.AuditRoleCreated,
		ResourceType: "role",
		ResourceID:   &role.ID,
		Outcome:      "success",
		Details:      map[string]any{"name": role.Name, "level": role.Level},
	})
	return &role, nil
}

// DeleteRole removes a role. System roles and roles still referenced by users
// reject deletion.
func (s *RoleService) DeleteRole(ctx context.Context, actingRole *domain.Role, roleID string) error {
	target, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("lookup role: %w", err)
	}

	if target.IsSystem {
		return ErrRoleProtected
	}
	allowed, err := s.rbac.CanModifyRole(ctx, actingRole, target)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrPermissionDenied
	}

	members, err := s.users.CountByRole(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("count role members: %w", err)
	}
	if members > 0 {
		return fmt.Errorf("%w: role still assigned to %d users", ErrValidationFailed, members)
	}

	err = callStore(ctx, s.storeTO, func(ctx context.Context) error {
		return s.roles.Delete(ctx, target.ID)
	})
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}

	s.invalidate(ctx, target.ID)
	s.emit(ctx, domain.AuditEvent{
		Action:       domain.AuditRoleDeleted,
		ResourceType: "role",
		ResourceID:   &target.ID,
		Outcome:      "success",
		Details:      map[string]any{"name": target.Name},
	})
	return nil
}

// AttachPermissions attaches permissions to a role and invalidates its cached
// effective set. Child roles inherit through the hierarchy walk, so only the
// mutated role's cache entry needs invalidation plus any cached descendants;
// descendants are handled by TTL expiry.
func (s *RoleService) AttachPermissions(ctx context.Context, actingRole *domain.Role, roleID string, permissionIDs []string) error {
	if len(permissionIDs) == 0 {
		return fmt.Errorf("%w: no permissions supplied", ErrValidationFailed)
	}

	target, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("lookup role: %w", err)
	}

	allowed, err := s.rbac.CanModifyRole(ctx, actingRole, target)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrPermissionDenied
	}

	for _, permissionID := range permissionIDs {
		if _, err := s.permissions.GetByID(ctx, permissionID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: unknown permission %s", ErrValidationFailed, permissionID)
			}
			return fmt.Errorf("lookup permission: %w", err)
		}
	}

	err = callStore(ctx, s.storeTO, func(ctx context.Context) error {
		return s.roles.AttachPermissions(ctx, target.ID, permissionIDs)
	})
	if err != nil {
		return fmt.Errorf("attach permissions: %w", err)
	}

	s.invalidate(ctx, target.ID)
	s.emit(ctx, domain.AuditEvent{
		Action:       domain.AuditPermissionAttached,
		ResourceType: "role",
		ResourceID:   &target.ID,
		Outcome:      "success",
		Details:      map[string]any{"permission_ids": permissionIDs},
	})
	return nil
}

// DetachPermission removes a permission from a role.
func (s *RoleService) DetachPermission(ctx context.Context, actingRole *domain.Role, roleID, permissionID string) error {
	target, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("lookup role: %w", err)
	}

	allowed, err := s.rbac.CanModifyRole(ctx, actingRole, target)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrPermissionDenied
	}

	err = callStore(ctx, s.storeTO, func(ctx context.Context) error {
		return s.roles.DetachPermission(ctx, target.ID, permissionID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("detach permission: %w", err)
	}

	s.invalidate(ctx, target.ID)
	s.emit(ctx, domain.AuditEvent{
		Action:       domain.AuditPermissionDetached,
		ResourceType: "role",
		ResourceID:   &target.ID,
		Outcome:      "success",
		Details:      map[string]any{"permission_id": permissionID},
	})
	return nil
}

// GrantToUser attaches a direct user-level permission grant. Direct grants
// union with role-derived permissions and can only add capability.
func (s *RoleService) GrantToUser(ctx context.Context, userID, permissionID string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if _, err := s.permissions.GetByID(ctx, permissionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown permission %s", ErrValidationFailed, permissionID)
		}
		return fmt.Errorf("lookup permission: %w", err)
	}

	err := callStore(ctx, s.storeTO, func(ctx context.Context) error {
		return s.permissions.GrantToUser(ctx, userID, permissionID)
	})
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// RevokeFromUser removes a direct user-level grant. Role-derived permissions
// are unaffected.
func (s *RoleService) RevokeFromUser(ctx context.Context, userID, permissionID string) error {
	err := callStore(ctx, s.storeTO, func(ctx context.Context) error {
		return s.permissions.RevokeFromUser(ctx, userID, permissionID)
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("revoke permission: %w", err)
	}
	return nil
}

// ListRoles returns all roles ordered by level.
func (s *RoleService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

func (s *RoleService) invalidate(ctx context.Context, roleID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, roleID); err != nil {
		s.logger.Warn("permission cache invalidation failed", zap.String("role_id", roleID), zap.Error(err))
	}
}

func (s *RoleService) emit(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	s.audit.Record(ctx, event)
}
