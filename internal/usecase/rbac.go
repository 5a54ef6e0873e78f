package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/core/port"
	"github.com/KallebyX/nexus-auth/internal/infra/metrics"
	"github.com/KallebyX/nexus-auth/internal/repository"
)

const defaultPermissionCacheTTL = 5 * time.Minute

// RBACResolver computes effective permission sets over the role hierarchy and
// evaluates scoped authorization decisions. Role resolution is side-effect-free
// and cached per role; direct user grants are unioned in at decision time.
type RBACResolver struct {
	roles       port.RoleRepository
	permissions port.PermissionRepository
	cache       port.PermissionCache
	cacheTTL    time.Duration
	storeTO     time.Duration
	backoff     time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// RBACResolverConfig tunes cache lifetime and store-call bounds.
type RBACResolverConfig struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
	RetryBackoff time.Duration
}

// NewRBACResolver constructs an RBACResolver. The cache is optional; a nil
// cache means every resolution walks the hierarchy.
func NewRBACResolver(roles port.RoleRepository, permissions port.PermissionRepository, cache port.PermissionCache, cfg RBACResolverConfig, logger *zap.Logger) *RBACResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultPermissionCacheTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	resolver := &RBACResolver{
		roles:       roles,
		permissions: permissions,
		cache:       cache,
		cacheTTL:    cfg.CacheTTL,
		storeTO:     cfg.StoreTimeout,
		backoff:     cfg.RetryBackoff,
		logger:      logger,
	}
	resolver.now = func() time.Time { return time.Now().UTC() }
	return resolver
}

// WithClock overrides the internal clock for deterministic tests.
func (r *RBACResolver) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// ResolveEffectivePermissions walks the parent chain from the role to the
// root, unioning each role's directly attached permissions. A cycle in the
// chain fails closed with ErrHierarchyCycle instead of looping.
func (r *RBACResolver) ResolveEffectivePermissions(ctx context.Context, roleID string) ([]domain.Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, nil
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, roleID)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn("permission cache read failed", zap.String("role_id", roleID), zap.Error(err))
		}
	}

	seen := make(map[string]struct{})
	byID := make(map[string]domain.Permission)
	var effective []domain.Permission

	currentID := roleID
	for currentID != "" {
		if _, visited := seen[currentID]; visited {
			r.logger.Error("role hierarchy cycle detected", zap.String("role_id", currentID))
			return nil, ErrHierarchyCycle
		}
		seen[currentID] = struct{}{}

		role, err := r.getRole(ctx, currentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Dangling parent reference; treat the chain as ended.
				break
			}
			return nil, err
		}

		attached, err := r.listRolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, perm := range attached {
			if _, dup := byID[perm.ID]; dup {
				continue
			}
			byID[perm.ID] = perm
			effective = append(effective, perm)
		}

		if role.ParentRoleID == nil {
			break
		}
		currentID = *role.ParentRoleID
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, roleID, effective, r.cacheTTL); err != nil {
			r.logger.Warn("permission cache write failed", zap.String("role_id", roleID), zap.Error(err))
		}
	}

	return effective, nil
}

// Authorize decides whether the actor may exercise the named permission
// against the optional target. Denies unless the permission is active, present
// in the actor's effective set, scope-satisfied, and every declared condition
// predicate passes. A direct user grant can only add capability, never revoke
// a role-derived one.
func (r *RBACResolver) Authorize(ctx context.Context, actor *domain.User, permissionName string, target *domain.AuthorizationTarget) (bool, error) {
	permissionName = strings.TrimSpace(permissionName)
	if actor == nil || permissionName == "" {
		metrics.AuthzDecisionsTotal.WithLabelValues("deny").Inc()
		return false, nil
	}
	if actor.Status != domain.UserStatusActive {
		metrics.AuthzDecisionsTotal.WithLabelValues("deny").Inc()
		return false, nil
	}

	permission, err := r.findEffectivePermission(ctx, actor, permissionName)
	if err != nil {
		return false, err
	}
	if permission == nil || !permission.IsActive {
		metrics.AuthzDecisionsTotal.WithLabelValues("deny").Inc()
		return false, nil
	}

	if !r.scopeSatisfied(permission.Scope, actor, target) {
		metrics.AuthzDecisionsTotal.WithLabelValues("deny").Inc()
		return false, nil
	}

	if !r.conditionsSatisfied(permission.Conditions, actor, target) {
		metrics.AuthzDecisionsTotal.WithLabelValues("deny").Inc()
		return false, nil
	}

	metrics.AuthzDecisionsTotal.WithLabelValues("allow").Inc()
	return true, nil
}

// CanModifyRole applies the administrative tie-break: an actor may modify a
// role strictly below its own level; the highest-privilege role may only be
// modified by itself, and system roles reject modification from anyone below
// the top level.
func (r *RBACResolver) CanModifyRole(ctx context.Context, actingRole, targetRole *domain.Role) (bool, error) {
	if actingRole == nil || targetRole == nil {
		return false, nil
	}

	var maxLevel int
	err := retryRead(ctx, r.storeTO, r.backoff, func(ctx context.Context) error {
		level, err := r.roles.MaxLevel(ctx)
		if err != nil {
			return err
		}
		maxLevel = level
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("resolve max role level: %w", err)
	}

	if targetRole.Level >= maxLevel {
		// The top role may only modify itself.
		return actingRole.ID == targetRole.ID && actingRole.Level >= maxLevel, nil
	}
	if targetRole.IsSystem && actingRole.Level < maxLevel {
		return false, nil
	}
	return actingRole.Level > targetRole.Level, nil
}

// findEffectivePermission searches the actor's role-derived set and direct
// grants for the named permission.
func (r *RBACResolver) findEffectivePermission(ctx context.Context, actor *domain.User, name string) (*domain.Permission, error) {
	if actor.RoleID != nil {
		roleDerived, err := r.ResolveEffectivePermissions(ctx, *actor.RoleID)
		if err != nil {
			return nil, err
		}
		for i := range roleDerived {
			if roleDerived[i].Name == name {
				return &roleDerived[i], nil
			}
		}
	}

	var direct []domain.Permission
	err := retryRead(ctx, r.storeTO, r.backoff, func(ctx context.Context) error {
		grants, err := r.permissions.ListByUser(ctx, actor.ID)
		if err != nil {
			return err
		}
		direct = grants
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list direct grants: %w", err)
	}
	for i := range direct {
		if direct[i].Name == name {
			return &direct[i], nil
		}
	}

	return nil, nil
}

// scopeSatisfied checks the permission's scope against the target. Scope own
// requires an identifiable owner; absent one the check fails closed.
func (r *RBACResolver) scopeSatisfied(scope domain.PermissionScope, actor *domain.User, target *domain.AuthorizationTarget) bool {
	switch scope {
	case domain.ScopeAll, domain.ScopeGroup:
		return true
	case domain.ScopeOwn:
		if target == nil || target.OwnerID == "" {
			return false
		}
		return target.OwnerID == actor.ID
	default:
		return false
	}
}

// conditionsSatisfied evaluates the permission's condition predicates.
// Unknown predicate keys pass, keeping the condition vocabulary extensible.
func (r *RBACResolver) conditionsSatisfied(conditions map[string]any, actor *domain.User, target *domain.AuthorizationTarget) bool {
	for key, value := range conditions {
		switch key {
		case "user_status":
			if !matchesString(value, string(actor.Status)) {
				return false
			}
		case "user_role":
			roleID := ""
			if actor.RoleID != nil {
				roleID = *actor.RoleID
			}
			if !matchesString(value, roleID) {
				return false
			}
		case "time_range":
			if !r.withinTimeRange(value) {
				return false
			}
		}
	}
	return true
}

// matchesString accepts either a single string or a list of strings as the
// condition value.
func matchesString(condition any, actual string) bool {
	switch v := condition.(type) {
	case string:
		return v == actual
	case []string:
		for _, candidate := range v {
			if candidate == actual {
				return true
			}
		}
		return false
	case []any:
		for _, candidate := range v {
			if s, ok := candidate.(string); ok && s == actual {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// withinTimeRange checks a {"start": "HH:MM", "end": "HH:MM"} wall-clock
// window against the current time. Windows may wrap midnight.
func (r *RBACResolver) withinTimeRange(condition any) bool {
	window, ok := condition.(map[string]any)
	if !ok {
		return false
	}
	start, okStart := window["start"].(string)
	end, okEnd := window["end"].(string)
	if !okStart || !okEnd {
		return false
	}

	startAt, errStart := time.Parse("15:04", start)
	endAt, errEnd := time.Parse("15:04", end)
	if errStart != nil || errEnd != nil {
		return false
	}

	now := r.now()
	minute := now.Hour()*60 + now.Minute()
	startMin := startAt.Hour()*60 + startAt.Minute()
	endMin := endAt.Hour()*60 + endAt.Minute()

	if startMin <= endMin {
		return minute >= startMin && minute <= endMin
	}
	return minute >= startMin || minute <= endMin
}

// getRole fetches a role with the bounded-read policy.
func (r *RBACResolver) getRole(ctx context.Context, id string) (*domain.Role, error) {
	var role *domain.Role
	err := retryRead(ctx, r.storeTO, r.backoff, func(ctx context.Context) error {
		found, err := r.roles.GetByID(ctx, id)
		if err != nil {
			return err
		}
		role = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lookup role: %w", err)
	}
	return role, nil
}

func (r *RBACResolver) listRolePermissions(ctx context.Context, roleID string) ([]domain.Permission, error) {
	var perms []domain.Permission
	err := retryRead(ctx, r.storeTO, r.backoff, func(ctx context.Context) error {
		found, err := r.permissions.ListByRole(ctx, roleID)
		if err != nil {
			return err
		}
		perms = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	return perms, nil
}
