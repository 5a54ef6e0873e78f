package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/core/port"
	"github.com/KallebyX/nexus-auth/internal/repository"
)

type seedRole struct {
	name        string
	displayName string
	level       int
	parent      string
	isDefault   bool
	permissions []string
}

type seedPermission struct {
	name     string
	resource string
	action   domain.PermissionAction
	scope    domain.PermissionScope
}

var systemPermissions = []seedPermission{
	{"users.create", "users", domain.ActionCreate, domain.ScopeAll},
	{"users.read.own", "users", domain.ActionRead, domain.ScopeOwn},
	{"users.read.all", "users", domain.ActionRead, domain.ScopeAll},
	{"users.update.own", "users", domain.ActionUpdate, domain.ScopeOwn},
	{"users.update.all", "users", domain.ActionUpdate, domain.ScopeAll},
	{"users.delete", "users", domain.ActionDelete, domain.ScopeAll},
	{"roles.admin", "roles", domain.ActionAdmin, domain.ScopeAll},
	{"sessions.read.own", "sessions", domain.ActionRead, domain.ScopeOwn},
	{"sessions.read.all", "sessions", domain.ActionRead, domain.ScopeAll},
	{"sessions.revoke.own", "sessions", domain.ActionDelete, domain.ScopeOwn},
	{"sessions.revoke.all", "sessions", domain.ActionDelete, domain.ScopeAll},
	{"content.create", "content", domain.ActionCreate, domain.ScopeOwn},
	{"content.read", "content", domain.ActionRead, domain.ScopeAll},
	{"content.update.own", "content", domain.ActionUpdate, domain.ScopeOwn},
	{"content.update.all", "content", domain.ActionUpdate, domain.ScopeAll},
	{"content.delete.all", "content", domain.ActionDelete, domain.ScopeAll},
	{"audit.read", "audit", domain.ActionRead, domain.ScopeAll},
}

// Hierarchy: guest < user < editor < moderator < admin < super_admin.
// Each role inherits its parent's grants through the chain walk, so only the
// increments are attached here.
var systemRoles = []seedRole{
	{name: "guest", displayName: "Guest", level: 0, permissions: []string{"content.read"}},
	{name: "user", displayName: "User", level: 10, parent: "guest", isDefault: true, permissions: []string{
		"users.read.own", "users.update.own", "sessions.read.own", "sessions.revoke.own", "content.create", "content.update.own",
	}},
	{name: "editor", displayName: "Editor", level: 50, parent: "user", permissions: []string{
		"content.update.all",
	}},
	{name: "moderator", displayName: "Moderator", level: 70, parent: "editor", permissions: []string{
		"users.read.all", "content.delete.all", "sessions.read.all",
	}},
	{name: "admin", displayName: "Administrator", level: 90, parent: "moderator", permissions: []string{
		"users.create", "users.update.all", "users.delete", "sessions.revoke.all", "audit.read",
	}},
	{name: "super_admin", displayName: "Super Administrator", level: 100, parent: "admin", permissions: []string{
		"roles.admin",
	}},
}

// Bootstrapper seeds the built-in roles and permissions at startup. Seeding is
// idempotent; existing records are left untouched so administrative edits to
// permission attachments survive restarts.
type Bootstrapper struct {
	roles       port.RoleRepository
	permissions port.PermissionRepository
	logger      *zap.Logger
}

// NewBootstrapper constructs a Bootstrapper.
func NewBootstrapper(roles port.RoleRepository, permissions port.PermissionRepository, logger *zap.Logger) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrapper{roles: roles, permissions: permissions, logger: logger}
}

// EnsureSystemCatalog creates any missing system permissions and roles.
func (b *Bootstrapper) EnsureSystemCatalog(ctx context.Context) error {
	permissionIDs, err := b.ensurePermissions(ctx)
	if err != nil {
		return err
	}
	return b.ensureRoles(ctx, permissionIDs)
}

func (b *Bootstrapper) ensurePermissions(ctx context.Context) (map[string]string, error) {
	ids := make(map[string]string, len(systemPermissions))

	for _, seed := range systemPermissions {
		existing, err := b.permissions.GetByName(ctx, seed.name)
		if err == nil {
			ids[seed.name] = existing.ID
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("lookup permission %s: %w", seed.name, err)
		}

		permission := domain.Permission{
			ID:       uuid.NewString(),
			Name:     seed.name,
			Resource: seed.resource,
			Action:   seed.action,
			Scope:    seed.scope,
			IsActive: true,
		}
		if err := b.permissions.Create(ctx, permission); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("create permission %s: %w", seed.name, err)
		}
		ids[seed.name] = permission.ID
		b.logger.Info("seeded permission", zap.String("name", seed.name))
	}

	return ids, nil
}

func (b *Bootstrapper) ensureRoles(ctx context.Context, permissionIDs map[string]string) error {
	roleIDs := make(map[string]string, len(systemRoles))

	// Seed order follows the hierarchy bottom-up so parents exist first.
	for _, seed := range systemRoles {
		existing, err := b.roles.GetByName(ctx, seed.name)
		if err == nil {
			roleIDs[seed.name] = existing.ID
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("lookup role %s: %w", seed.name, err)
		}

		role := domain.Role{
			ID:          uuid.NewString(),
			Name:        seed.name,
			DisplayName: seed.displayName,
			Level:       seed.level,
			IsSystem:    true,
			IsDefault:   seed.isDefault,
			IsActive:    true,
		}
		if seed.parent != "" {
			parentID, ok := roleIDs[seed.parent]
			if !ok {
				return fmt.Errorf("seed role %s references unseeded parent %s", seed.name, seed.parent)
			}
			role.ParentRoleID = &parentID
		}

		if err := b.roles.Create(ctx, role); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return fmt.Errorf("create role %s: %w", seed.name, err)
		}
		roleIDs[seed.name] = role.ID

		var attach []string
		for _, permissionName := range seed.permissions {
			if id, ok := permissionIDs[permissionName]; ok {
				attach = append(attach, id)
				continue
			}
			permission, err := b.permissions.GetByName(ctx, permissionName)
			if err != nil {
				return fmt.Errorf("resolve seed permission %s: %w", permissionName, err)
			}
			attach = append(attach, permission.ID)
		}
		if len(attach) > 0 {
			if err := b.roles.AttachPermissions(ctx, role.ID, attach); err != nil {
				return fmt.Errorf("attach seed permissions to %s: %w", seed.name, err)
			}
		}

		b.logger.Info("seeded role",
			zap.String("name", seed.name),
			zap.Int("level", seed.level),
			zap.Int("permissions", len(attach)),
		)
	}

	return nil
}
