package port

import (
	"context"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
)

// RoleRepository handles role CRUD and hierarchy lookups.
type RoleRepository interface {
	Create(ctx context.Context, role domain.Role) error
	GetByID(ctx context.Context, id string) (*domain.Role, error)
	GetByName(ctx context.Context, name string) (*domain.Role, error)
	GetDefault(ctx context.Context) (*domain.Role, error)
	List(ctx context.Context) ([]domain.Role, error)
	MaxLevel(ctx context.Context) (int, error)
	Update(ctx context.Context, role domain.Role) error
	Delete(ctx context.Context, id string) error
	AttachPermissions(ctx context.Context, roleID string, permissionIDs []string) error
	DetachPermission(ctx context.Context, roleID, permissionID string) error
}
