package port

import (
	"context"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
)

// PermissionRepository manages permission storage.
// ListByUser returns only direct user-level grants; role-derived permissions
// are resolved by walking the hierarchy so the result stays cacheable.
type PermissionRepository interface {
	Create(ctx context.Context, permission domain.Permission) error
	GetByID(ctx context.Context, id string) (*domain.Permission, error)
	GetByName(ctx context.Context, name string) (*domain.Permission, error)
	ListByRole(ctx context.Context, roleID string) ([]domain.Permission, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Permission, error)
	GrantToUser(ctx context.Context, userID, permissionID string) error
	RevokeFromUser(ctx context.Context, userID, permissionID string) error
}
