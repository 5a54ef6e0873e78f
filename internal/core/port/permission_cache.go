package port

import (
	"context"
	"time"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
)

// PermissionCache caches a role's resolved effective permission set.
// Role resolution is side-effect-free, which makes the result safe to cache;
// attach/detach and role mutation must invalidate.
type PermissionCache interface {
	Get(ctx context.Context, roleID string) ([]domain.Permission, error)
	Set(ctx context.Context, roleID string, permissions []domain.Permission, ttl time.Duration) error
	Invalidate(ctx context.Context, roleID string) error
}
