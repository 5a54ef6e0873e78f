package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/repository"
)

const defaultPermissionPrefix = "nexus:auth:role_permissions"

// PermissionCache caches a role's resolved effective permission set as a JSON
// document keyed by role id. Resolution walks the hierarchy on a miss; the
// entries are invalidated on permission attach/detach and otherwise age out by TTL.
type PermissionCache struct {
	client *red.Client
	prefix string
}

// NewPermissionCache constructs a permission cache helper.
func NewPermissionCache(client *red.Client, keyPrefix string) *PermissionCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPermissionPrefix
	}

	return &PermissionCache{client: client, prefix: prefix}
}

// Get fetches the cached permission set, returning ErrNotFound on cache miss.
func (c *PermissionCache) Get(ctx context.Context, roleID string) ([]domain.Permission, error) {
	key := c.key(roleID)
	if key == "" {
		return nil, fmt.Errorf("role id is required")
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get role permissions: %w", err)
	}

	var permissions []domain.Permission
	if err := json.Unmarshal(payload, &permissions); err != nil {
		return nil, fmt.Errorf("unmarshal cached permissions: %w", err)
	}
	if permissions == nil {
		permissions = []domain.Permission{}
	}

	return permissions, nil
}

// Set stores the permission set with the provided TTL.
func (c *PermissionCache) Set(ctx context.Context, roleID string, permissions []domain.Permission, ttl time.Duration) error {
	key := c.key(roleID)
	if key == "" {
		return fmt.Errorf("role id is required")
	}
	if permissions == nil {
		permissions = []domain.Permission{}
	}

	payload, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set role permissions: %w", err)
	}

	return nil
}

// Invalidate drops the cached set for the role.
func (c *PermissionCache) Invalidate(ctx context.Context, roleID string) error {
	key := c.key(roleID)
	if key == "" {
		return fmt.Errorf("role id is required")
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete role permissions: %w", err)
	}

	return nil
}

func (c *PermissionCache) key(roleID string) string {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return ""
	}
	return c.prefix + ":" + roleID
}
