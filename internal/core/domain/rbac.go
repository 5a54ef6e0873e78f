package domain

import "time"

// Role defines a named authorization level in a single-parent hierarchy.
// A higher Level means more privilege. System roles cannot be deleted.
type Role struct {
	ID           string
	Name         string
	DisplayName  string
	Description  *string
	Level        int
	ParentRoleID *string
	IsSystem     bool
	IsDefault    bool
	IsActive     bool
	MaxUsers     *int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PermissionAction enumerates the verbs a permission can grant.
type PermissionAction string

const (
	ActionCreate PermissionAction = "create"
	ActionRead   PermissionAction = "read"
	ActionUpdate PermissionAction = "update"
	ActionDelete PermissionAction = "delete"
	ActionAdmin  PermissionAction = "admin"
)

// PermissionScope bounds which records a permission applies to relative to the actor.
type PermissionScope string

const (
	ScopeOwn   PermissionScope = "own"
	ScopeGroup PermissionScope = "group"
	ScopeAll   PermissionScope = "all"
)

// Permission defines an atomic capability over a resource.
// Conditions hold optional key/value predicates evaluated against actor and target.
type Permission struct {
	ID          string
	Name        string
	Description *string
	Resource    string
	Action      PermissionAction
	Scope       PermissionScope
	Conditions  map[string]any
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuthorizationTarget describes the record an authorization decision is evaluated against.
// OwnerID identifies the owning user for scope=own checks; when the target has no
// identifiable owner the check fails closed.
type AuthorizationTarget struct {
	OwnerID    string
	Attributes map[string]any
}
