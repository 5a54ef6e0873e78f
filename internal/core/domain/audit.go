package domain

import "time"

// Audit actions emitted by the auth engine, one per state-changing operation.
const (
	AuditUserRegistered     = "user_registered"
	AuditLoginSucceeded     = "login_succeeded"
	AuditLoginFailed        = "login_failed"
	AuditAccountLocked      = "account_locked"
	AuditLogout             = "user_logout"
	AuditSessionRotated     = "session_rotated"
	AuditSessionRevoked     = "session_revoked"
	AuditReplayDetected     = "replay_detected"
	AuditPasswordResetReq   = "password_reset_requested"
	AuditPasswordResetDone  = "password_reset_completed"
	AuditEmailVerified      = "email_verified"
	AuditRoleCreated        = "role_created"
	AuditRoleDeleted        = "role_deleted"
	AuditPermissionAttached = "permission_attached"
	AuditPermissionDetached = "permission_detached"
	AuditSessionsSwept      = "sessions_swept"
)

// AuditEvent is the structured record handed to the audit sink.
// ActorID is nullable: failed logins for unknown accounts have no actor.
type AuditEvent struct {
	ID           string
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   *string
	Outcome      string
	IPAddress    *string
	UserAgent    *string
	Details      map[string]any
	OccurredAt   time.Time
}
