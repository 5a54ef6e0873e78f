package usecase

import "errors"

var (
	// ErrInvalidCredentials indicates the email or password are incorrect. Missing
	// accounts and wrong passwords map to the same error to prevent enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is inside a lockout window.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountNotVerified indicates the account is pending email verification.
	ErrAccountNotVerified = errors.New("account pending verification")
	// ErrSessionNotFound indicates no matching live session exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session passed its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked indicates the session was revoked ahead of validation.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrReplayDetected indicates a superseded refresh token was presented; the
	// session has been revoked as a compromise signal before this error returns.
	ErrReplayDetected = errors.New("refresh token replay detected")
	// ErrPermissionDenied indicates the actor lacks the required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrHierarchyCycle indicates a cycle in the role parent chain; resolution fails closed.
	ErrHierarchyCycle = errors.New("role hierarchy cycle detected")
	// ErrBackendUnavailable indicates the persistent store timed out or is unreachable.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrValidationFailed indicates the request payload failed validation.
	ErrValidationFailed = errors.New("validation failed")
	// ErrEmailTaken indicates a registration attempt with an already-used email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrRoleAtCapacity indicates the role reached its configured max user count.
	ErrRoleAtCapacity = errors.New("role at maximum capacity")
	// ErrRoleProtected indicates a system role rejected modification or deletion.
	ErrRoleProtected = errors.New("role is system protected")
	// ErrResetTokenInvalid indicates the password reset token is unknown or expired.
	ErrResetTokenInvalid = errors.New("reset token invalid or expired")
	// ErrVerifyTokenInvalid indicates the email verification token is unknown.
	ErrVerifyTokenInvalid = errors.New("verification token invalid")
)
