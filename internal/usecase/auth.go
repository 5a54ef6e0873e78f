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
	"github.com/KallebyX/nexus-auth/internal/infra/logger"
	"github.com/KallebyX/nexus-auth/internal/infra/metrics"
	"github.com/KallebyX/nexus-auth/internal/infra/security"
	"github.com/KallebyX/nexus-auth/internal/repository"
)

const (
	resetTokenBytes  = 32
	verifyTokenBytes = 32
	defaultResetTTL  = time.Hour
)

// RegisterInput carries the registration payload.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  *string
}

// LoginInput carries credentials plus request context for a login attempt.
type LoginInput struct {
	Email    string
	Password string
	Remember bool
	Device   domain.DeviceInfo
}

// LoginResult is the successful login payload.
type LoginResult struct {
	User   domain.User
	Tokens domain.TokenPair
}

// AuthOrchestrator composes the lockout tracker, session manager, and RBAC
// resolver into the public register, login, logout, refresh, and authorize
// operations. It is the only component that knows about all the others.
type AuthOrchestrator struct {
	users     port.UserRepository
	roles     port.RoleRepository
	sessions  *SessionManager
	lockout   *LockoutTracker
	rbac      *RBACResolver
	hasher    port.PasswordHasher
	issuer    *security.TokenIssuer
	validator *security.PasswordValidator
	audit     port.AuditSink
	resetTTL  time.Duration
	storeTO   time.Duration
	backoff   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// AuthOrchestratorConfig tunes token lifetimes and store-call bounds.
type AuthOrchestratorConfig struct {
	ResetTokenTTL time.Duration
	StoreTimeout  time.Duration
	RetryBackoff  time.Duration
}

// NewAuthOrchestrator constructs the orchestrator with its collaborators.
func NewAuthOrchestrator(
	users port.UserRepository,
	roles port.RoleRepository,
	sessions *SessionManager,
	lockout *LockoutTracker,
	rbac *RBACResolver,
	hasher port.PasswordHasher,
	issuer *security.TokenIssuer,
	validator *security.PasswordValidator,
	audit port.AuditSink,
	cfg AuthOrchestratorConfig,
	log *zap.Logger,
) *AuthOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = defaultResetTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	orchestrator := &AuthOrchestrator{
		users:     users,
		roles:     roles,
		sessions:  sessions,
		lockout:   lockout,
		rbac:      rbac,
		hasher:    hasher,
		issuer:    issuer,
		validator: validator,
		audit:     audit,
		resetTTL:  cfg.ResetTokenTTL,
		storeTO:   cfg.StoreTimeout,
		backoff:   cfg.RetryBackoff,
		logger:    log,
	}
	orchestrator.now = func() time.Time { return time.Now().UTC() }
	return orchestrator
}

// WithClock overrides the internal clock for deterministic tests.
func (o *AuthOrchestrator) WithClock(clock func() time.Time) {
	if clock != nil {
		o.now = clock
	}
}

// Register creates a pending account with the default role and issues an email
// verification token. The raw verification token is returned so the caller can
// deliver it out of band; only its hash is stored.
func (o *AuthOrchestrator) Register(ctx context.Context, in RegisterInput) (*domain.User, string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("%w: invalid email", ErrValidationFailed)
	}
	if err := o.validator.Validate(in.Password); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		return nil, "", fmt.Errorf("%w: first name is required", ErrValidationFailed)
	}

	existing, err := o.findUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrInvalidCredentials) {
		return nil, "", err
	}
	if existing != nil {
		return nil, "", ErrEmailTaken
	}

	defaultRole, err := o.defaultRole(ctx)
	if err != nil {
		return nil, "", err
	}
	if defaultRole != nil && defaultRole.MaxUsers != nil {
		var count int
		err := retryRead(ctx, o.storeTO, o.backoff, func(ctx context.Context) error {
			n, err := o.users.CountByRole(ctx, defaultRole.ID)
			if err != nil {
				return err
			}
			count = n
			return nil
		})
		if err != nil {
			return nil, "", fmt.Errorf("count role members: %w", err)
		}
		if count >= *defaultRole.MaxUsers {
			return nil, "", ErrRoleAtCapacity
		}
	}

	hash, err := o.hasher.Hash(in.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	verifyToken, err := security.GenerateTokenID(verifyTokenBytes)
	if err != nil {
		return nil, "", fmt.Errorf("generate verification token: %w", err)
	}
	verifyHash := security.HashToken(verifyToken)

	now := o.now()
	user := domain.User{
		ID:                uuid.NewString(),
		Email:             email,
		FirstName:         firstName,
		LastName:          in.LastName,
		PasswordHash:      hash,
		PasswordAlgo:      o.hasher.Algorithm(),
		Status:            domain.UserStatusPending,
		VerifyTokenHash:   &verifyHash,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if defaultRole != nil {
		user.RoleID = &defaultRole.ID
	}

	err = callStore(ctx, o.storeTO, func(ctx context.Context) error {
		return o.users.Create(ctx, user)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	o.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(email)),
	)
	o.emit(ctx, domain.AuditEvent{
		ActorID:      &user.ID,
		Action:       domain.AuditUserRegistered,
		ResourceType: "user",
		ResourceID:   &user.ID,
		Outcome:      "success",
	})

	sanitized := user.Sanitized()
	return &sanitized, verifyToken, nil
}

// Login authenticates credentials and mints a session. Missing accounts and
// wrong passwords both yield ErrInvalidCredentials so callers cannot probe for
// registered emails. The lock check runs before password verification so a
// locked account never leaks password correctness.
func (o *AuthOrchestrator) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	user, err := o.findUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
			o.emit(ctx, domain.AuditEvent{
				Action:       domain.AuditLoginFailed,
				ResourceType: "user",
				Outcome:      "unknown_account",
				IPAddress:    in.Device.IPAddress,
				UserAgent:    in.Device.UserAgent,
			})
		}
		return nil, err
	}

	if o.lockout.IsLocked(user) {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		o.emit(ctx, domain.AuditEvent{
			ActorID:      &user.ID,
			Action:       domain.AuditLoginFailed,
			ResourceType: "user",
			ResourceID:   &user.ID,
			Outcome:      "locked",
			IPAddress:    in.Device.IPAddress,
			UserAgent:    in.Device.UserAgent,
		})
		return nil, ErrAccountLocked
	}

	match, err := o.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		updated, lockedNow, err := o.lockout.RecordFailure(ctx, user)
		if err != nil {
			o.logger.Error("record login failure", zap.String("user_id", user.ID), zap.Error(err))
		}
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		o.emit(ctx, domain.AuditEvent{
			ActorID:      &user.ID,
			Action:       domain.AuditLoginFailed,
			ResourceType: "user",
			ResourceID:   &user.ID,
			Outcome:      "wrong_password",
			IPAddress:    in.Device.IPAddress,
			UserAgent:    in.Device.UserAgent,
		})
		if lockedNow && updated != nil {
			o.emit(ctx, domain.AuditEvent{
				ActorID:      &user.ID,
				Action:       domain.AuditAccountLocked,
				ResourceType: "user",
				ResourceID:   &user.ID,
				Outcome:      "locked",
				IPAddress:    in.Device.IPAddress,
				Details:      map[string]any{"attempts": updated.FailedLoginAttempts},
			})
		}
		return nil, ErrInvalidCredentials
	}

	switch user.Status {
	case domain.UserStatusActive:
	case domain.UserStatusPending:
		return nil, ErrAccountNotVerified
	default:
		// Inactive and suspended accounts look like bad credentials from outside.
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	user, err = o.lockout.RecordSuccess(ctx, user, in.Device.IPAddress)
	if err != nil {
		return nil, err
	}

	credentials, err := o.sessions.CreateSession(ctx, user.ID, in.Device, in.Remember)
	if err != nil {
		return nil, err
	}

	accessToken, err := o.signAccessToken(ctx, user, credentials)
	if err != nil {
		return nil, err
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	o.logger.Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("session_id", credentials.Session.ID),
	)
	o.emit(ctx, domain.AuditEvent{
		ActorID:      &user.ID,
		Action:       domain.AuditLoginSucceeded,
		ResourceType: "session",
		ResourceID:   &credentials.Session.ID,
		Outcome:      "success",
		IPAddress:    in.Device.IPAddress,
		UserAgent:    in.Device.UserAgent,
	})

	return &LoginResult{
		User: user.Sanitized(),
		Tokens: domain.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: credentials.RefreshToken,
			ExpiresAt:    credentials.Session.ExpiresAt,
		},
	}, nil
}

// Logout revokes the session behind the access token. Unknown or already
// revoked sessions succeed silently; logout is idempotent.
func (o *AuthOrchestrator) Logout(ctx context.Context, accessToken string) error {
	claims, err := o.issuer.Parse(accessToken)
	if err != nil {
		// An expired or garbled token has nothing left to revoke.
		return nil
	}

	session, err := o.lookupSessionByTokenID(ctx, claims.RegisteredClaims.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := o.sessions.Revoke(ctx, session.ID, domain.RevokeReasonLogout); err != nil {
		return err
	}

	o.emit(ctx, domain.AuditEvent{
		ActorID:      &session.UserID,
		Action:       domain.AuditLogout,
		ResourceType: "session",
		ResourceID:   &session.ID,
		Outcome:      "success",
		IPAddress:    session.IPAddress,
	})
	return nil
}

// Refresh rotates the refresh token and returns a freshly signed token pair.
func (o *AuthOrchestrator) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	credentials, err := o.sessions.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := o.findUserByID(ctx, credentials.Session.UserID)
	if err != nil {
		return nil, err
	}

	accessToken, err := o.signAccessToken(ctx, user, credentials)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: credentials.RefreshToken,
		ExpiresAt:    credentials.Session.ExpiresAt,
	}, nil
}

// Authorize validates the access token, resolves the actor, and evaluates the
// named permission against the optional target.
func (o *AuthOrchestrator) Authorize(ctx context.Context, accessToken, permissionName string, target *domain.AuthorizationTarget) (bool, error) {
	claims, err := o.issuer.Parse(accessToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return false, ErrSessionExpired
		}
		return false, ErrSessionNotFound
	}

	_, user, err := o.sessions.ValidateAccessToken(ctx, claims.RegisteredClaims.ID)
	if err != nil {
		return false, err
	}

	allowed, err := o.rbac.Authorize(ctx, user, permissionName, target)
	if err != nil {
		return false, err
	}
	if !allowed {
		return false, ErrPermissionDenied
	}
	return true, nil
}

// RequestPasswordReset issues a reset token for the account, if one exists.
// It always reports success so the endpoint cannot be used to enumerate
// registered emails; the raw token is empty when no account matched.
func (o *AuthOrchestrator) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := o.findUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return "", nil
		}
		return "", err
	}

	resetToken, err := security.GenerateTokenID(resetTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	resetHash := security.HashToken(resetToken)
	expiresAt := o.now().Add(o.resetTTL)

	err = callStore(ctx, o.storeTO, func(ctx context.Context) error {
		return o.users.SetResetToken(ctx, user.ID, &resetHash, &expiresAt)
	})
	if err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	o.emit(ctx, domain.AuditEvent{
		ActorID:      &user.ID,
		Action:       domain.AuditPasswordResetReq,
		ResourceType: "user",
		ResourceID:   &user.ID,
		Outcome:      "success",
	})
	return resetToken, nil
}

// ResetPassword consumes a reset token, replaces the password, clears any
// lockout, and revokes every active session for the account.
func (o *AuthOrchestrator) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	resetToken = strings.TrimSpace(resetToken)
	if resetToken == "" {
		return ErrResetTokenInvalid
	}
	if err := o.validator.Validate(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	hash := security.HashToken(resetToken)
	var user *domain.User
	err := retryRead(ctx, o.storeTO, o.backoff, func(ctx context.Context) error {
		found, err := o.users.GetByResetTokenHash(ctx, hash)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}

	now := o.now()
	if user.ResetTokenExpiresAt == nil || !user.ResetTokenExpiresAt.After(now) {
		return ErrResetTokenInvalid
	}

	passwordHash, err := o.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = callStore(ctx, o.storeTO, func(ctx context.Context) error {
		if err := o.users.UpdatePassword(ctx, user.ID, passwordHash, o.hasher.Algorithm(), now); err != nil {
			return err
		}
		if err := o.users.SetResetToken(ctx, user.ID, nil, nil); err != nil {
			return err
		}
		return o.users.UpdateLoginTracking(ctx, user.ID, 0, nil)
	})
	if err != nil {
		return fmt.Errorf("apply password reset: %w", err)
	}

	if _, err := o.sessions.RevokeAllForUser(ctx, user.ID, domain.RevokeReasonPasswordChange, ""); err != nil {
		o.logger.Error("revoke sessions after password reset", zap.String("user_id", user.ID), zap.Error(err))
	}

	o.emit(ctx, domain.AuditEvent{
		ActorID:      &user.ID,
		Action:       domain.AuditPasswordResetDone,
		ResourceType: "user",
		ResourceID:   &user.ID,
		Outcome:      "success",
	})
	return nil
}

// VerifyEmail consumes a verification token and activates the account.
func (o *AuthOrchestrator) VerifyEmail(ctx context.Context, verifyToken string) (*domain.User, error) {
	verifyToken = strings.TrimSpace(verifyToken)
	if verifyToken == "" {
		return nil, ErrVerifyTokenInvalid
	}

	hash := security.HashToken(verifyToken)
	var user *domain.User
	err := retryRead(ctx, o.storeTO, o.backoff, func(ctx context.Context) error {
		found, err := o.users.GetByVerifyTokenHash(ctx, hash)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrVerifyTokenInvalid
		}
		return nil, fmt.Errorf("lookup verification token: %w", err)
	}

	now := o.now()
	err = callStore(ctx, o.storeTO, func(ctx context.Context) error {
		if err := o.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
			return err
		}
		if user.Status == domain.UserStatusPending {
			return o.users.UpdateStatus(ctx, user.ID, domain.UserStatusActive)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark email verified: %w", err)
	}

	updated := *user
	updated.EmailVerified = true
	updated.EmailVerifiedAt = &now
	updated.VerifyTokenHash = nil
	if updated.Status == domain.UserStatusPending {
		updated.Status = domain.UserStatusActive
	}

	o.emit(ctx, domain.AuditEvent{
		ActorID:      &user.ID,
		Action:       domain.AuditEmailVerified,
		ResourceType: "user",
		ResourceID:   &user.ID,
		Outcome:      "success",
	})

	sanitized := updated.Sanitized()
	return &sanitized, nil
}

// ListSessions returns the user's live sessions for device management views.
func (o *AuthOrchestrator) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return o.sessions.ListActiveSessions(ctx, userID)
}

// signAccessToken wraps the session's access-token identifier in a signed JWT.
func (o *AuthOrchestrator) signAccessToken(ctx context.Context, user *domain.User, credentials *SessionCredentials) (string, error) {
	roleName := ""
	if user.RoleID != nil {
		role, err := o.roleByID(ctx, *user.RoleID)
		if err == nil && role != nil {
			roleName = role.Name
		}
	}

	accessToken, err := o.issuer.Sign(user.ID, roleName, credentials.AccessTokenID, credentials.Session.ExpiresAt)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return accessToken, nil
}

func (o *AuthOrchestrator) lookupSessionByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	session, _, err := o.sessions.ValidateAccessToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrSessionRevoked) || errors.Is(err, ErrSessionExpired) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (o *AuthOrchestrator) findUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	var user *domain.User
	err := retryRead(ctx, o.storeTO, o.backoff, func(ctx context.Context) error {
		found, err := o.users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (o *AuthOrchestrator) findUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user *domain.User
	err := retryRead(ctx, o.storeTO, o.backoff, func(ctx context.Context) error {
		found, err := o.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (o *AuthOrchestrator) roleByID(ctx context.Context, id string) (*domain.Role, error) {
	var role *domain.Role
	err := retryRead(ctx, o.storeTO, o.backoff, func(ctx context.Context) error {
		found, err := o.roles.GetByID(ctx, id)
		if err != nil {
			return err
		}
		role = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (o *AuthOrchestrator) defaultRole(ctx context.Context) (*domain.Role, error) {
	var role *domain.Role
	err := retryRead(ctx, o.storeTO, o.backoff, func(ctx context.Context) error {
		found, err := o.roles.GetDefault(ctx)
		if err != nil {
			return err
		}
		role = found
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup default role: %w", err)
	}
	return role, nil
}

func (o *AuthOrchestrator) emit(ctx context.Context, event domain.AuditEvent) {
	if o.audit == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.now()
	}
	o.audit.Record(ctx, event)
}
