package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/infra/security"
)

type authFixture struct {
	users        *fakeUserRepository
	sessions     *fakeSessionRepository
	roles        *fakeRoleRepository
	permissions  *fakePermissionRepository
	sink         *recordingAuditSink
	orchestrator *AuthOrchestrator
	manager      *SessionManager
	hasher       *security.Argon2Hasher
	now          time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	fixture := &authFixture{
		users:       newFakeUserRepository(),
		sessions:    newFakeSessionRepository(),
		roles:       newFakeRoleRepository(domain.Role{ID: "role-user", Name: "user", Level: 10, IsDefault: true, IsActive: true}),
		permissions: newFakePermissionRepository(),
		sink:        &recordingAuditSink{},
		hasher:      security.NewArgon2Hasher(),
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	log := zaptest.NewLogger(t)
	clock := func() time.Time { return fixture.now }

	fixture.manager = NewSessionManager(fixture.sessions, fixture.users, fixture.sink, SessionManagerConfig{}, log)
	fixture.manager.WithClock(clock)

	lockout := NewLockoutTracker(fixture.users, 5, 15*time.Minute, log)
	lockout.WithClock(clock)

	rbac := NewRBACResolver(fixture.roles, fixture.permissions, nil, RBACResolverConfig{}, log)
	rbac.WithClock(clock)

	issuer, err := security.NewTokenIssuer("test-secret-which-is-long-enough", "nexus-auth", "nexus-auth")
	if err != nil {
		t.Fatalf("init issuer: %v", err)
	}
	issuer.WithClock(clock)

	fixture.orchestrator = NewAuthOrchestrator(
		fixture.users,
		fixture.roles,
		fixture.manager,
		lockout,
		rbac,
		fixture.hasher,
		issuer,
		security.DefaultPasswordValidator(),
		fixture.sink,
		AuthOrchestratorConfig{},
		log,
	)
	fixture.orchestrator.WithClock(clock)

	return fixture
}

func (f *authFixture) register(t *testing.T, email, password string) (*domain.User, string) {
	t.Helper()
	user, verifyToken, err := f.orchestrator.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Ada",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return user, verifyToken
}

func (f *authFixture) registerVerified(t *testing.T, email, password string) *domain.User {
	t.Helper()
	_, verifyToken := f.register(t, email, password)
	user, err := f.orchestrator.VerifyEmail(context.Background(), verifyToken)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	return user
}

func TestRegisterCreatesPendingUserWithDefaultRole(t *testing.T) {
	fixture := newAuthFixture(t)

	user, verifyToken := fixture.register(t, "A@X.com", "Secret123!")

	if user.Status != domain.UserStatusPending {
		t.Fatalf("status = %s, want pending", user.Status)
	}
	if user.Email != "a@x.com" {
		t.Fatalf("email = %s, want lowercased", user.Email)
	}
	if user.RoleID == nil || *user.RoleID != "role-user" {
		t.Fatal("default role not assigned")
	}
	if user.PasswordHash != "" {
		t.Fatal("password hash leaked through sanitization")
	}
	if verifyToken == "" {
		t.Fatal("no verification token issued")
	}

	stored, err := fixture.users.GetByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if stored.PasswordHash == "Secret123!" || stored.PasswordHash == "" {
		t.Fatal("password not stored hashed")
	}
	if !fixture.sink.hasAction(domain.AuditUserRegistered) {
		t.Fatal("no registration audit event")
	}
}

func TestRegisterRejectsDuplicateEmailAndWeakPassword(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.register(t, "a@x.com", "Secret123!")

	ctx := context.Background()
	if _, _, err := fixture.orchestrator.Register(ctx, RegisterInput{Email: "A@x.com", Password: "Secret123!", FirstName: "Bob"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate email: got %v, want ErrEmailTaken", err)
	}
	if _, _, err := fixture.orchestrator.Register(ctx, RegisterInput{Email: "b@x.com", Password: "weak", FirstName: "Bob"}); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("weak password: got %v, want ErrValidationFailed", err)
	}
}

func TestLoginBeforeVerificationIsRejectedAsUnverified(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.register(t, "a@x.com", "Secret123!")

	_, err := fixture.orchestrator.Login(context.Background(), LoginInput{Email: "a@x.com", Password: "Secret123!"})
	if !errors.Is(err, ErrAccountNotVerified) {
		t.Fatalf("pending login: got %v, want ErrAccountNotVerified", err)
	}
}

func TestLoginIssuesTokenPair(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.registerVerified(t, "a@x.com", "Secret123!")

	result, err := fixture.orchestrator.Login(context.Background(), LoginInput{Email: "a@x.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if result.User.PasswordHash != "" {
		t.Fatal("login result leaks password hash")
	}
	if !fixture.sink.hasAction(domain.AuditLoginSucceeded) {
		t.Fatal("no login audit event")
	}
}

func TestLoginErrorsAreGeneric(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.registerVerified(t, "a@x.com", "Secret123!")

	ctx := context.Background()
	_, unknownErr := fixture.orchestrator.Login(ctx, LoginInput{Email: "nobody@x.com", Password: "Secret123!"})
	_, wrongErr := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Wrong123!"})

	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("unknown=%v wrong=%v, both must be ErrInvalidCredentials", unknownErr, wrongErr)
	}
}

func TestLoginLockoutScenario(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.registerVerified(t, "a@x.com", "Secret123!")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Wrong123!"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCredentials", i+1, err)
		}
	}
	if !fixture.sink.hasAction(domain.AuditAccountLocked) {
		t.Fatal("no lockout audit event after 5 failures")
	}

	// Even the correct password is rejected inside the window.
	if _, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Secret123!"}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked login: got %v, want ErrAccountLocked", err)
	}

	// After the cooldown the correct password succeeds and resets the counter.
	fixture.now = fixture.now.Add(16 * time.Minute)
	if _, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Secret123!"}); err != nil {
		t.Fatalf("post-cooldown login: %v", err)
	}
	stored, _ := fixture.users.GetByEmail(ctx, "a@x.com")
	if stored.FailedLoginAttempts != 0 || stored.LockedUntil != nil {
		t.Fatal("counter and lock not reset by successful login")
	}
}

func TestRefreshRotationAndReplayEndToEnd(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.registerVerified(t, "a@x.com", "Secret123!")
	ctx := context.Background()

	result, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	rotated, err := fixture.orchestrator.Refresh(ctx, result.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == result.Tokens.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	if _, err := fixture.orchestrator.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("replay: got %v, want ErrReplayDetected", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.registerVerified(t, "a@x.com", "Secret123!")
	ctx := context.Background()

	result, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := fixture.orchestrator.Logout(ctx, result.Tokens.AccessToken); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := fixture.orchestrator.Logout(ctx, result.Tokens.AccessToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := fixture.orchestrator.Logout(ctx, "garbage-token"); err != nil {
		t.Fatalf("garbage token logout: %v", err)
	}
}

func TestAuthorizeThroughAccessToken(t *testing.T) {
	fixture := newAuthFixture(t)
	permission := domain.Permission{ID: "perm-read", Name: "content.read", Resource: "content", Action: domain.ActionRead, Scope: domain.ScopeAll, IsActive: true}
	if err := fixture.permissions.Create(context.Background(), permission); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	fixture.permissions.attachToRole("role-user", "perm-read")

	fixture.registerVerified(t, "a@x.com", "Secret123!")
	ctx := context.Background()
	result, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	allowed, err := fixture.orchestrator.Authorize(ctx, result.Tokens.AccessToken, "content.read", nil)
	if err != nil || !allowed {
		t.Fatalf("granted permission: allowed=%v err=%v, want allow", allowed, err)
	}

	if _, err := fixture.orchestrator.Authorize(ctx, result.Tokens.AccessToken, "users.delete", nil); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("ungranted permission: got %v, want ErrPermissionDenied", err)
	}

	if err := fixture.orchestrator.Logout(ctx, result.Tokens.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := fixture.orchestrator.Authorize(ctx, result.Tokens.AccessToken, "content.read", nil); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("revoked session authorize: got %v, want ErrSessionRevoked", err)
	}
}

func TestRequestPasswordResetDoesNotRevealAccounts(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.registerVerified(t, "a@x.com", "Secret123!")
	ctx := context.Background()

	knownToken, err := fixture.orchestrator.RequestPasswordReset(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("reset for known email: %v", err)
	}
	if knownToken == "" {
		t.Fatal("no reset token for known account")
	}

	unknownToken, err := fixture.orchestrator.RequestPasswordReset(ctx, "nobody@x.com")
	if err != nil {
		t.Fatalf("reset for unknown email must also succeed: %v", err)
	}
	if unknownToken != "" {
		t.Fatal("token issued for unknown account")
	}
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.registerVerified(t, "a@x.com", "Secret123!")
	ctx := context.Background()

	result, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	resetToken, err := fixture.orchestrator.RequestPasswordReset(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := fixture.orchestrator.ResetPassword(ctx, resetToken, "Fresh456!pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	// Old password dead, sessions revoked, new password works.
	if _, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Secret123!"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := fixture.orchestrator.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("old session refresh: got %v, want ErrSessionRevoked", err)
	}
	if _, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Fresh456!pass"}); err != nil {
		t.Fatalf("new password login: %v", err)
	}

	// The token is single-use.
	if err := fixture.orchestrator.ResetPassword(ctx, resetToken, "Another789!pw"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("reused reset token: got %v, want ErrResetTokenInvalid", err)
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.registerVerified(t, "a@x.com", "Secret123!")
	ctx := context.Background()

	resetToken, err := fixture.orchestrator.RequestPasswordReset(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	fixture.now = fixture.now.Add(2 * time.Hour)
	if err := fixture.orchestrator.ResetPassword(ctx, resetToken, "Fresh456!pass"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expired reset token: got %v, want ErrResetTokenInvalid", err)
	}
}

func TestVerifyEmailActivatesAccount(t *testing.T) {
	fixture := newAuthFixture(t)
	_, verifyToken := fixture.register(t, "a@x.com", "Secret123!")
	ctx := context.Background()

	user, err := fixture.orchestrator.VerifyEmail(ctx, verifyToken)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if user.Status != domain.UserStatusActive || !user.EmailVerified {
		t.Fatal("account not activated by verification")
	}

	if _, err := fixture.orchestrator.VerifyEmail(ctx, verifyToken); !errors.Is(err, ErrVerifyTokenInvalid) {
		t.Fatalf("reused verify token: got %v, want ErrVerifyTokenInvalid", err)
	}
	if _, err := fixture.orchestrator.VerifyEmail(ctx, "bogus"); !errors.Is(err, ErrVerifyTokenInvalid) {
		t.Fatalf("bogus verify token: got %v, want ErrVerifyTokenInvalid", err)
	}
}

func TestSuspendedAccountLooksLikeBadCredentials(t *testing.T) {
	fixture := newAuthFixture(t)
	user := fixture.registerVerified(t, "a@x.com", "Secret123!")
	ctx := context.Background()

	if err := fixture.users.UpdateStatus(ctx, user.ID, domain.UserStatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	if _, err := fixture.orchestrator.Login(ctx, LoginInput{Email: "a@x.com", Password: "Secret123!"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("suspended login: got %v, want ErrInvalidCredentials", err)
	}
}
