package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
	"github.com/KallebyX/nexus-auth/internal/core/port"
	"github.com/KallebyX/nexus-auth/internal/repository"
)

type fakeUserRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepository(users ...domain.User) *fakeUserRepository {
	repo := &fakeUserRepository{users: make(map[string]*domain.User)}
	for i := range users {
		userCopy := users[i]
		repo.users[userCopy.ID] = &userCopy
	}
	return repo
}

func (f *fakeUserRepository) Create(_ context.Context, user domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	userCopy := user
	f.users[user.ID] = &userCopy
	return nil
}

func (f *fakeUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

func (f *fakeUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			userCopy := *user
			return &userCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepository) GetByResetTokenHash(_ context.Context, hash string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ResetTokenHash != nil && *user.ResetTokenHash == hash {
			userCopy := *user
			return &userCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepository) GetByVerifyTokenHash(_ context.Context, hash string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.VerifyTokenHash != nil && *user.VerifyTokenHash == hash {
			userCopy := *user
			return &userCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepository) UpdateStatus(_ context.Context, id string, status domain.UserStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.Status = status
	return nil
}

func (f *fakeUserRepository) UpdatePassword(_ context.Context, id string, passwordHash, passwordAlgo string, changedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.PasswordAlgo = passwordAlgo
	user.PasswordChangedAt = changedAt
	return nil
}

func (f *fakeUserRepository) UpdateLoginTracking(_ context.Context, id string, attempts int, lockedUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedLoginAttempts = attempts
	user.LockedUntil = lockedUntil
	return nil
}

func (f *fakeUserRepository) RecordLoginSuccess(_ context.Context, id string, at time.Time, ip *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &at
	user.LastLoginIP = ip
	return nil
}

func (f *fakeUserRepository) SetResetToken(_ context.Context, id string, hash *string, expiresAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.ResetTokenHash = hash
	user.ResetTokenExpiresAt = expiresAt
	return nil
}

func (f *fakeUserRepository) SetVerifyToken(_ context.Context, id string, hash *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.VerifyTokenHash = hash
	return nil
}

func (f *fakeUserRepository) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.EmailVerified = true
	user.EmailVerifiedAt = &at
	user.VerifyTokenHash = nil
	return nil
}

func (f *fakeUserRepository) CountByRole(_ context.Context, roleID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, user := range f.users {
		if user.RoleID != nil && *user.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

type fakeSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newFakeSessionRepository(sessions ...domain.Session) *fakeSessionRepository {
	repo := &fakeSessionRepository{sessions: make(map[string]*domain.Session)}
	for i := range sessions {
		sessionCopy := sessions[i]
		repo.sessions[sessionCopy.ID] = &sessionCopy
	}
	return repo
}

func (f *fakeSessionRepository) Create(_ context.Context, session domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sessionCopy := session
	f.sessions[session.ID] = &sessionCopy
	return nil
}

func (f *fakeSessionRepository) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	sessionCopy := *session
	return &sessionCopy, nil
}

func (f *fakeSessionRepository) GetByAccessTokenID(_ context.Context, tokenID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.AccessTokenID == tokenID {
			sessionCopy := *session
			return &sessionCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessionRepository) GetByRefreshTokenHash(_ context.Context, hash string) (*domain.Session, port.RefreshLookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.RefreshTokenHash == hash {
			sessionCopy := *session
			return &sessionCopy, port.RefreshCurrent, nil
		}
	}
	for _, session := range f.sessions {
		if session.PrevRefreshTokenHash != nil && *session.PrevRefreshTokenHash == hash {
			sessionCopy := *session
			return &sessionCopy, port.RefreshSuperseded, nil
		}
	}
	return nil, port.RefreshCurrent, repository.ErrNotFound
}

func (f *fakeSessionRepository) Rotate(_ context.Context, sessionID, oldRefreshHash string, rotation domain.SessionRotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || !session.IsActive || session.RefreshTokenHash != oldRefreshHash {
		return repository.ErrNotFound
	}
	prev := session.RefreshTokenHash
	session.AccessTokenID = rotation.AccessTokenID
	session.RefreshTokenHash = rotation.RefreshTokenHash
	session.PrevRefreshTokenHash = &prev
	session.ExpiresAt = rotation.ExpiresAt
	session.LastUsedAt = rotation.RotatedAt
	return nil
}

func (f *fakeSessionRepository) Touch(_ context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || !session.IsActive {
		return repository.ErrNotFound
	}
	session.LastUsedAt = at
	return nil
}

func (f *fakeSessionRepository) Revoke(_ context.Context, sessionID, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || !session.IsActive {
		return repository.ErrNotFound
	}
	session.IsActive = false
	session.RevokedAt = &at
	session.RevokeReason = &reason
	return nil
}

func (f *fakeSessionRepository) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time, exceptSessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, session := range f.sessions {
		if session.UserID != userID || !session.IsActive || session.ID == exceptSessionID {
			continue
		}
		session.IsActive = false
		revokedAt := at
		reasonCopy := reason
		session.RevokedAt = &revokedAt
		session.RevokeReason = &reasonCopy
		count++
	}
	return count, nil
}

func (f *fakeSessionRepository) ListActiveByUser(_ context.Context, userID string) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Session
	for _, session := range f.sessions {
		if session.UserID == userID && session.IsActive {
			result = append(result, *session)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastUsedAt.After(result[j].LastUsedAt)
	})
	return result, nil
}

func (f *fakeSessionRepository) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, session := range f.sessions {
		if session.IsActive && !session.ExpiresAt.After(now) {
			session.IsActive = false
			reason := domain.RevokeReasonExpired
			expiredAt := now
			session.RevokedAt = &expiredAt
			session.RevokeReason = &reason
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionRepository) PurgeRevokedBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, session := range f.sessions {
		if !session.IsActive && session.RevokedAt != nil && session.RevokedAt.Before(cutoff) {
			delete(f.sessions, id)
			count++
		}
	}
	return count, nil
}

type fakeRoleRepository struct {
	mu    sync.Mutex
	roles map[string]*domain.Role
}

func newFakeRoleRepository(roles ...domain.Role) *fakeRoleRepository {
	repo := &fakeRoleRepository{roles: make(map[string]*domain.Role)}
	for i := range roles {
		roleCopy := roles[i]
		repo.roles[roleCopy.ID] = &roleCopy
	}
	return repo
}

func (f *fakeRoleRepository) Create(_ context.Context, role domain.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.roles {
		if existing.Name == role.Name {
			return repository.ErrConflict
		}
	}
	roleCopy := role
	f.roles[role.ID] = &roleCopy
	return nil
}

func (f *fakeRoleRepository) GetByID(_ context.Context, id string) (*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	roleCopy := *role
	return &roleCopy, nil
}

func (f *fakeRoleRepository) GetByName(_ context.Context, name string) (*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, role := range f.roles {
		if role.Name == name {
			roleCopy := *role
			return &roleCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRoleRepository) GetDefault(_ context.Context) (*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, role := range f.roles {
		if role.IsDefault && role.IsActive {
			roleCopy := *role
			return &roleCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRoleRepository) List(_ context.Context) ([]domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Role
	for _, role := range f.roles {
		result = append(result, *role)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Level > result[j].Level
	})
	return result, nil
}

func (f *fakeRoleRepository) MaxLevel(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, role := range f.roles {
		if role.IsActive && role.Level > max {
			max = role.Level
		}
	}
	return max, nil
}

func (f *fakeRoleRepository) Update(_ context.Context, role domain.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[role.ID]; !ok {
		return repository.ErrNotFound
	}
	roleCopy := role
	f.roles[role.ID] = &roleCopy
	return nil
}

func (f *fakeRoleRepository) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.roles, id)
	return nil
}

func (f *fakeRoleRepository) AttachPermissions(_ context.Context, roleID string, permissionIDs []string) error {
	return nil
}

func (f *fakeRoleRepository) DetachPermission(_ context.Context, roleID, permissionID string) error {
	return nil
}

type fakePermissionRepository struct {
	mu          sync.Mutex
	permissions map[string]*domain.Permission
	byRole      map[string][]string
	byUser      map[string][]string
}

func newFakePermissionRepository(permissions ...domain.Permission) *fakePermissionRepository {
	repo := &fakePermissionRepository{
		permissions: make(map[string]*domain.Permission),
		byRole:      make(map[string][]string),
		byUser:      make(map[string][]string),
	}
	for i := range permissions {
		permissionCopy := permissions[i]
		repo.permissions[permissionCopy.ID] = &permissionCopy
	}
	return repo
}

func (f *fakePermissionRepository) attachToRole(roleID string, permissionIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byRole[roleID] = append(f.byRole[roleID], permissionIDs...)
}

func (f *fakePermissionRepository) Create(_ context.Context, permission domain.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.permissions {
		if existing.Name == permission.Name {
			return repository.ErrConflict
		}
	}
	permissionCopy := permission
	f.permissions[permission.ID] = &permissionCopy
	return nil
}

func (f *fakePermissionRepository) GetByID(_ context.Context, id string) (*domain.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	permission, ok := f.permissions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	permissionCopy := *permission
	return &permissionCopy, nil
}

func (f *fakePermissionRepository) GetByName(_ context.Context, name string) (*domain.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, permission := range f.permissions {
		if permission.Name == name {
			permissionCopy := *permission
			return &permissionCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakePermissionRepository) ListByRole(_ context.Context, roleID string) ([]domain.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Permission
	for _, id := range f.byRole[roleID] {
		if permission, ok := f.permissions[id]; ok {
			result = append(result, *permission)
		}
	}
	return result, nil
}

func (f *fakePermissionRepository) ListByUser(_ context.Context, userID string) ([]domain.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Permission
	for _, id := range f.byUser[userID] {
		if permission, ok := f.permissions[id]; ok {
			result = append(result, *permission)
		}
	}
	return result, nil
}

func (f *fakePermissionRepository) GrantToUser(_ context.Context, userID, permissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUser[userID] = append(f.byUser[userID], permissionID)
	return nil
}

func (f *fakePermissionRepository) RevokeFromUser(_ context.Context, userID, permissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	grants := f.byUser[userID]
	for i, id := range grants {
		if id == permissionID {
			f.byUser[userID] = append(grants[:i], grants[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakePermissionCache struct {
	mu          sync.Mutex
	entries     map[string][]domain.Permission
	invalidated []string
}

func newFakePermissionCache() *fakePermissionCache {
	return &fakePermissionCache{entries: make(map[string][]domain.Permission)}
}

func (f *fakePermissionCache) Get(_ context.Context, roleID string) ([]domain.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[roleID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return entry, nil
}

func (f *fakePermissionCache) Set(_ context.Context, roleID string, permissions []domain.Permission, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if permissions == nil {
		permissions = []domain.Permission{}
	}
	f.entries[roleID] = permissions
	return nil
}

func (f *fakePermissionCache) Invalidate(_ context.Context, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, roleID)
	f.invalidated = append(f.invalidated, roleID)
	return nil
}

type recordingAuditSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *recordingAuditSink) Record(_ context.Context, event domain.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingAuditSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.events))
	for _, event := range s.events {
		actions = append(actions, event.Action)
	}
	return actions
}

func (s *recordingAuditSink) hasAction(action string) bool {
	for _, recorded := range s.actions() {
		if recorded == action {
			return true
		}
	}
	return false
}
