package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/videotube-api/internal/models"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
)

type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) { return "hashed:" + secret, nil }

func (plainHasher) Verify(hash, candidate string) bool { return hash == "hashed:"+candidate }

// memoryDirectory keeps users and their refresh token the way the users table does.
type memoryDirectory struct {
	mu          sync.Mutex
	users       map[string]*models.User
	findByIDErr error
	createErr   error
	findByIDs   int
	writes      int
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{users: make(map[string]*models.User)}
}

func (m *memoryDirectory) FindByHandleOrContact(ctx context.Context, username, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findByIDs++
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (m *memoryDirectory) Create(ctx context.Context, user *models.User, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.writes++
	user.ID = uuid.NewString()
	user.PasswordHash, _ = plainHasher{}.Hash(password)
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *memoryDirectory) UpdatePassword(ctx context.Context, id, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	m.writes++
	u.PasswordHash, _ = plainHasher{}.Hash(password)
	return nil
}

func (m *memoryDirectory) delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

func (m *memoryDirectory) SetRefreshToken(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	m.writes++
	u.RefreshToken = &token
	return nil
}

func (m *memoryDirectory) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	if u.RefreshToken == nil {
		return "", nil
	}
	return *u.RefreshToken, nil
}

func (m *memoryDirectory) ClearRefreshToken(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	m.writes++
	u.RefreshToken = nil
	return nil
}

func (m *memoryDirectory) RotateRefreshToken(ctx context.Context, userID, expected, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.RefreshToken == nil || *u.RefreshToken != expected {
		return appErrors.ErrRefreshTokenMismatch
	}
	m.writes++
	u.RefreshToken = &next
	return nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (a *memoryAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

func newTestAuthService(t *testing.T, dir *memoryDirectory, cfg AuthConfig) (*AuthService, *memoryAudit) {
	t.Helper()
	audits := &memoryAudit{}
	svc := NewAuthService(dir, dir, audits, newTestIssuer(t), plainHasher{}, validator.New(), zap.NewNop(), NewMetricsService(), cfg)
	return svc, audits
}

func registerAndLogin(t *testing.T, svc *AuthService) *models.LoginResponse {
	t.Helper()
	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "alice", Email: "a@x.com", Password: "pw123", FullName: "Alice"}, models.RequestMeta{})
	require.NoError(t, err)
	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "pw123"})
	require.NoError(t, err)
	return res
}

func TestAuthServiceRegisterReturnsSanitisedProjection(t *testing.T) {
	dir := newMemoryDirectory()
	svc, audits := newTestAuthService(t, dir, AuthConfig{})

	profile, err := svc.Register(context.Background(), models.RegisterRequest{Username: "  Alice ", Email: "A@X.com", Password: "pw123", FullName: " Alice "}, models.RequestMeta{IP: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "a@x.com", profile.Email)
	assert.Equal(t, "Alice", profile.FullName)

	raw, err := json.Marshal(profile)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, forbidden := range []string{"password", "passwordHash", "password_hash", "refreshToken", "refresh_token"} {
		assert.NotContains(t, fields, forbidden)
	}
	assert.NotContains(t, string(raw), "hashed:pw123")

	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionRegister, audits.logs[0].Action)
}

func TestAuthServiceRegisterValidation(t *testing.T) {
	svc, _ := newTestAuthService(t, newMemoryDirectory(), AuthConfig{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "alice", Email: "a@x.com", Password: "   ", FullName: "Alice"}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Username: "alice", Email: "not-an-email", Password: "pw", FullName: "Alice"}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceRegisterConflict(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	registerAndLogin(t, svc)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "bob", Email: "a@x.com", Password: "pw", FullName: "Bob"}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	dir.createErr = appErrors.ErrDuplicate
	_, err = svc.Register(context.Background(), models.RegisterRequest{Username: "carol", Email: "c@x.com", Password: "pw", FullName: "Carol"}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestAuthServiceLoginStoresSingleRefreshToken(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	first := registerAndLogin(t, svc)

	second, err := svc.Login(context.Background(), models.LoginRequest{Email: "a@x.com", Password: "pw123"})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	stored, err := dir.GetRefreshToken(context.Background(), second.User.ID)
	require.NoError(t, err)
	assert.Equal(t, second.RefreshToken, stored)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	registerAndLogin(t, svc)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "nobody", Password: "pw123"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Login(context.Background(), models.LoginRequest{Password: "pw123"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceLoginConcealsUnknownAccount(t *testing.T) {
	svc, _ := newTestAuthService(t, newMemoryDirectory(), AuthConfig{ConcealUnknownAccount: true})

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "nobody", Password: "pw123"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	assert.Equal(t, "invalid user credentials", appErrors.FromError(err).Message)
}

func TestAuthServiceRefreshIsSingleUse(t *testing.T) {
	dir := newMemoryDirectory()
	svc, audits := newTestAuthService(t, dir, AuthConfig{})
	login := registerAndLogin(t, svc)

	pair, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)
	assert.NotEmpty(t, pair.AccessToken)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)

	stored, err := dir.GetRefreshToken(context.Background(), login.User.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, stored)
	assert.Equal(t, models.AuditActionRefresh, audits.logs[len(audits.logs)-1].Action)
}

func TestAuthServiceRefreshRejections(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	login := registerAndLogin(t, svc)

	_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: "  "})
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.AccessToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)

	dir.delete(login.User.ID)
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestAuthServiceRefreshLookupFailureKeepsSession(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	login := registerAndLogin(t, svc)

	dir.findByIDErr = errors.New("connection reset")
	_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInternal)

	dir.findByIDErr = nil
	stored, err := dir.GetRefreshToken(context.Background(), login.User.ID)
	require.NoError(t, err)
	assert.Equal(t, login.RefreshToken, stored)
}

func TestAuthServiceConcurrentRefreshHasOneWinner(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	login := registerAndLogin(t, svc)

	const callers = 2
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
	}
	assert.Equal(t, 1, wins)
}

func TestAuthServiceLogoutThenRefreshFails(t *testing.T) {
	dir := newMemoryDirectory()
	svc, audits := newTestAuthService(t, dir, AuthConfig{})
	login := registerAndLogin(t, svc)

	require.NoError(t, svc.Logout(context.Background(), login.User.ID, models.RequestMeta{}))
	require.NoError(t, svc.Logout(context.Background(), login.User.ID, models.RequestMeta{}))

	stored, err := dir.GetRefreshToken(context.Background(), login.User.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
	assert.Equal(t, models.AuditActionLogout, audits.logs[len(audits.logs)-1].Action)
}

func TestAuthServiceLogoutOfDeletedUserSucceeds(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	login := registerAndLogin(t, svc)

	dir.delete(login.User.ID)
	assert.NoError(t, svc.Logout(context.Background(), login.User.ID, models.RequestMeta{}))
}

func TestAuthServiceChangePassword(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	login := registerAndLogin(t, svc)
	id := login.User.ID

	err := svc.ChangePassword(context.Background(), id, models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "newpass"}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	err = svc.ChangePassword(context.Background(), id, models.ChangePasswordRequest{OldPassword: "pw123", NewPassword: "x"}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	require.NoError(t, svc.ChangePassword(context.Background(), id, models.ChangePasswordRequest{OldPassword: "pw123", NewPassword: "newpass"}, models.RequestMeta{}))

	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "pw123"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "newpass"})
	assert.NoError(t, err)

	user, err := dir.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.FullName)
}

func TestAuthServicePasswordByteLimit(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	multibyte := strings.Repeat("é", 40)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "bob", Email: "b@x.com", Password: multibyte, FullName: "Bob"}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 0, dir.writes)

	login := registerAndLogin(t, svc)
	err = svc.ChangePassword(context.Background(), login.User.ID, models.ChangePasswordRequest{OldPassword: "pw123", NewPassword: multibyte}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "pw123"})
	assert.NoError(t, err)
}

func TestAuthServiceVerifyAccess(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	login := registerAndLogin(t, svc)

	dir.findByIDs, dir.writes = 0, 0
	user, err := svc.VerifyAccess(context.Background(), login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, user.ID)
	assert.Equal(t, 1, dir.findByIDs)
	assert.Equal(t, 0, dir.writes)

	_, err = svc.VerifyAccess(context.Background(), "")
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)

	_, err = svc.VerifyAccess(context.Background(), login.RefreshToken)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)

	dir.delete(login.User.ID)
	_, err = svc.VerifyAccess(context.Background(), login.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
	assert.Equal(t, appErrors.ErrInvalidToken.Message, appErrors.FromError(err).Message)
}

func TestAuthServiceAuditFailureDoesNotFailLogin(t *testing.T) {
	dir := newMemoryDirectory()
	svc, audits := newTestAuthService(t, dir, AuthConfig{})
	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "alice", Email: "a@x.com", Password: "pw123", FullName: "Alice"}, models.RequestMeta{})
	require.NoError(t, err)

	audits.err = errors.New("audit down")
	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "pw123"})
	assert.NoError(t, err)
}

func TestAuthServiceSessionScenario(t *testing.T) {
	dir := newMemoryDirectory()
	svc, _ := newTestAuthService(t, dir, AuthConfig{})
	ctx := context.Background()

	profile, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Email: "a@x.com", Password: "pw123", FullName: "Alice"}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)

	login, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "pw123"})
	require.NoError(t, err)
	stored, _ := dir.GetRefreshToken(ctx, profile.ID)
	assert.Equal(t, login.RefreshToken, stored)

	rotated, err := svc.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)

	require.NoError(t, svc.Logout(ctx, profile.ID, models.RequestMeta{}))
	stored, _ = dir.GetRefreshToken(ctx, profile.ID)
	assert.Empty(t, stored)

	_, err = svc.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: rotated.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
	assert.Equal(t, 401, appErrors.FromError(err).Status)
}
