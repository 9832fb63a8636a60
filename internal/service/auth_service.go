package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/videotube-api/internal/models"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
	"github.com/noah-isme/videotube-api/pkg/security"
)

type authUserRepository interface {
	FindByHandleOrContact(ctx context.Context, username, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User, password string) error
	UpdatePassword(ctx context.Context, id, password string) error
}

// SessionStore holds the single current refresh token per identity.
type SessionStore interface {
	SetRefreshToken(ctx context.Context, userID, token string) error
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	ClearRefreshToken(ctx context.Context, userID string) error
	RotateRefreshToken(ctx context.Context, userID, expected, next string) error
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	// ConcealUnknownAccount reports unknown accounts as bad credentials on login.
	ConcealUnknownAccount bool
}

// AuthService provides the session lifecycle use cases.
type AuthService struct {
	users     authUserRepository
	sessions  SessionStore
	audits    auditRecorder
	tokens    *TokenIssuer
	hasher    security.PasswordHasher
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance. audits and metrics may be nil.
func NewAuthService(
	users authUserRepository,
	sessions SessionStore,
	audits auditRecorder,
	tokens *TokenIssuer,
	hasher security.PasswordHasher,
	validate *validator.Validate,
	logger *zap.Logger,
	metrics *MetricsService,
	config AuthConfig,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		audits:    audits,
		tokens:    tokens,
		hasher:    hasher,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// Register creates a new identity and returns its sanitised projection.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, meta models.RequestMeta) (profile *models.UserProfile, err error) {
	defer func() { s.record("register", err) }()

	req.Normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "all fields are required")
	}
	if err := security.CheckLength(req.Password); err != nil {
		return nil, passwordTooLong(err)
	}

	if _, err := s.users.FindByHandleOrContact(ctx, req.Username, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "user with email or username already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check existing user")
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
	}
	if err := s.users.Create(ctx, user, req.Password); err != nil {
		if errors.Is(err, appErrors.ErrDuplicate) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "user with email or username already exists")
		}
		if errors.Is(err, security.ErrPasswordTooLong) {
			return nil, passwordTooLong(err)
		}
		return nil, appErrors.Internal(err, "failed to register user")
	}

	s.audit(ctx, user.ID, models.AuditActionRegister, meta, `{"status":"registered"}`)
	return user.Profile(), nil
}

// Login authenticates by username or email and starts a new session,
// replacing any refresh token stored before.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (resp *models.LoginResponse, err error) {
	defer func() { s.record("login", err) }()

	req.Normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "username or email and password are required")
	}

	user, err := s.users.FindByHandleOrContact(ctx, req.Username, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.unknownAccount()
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	if !s.hasher.Verify(user.PasswordHash, req.Password) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid user credentials")
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to generate tokens")
	}

	if err := s.sessions.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.unknownAccount()
		}
		return nil, appErrors.Internal(err, "failed to persist session")
	}

	s.audit(ctx, user.ID, models.AuditActionLogin, models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}, `{"status":"success"}`)
	return &models.LoginResponse{User: user.Profile(), TokenPair: *pair}, nil
}

// Refresh rotates the session: the presented refresh token is exchanged for a
// new pair and becomes unusable. A failed rotation leaves the stored token as it was.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (pair *models.TokenPair, err error) {
	defer func() { s.record("refresh", err) }()

	incoming := strings.TrimSpace(req.RefreshToken)
	if incoming == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}

	claims, err := s.tokens.ParseRefreshToken(incoming)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invalidToken(err)
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}

	pair, err = s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to generate tokens")
	}

	if err := s.sessions.RotateRefreshToken(ctx, user.ID, incoming, pair.RefreshToken); err != nil {
		if errors.Is(err, appErrors.ErrRefreshTokenMismatch) {
			return nil, invalidToken(err)
		}
		return nil, appErrors.Internal(err, "failed to rotate session")
	}

	s.audit(ctx, user.ID, models.AuditActionRefresh, models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}, `{"refresh":"rotated"}`)
	return pair, nil
}

// Logout clears the stored refresh token. Logging out twice succeeds.
func (s *AuthService) Logout(ctx context.Context, userID string, meta models.RequestMeta) (err error) {
	defer func() { s.record("logout", err) }()

	if userID == "" {
		return appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}
	if err := s.sessions.ClearRefreshToken(ctx, userID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err, "failed to clear session")
	}

	s.audit(ctx, userID, models.AuditActionLogout, meta, `{"status":"logout"}`)
	return nil
}

// ChangePassword replaces the password after checking the old one. Other
// profile fields and the current session are left alone.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest, meta models.RequestMeta) (err error) {
	defer func() { s.record("change_password", err) }()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}
	if err := security.CheckLength(req.NewPassword); err != nil {
		return passwordTooLong(err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to load user")
	}

	if !s.hasher.Verify(user.PasswordHash, req.OldPassword) {
		return appErrors.Clone(appErrors.ErrUnauthorized, "invalid old password")
	}

	if err := s.users.UpdatePassword(ctx, userID, req.NewPassword); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		if errors.Is(err, security.ErrPasswordTooLong) {
			return passwordTooLong(err)
		}
		return appErrors.Internal(err, "failed to update password")
	}

	s.audit(ctx, userID, models.AuditActionPasswordChange, meta, `{"status":"changed"}`)
	return nil
}

// VerifyAccess validates an access token and resolves its identity with a
// single read. Every rejection other than a missing token is INVALID_TOKEN.
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}

	claims, err := s.tokens.ParseAccessToken(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invalidToken(err)
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

func (s *AuthService) unknownAccount() error {
	if s.config.ConcealUnknownAccount {
		return appErrors.Clone(appErrors.ErrUnauthorized, "invalid user credentials")
	}
	return appErrors.Clone(appErrors.ErrNotFound, "user does not exist")
}

func passwordTooLong(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "password must be at most 72 bytes")
}

func (s *AuthService) audit(ctx context.Context, userID, action string, meta models.RequestMeta, values string) {
	if s.audits == nil {
		return
	}
	id := userID
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &id,
		Action:     action,
		Resource:   "user",
		ResourceID: &id,
		NewValues:  []byte(values),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) record(event string, err error) {
	s.metrics.RecordAuthEvent(event, outcomeOf(err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case appErrors.FromError(err).Status >= 500:
		return OutcomeError
	default:
		return OutcomeRejected
	}
}
