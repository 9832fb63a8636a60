package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/videotube-api/internal/models"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
	"github.com/noah-isme/videotube-api/pkg/media"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateFields(ctx context.Context, id string, update models.UserUpdate) (*models.User, error)
	DeleteByID(ctx context.Context, id string) error
}

type sessionClearer interface {
	ClearRefreshToken(ctx context.Context, userID string) error
}

// Profile images a user can replace.
const (
	ImageAvatar = "avatar"
	ImageCover  = "coverImage"
)

// UserService manages the profile of the authenticated user.
type UserService struct {
	users     userRepository
	sessions  sessionClearer
	media     media.Storage
	janitor   *MediaJanitor
	audits    auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
}

// NewUserService creates a new instance of UserService.
func NewUserService(users userRepository, sessions sessionClearer, store media.Storage, audits auditRecorder, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		users:     users,
		sessions:  sessions,
		media:     store,
		audits:    audits,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
	}
}

// WithJanitor hands replaced images to j instead of deleting them inline.
func (s *UserService) WithJanitor(j *MediaJanitor) *UserService {
	s.janitor = j
	return s
}

// Current returns the profile of id.
func (s *UserService) Current(ctx context.Context, id string) (*models.UserProfile, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "failed to load user")
	}
	return user.Profile(), nil
}

// UpdateAccount changes the display name and email.
func (s *UserService) UpdateAccount(ctx context.Context, id string, req models.UpdateAccountRequest, meta models.RequestMeta) (*models.UserProfile, error) {
	req.Normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "full name and email are required")
	}

	user, err := s.users.UpdateFields(ctx, id, models.UserUpdate{FullName: &req.FullName, Email: &req.Email})
	if err != nil {
		if errors.Is(err, appErrors.ErrDuplicate) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "email already in use")
		}
		return nil, notFoundOrInternal(err, "failed to update account")
	}

	s.audit(ctx, id, models.AuditActionAccountUpdate, meta)
	return user.Profile(), nil
}

// UpdateAvatar replaces the avatar with the staged file at localPath.
func (s *UserService) UpdateAvatar(ctx context.Context, id, localPath string, meta models.RequestMeta) (*models.UserProfile, error) {
	return s.replaceImage(ctx, id, ImageAvatar, localPath, meta)
}

// UpdateCoverImage replaces the cover image with the staged file at localPath.
func (s *UserService) UpdateCoverImage(ctx context.Context, id, localPath string, meta models.RequestMeta) (*models.UserProfile, error) {
	return s.replaceImage(ctx, id, ImageCover, localPath, meta)
}

// DeleteAccount removes the identity, its session and its images.
func (s *UserService) DeleteAccount(ctx context.Context, id string, meta models.RequestMeta) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return notFoundOrInternal(err, "failed to load user")
	}

	if err := s.sessions.ClearRefreshToken(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err, "failed to clear session")
	}
	if err := s.users.DeleteByID(ctx, id); err != nil {
		return notFoundOrInternal(err, "failed to delete user")
	}

	s.discard(ctx, user.Avatar)
	s.discard(ctx, user.CoverImage)
	s.audit(ctx, id, models.AuditActionAccountDelete, meta)
	return nil
}

func (s *UserService) replaceImage(ctx context.Context, id, kind, localPath string, meta models.RequestMeta) (*models.UserProfile, error) {
	if localPath == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, kind+" file is missing")
	}

	current, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "failed to load user")
	}

	start := time.Now()
	url, err := s.media.Upload(ctx, localPath)
	if err != nil {
		s.metrics.ObserveMediaUpload(OutcomeError, time.Since(start))
		return nil, appErrors.Internal(err, "error while uploading "+kind)
	}
	s.metrics.ObserveMediaUpload(OutcomeSuccess, time.Since(start))

	update := models.UserUpdate{}
	previous := current.Avatar
	if kind == ImageCover {
		update.CoverImage = &url
		previous = current.CoverImage
	} else {
		update.Avatar = &url
	}

	user, err := s.users.UpdateFields(ctx, id, update)
	if err != nil {
		s.discard(ctx, url)
		return nil, notFoundOrInternal(err, "failed to update "+kind)
	}

	s.discard(ctx, previous)
	s.audit(ctx, id, models.AuditActionAccountUpdate, meta)
	return user.Profile(), nil
}

// discard deletes an image that is no longer referenced. Missing objects are fine.
func (s *UserService) discard(ctx context.Context, url string) {
	if url == "" {
		return
	}
	if s.janitor != nil && s.janitor.Discard(url) {
		return
	}
	if err := s.media.Delete(ctx, url); err != nil && !errors.Is(err, media.ErrNotFound) {
		s.logger.Warn("failed to delete media", zap.String("url", url), zap.Error(err))
	}
}

func (s *UserService) audit(ctx context.Context, userID, action string, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	id := userID
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &id,
		Action:     action,
		Resource:   "user",
		ResourceID: &id,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func notFoundOrInternal(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return appErrors.Internal(err, message)
}
