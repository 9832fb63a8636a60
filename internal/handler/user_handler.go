package handler

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/videotube-api/internal/models"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
	"github.com/noah-isme/videotube-api/pkg/response"
	"github.com/noah-isme/videotube-api/pkg/storage"
)

type userService interface {
	UpdateAccount(ctx context.Context, id string, req models.UpdateAccountRequest, meta models.RequestMeta) (*models.UserProfile, error)
	UpdateAvatar(ctx context.Context, id, localPath string, meta models.RequestMeta) (*models.UserProfile, error)
	UpdateCoverImage(ctx context.Context, id, localPath string, meta models.RequestMeta) (*models.UserProfile, error)
	DeleteAccount(ctx context.Context, id string, meta models.RequestMeta) error
}

// UserHandler serves profile maintenance for the authenticated user.
type UserHandler struct {
	service     userService
	staging     *storage.LocalStorage
	maxFileSize int64
	cookies     CookieSettings
	logger      *zap.Logger
}

// NewUserHandler creates a new handler. Uploads are staged in staging before
// being handed to the media driver.
func NewUserHandler(svc userService, staging *storage.LocalStorage, maxFileSize int64, cookies CookieSettings, logger *zap.Logger) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{service: svc, staging: staging, maxFileSize: maxFileSize, cookies: cookies, logger: logger}
}

// UpdateAccount godoc
// @Summary Update account details
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.UpdateAccountRequest true "Account payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/update-account [patch]
func (h *UserHandler) UpdateAccount(c *gin.Context) {
	var req models.UpdateAccountRequest
	if err := bindJSON(c, &req, "invalid account payload"); err != nil {
		response.Error(c, err)
		return
	}

	profile, err := h.service.UpdateAccount(c.Request.Context(), currentUserID(c), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile, "Account details updated successfully")
}

// UpdateAvatar godoc
// @Summary Replace avatar
// @Tags Users
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param avatar formData file true "Avatar image"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/avatar [patch]
func (h *UserHandler) UpdateAvatar(c *gin.Context) {
	h.replaceImage(c, "avatar", h.service.UpdateAvatar, "Avatar image updated successfully")
}

// UpdateCoverImage godoc
// @Summary Replace cover image
// @Tags Users
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param coverImage formData file true "Cover image"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/cover-image [patch]
func (h *UserHandler) UpdateCoverImage(c *gin.Context) {
	h.replaceImage(c, "coverImage", h.service.UpdateCoverImage, "Cover image updated successfully")
}

// DeleteAccount godoc
// @Summary Delete account
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/me [delete]
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	if err := h.service.DeleteAccount(c.Request.Context(), currentUserID(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	h.cookies.clearTokens(c)
	response.OK(c, gin.H{}, "Account deleted")
}

type imageUpdater func(ctx context.Context, id, localPath string, meta models.RequestMeta) (*models.UserProfile, error)

func (h *UserHandler) replaceImage(c *gin.Context, field string, update imageUpdater, message string) {
	header, err := c.FormFile(field)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, field+" file is missing"))
		return
	}
	if err := h.checkImage(header); err != nil {
		response.Error(c, err)
		return
	}

	name, path, err := h.stage(header)
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to stage upload"))
		return
	}
	defer func() {
		if err := h.staging.Delete(name); err != nil {
			h.logger.Warn("failed to remove staged upload", zap.String("file", name), zap.Error(err))
		}
	}()

	profile, err := update(c.Request.Context(), currentUserID(c), path, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile, message)
}

func (h *UserHandler) checkImage(header *multipart.FileHeader) error {
	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", h.maxFileSize))
	}
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		return appErrors.Clone(appErrors.ErrValidation, "only image uploads are accepted")
	}
	return nil
}

// stage copies the upload into the staging directory under a fresh name.
func (h *UserHandler) stage(header *multipart.FileHeader) (string, string, error) {
	src, err := header.Open()
	if err != nil {
		return "", "", err
	}
	defer src.Close() //nolint:errcheck

	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	path, err := h.staging.SaveStream(name, src)
	if err != nil {
		return "", "", err
	}
	return name, path, nil
}
