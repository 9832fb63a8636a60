package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/videotube-api/internal/middleware"
	"github.com/noah-isme/videotube-api/internal/models"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
	"github.com/noah-isme/videotube-api/pkg/storage"
)

type stubUserService struct {
	stagedPath    string
	stagedContent string
	kind          string
	deleted       string
	updateErr     error
}

func (s *stubUserService) UpdateAccount(ctx context.Context, id string, req models.UpdateAccountRequest, meta models.RequestMeta) (*models.UserProfile, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &models.UserProfile{ID: id, FullName: req.FullName, Email: req.Email}, nil
}

func (s *stubUserService) capture(kind, path string) {
	s.kind = kind
	s.stagedPath = path
	data, _ := os.ReadFile(path)
	s.stagedContent = string(data)
}

func (s *stubUserService) UpdateAvatar(ctx context.Context, id, localPath string, meta models.RequestMeta) (*models.UserProfile, error) {
	s.capture("avatar", localPath)
	return &models.UserProfile{ID: id, Avatar: "http://media/a.png"}, nil
}

func (s *stubUserService) UpdateCoverImage(ctx context.Context, id, localPath string, meta models.RequestMeta) (*models.UserProfile, error) {
	s.capture("cover", localPath)
	return &models.UserProfile{ID: id, CoverImage: "http://media/c.png"}, nil
}

func (s *stubUserService) DeleteAccount(ctx context.Context, id string, meta models.RequestMeta) error {
	s.deleted = id
	return nil
}

func newUserRouter(t *testing.T, svc *stubUserService, maxSize int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	staging, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	h := NewUserHandler(svc, staging, maxSize, testCookies(), zap.NewNop())
	r := gin.New()
	r.Use(asUser("u1"))
	r.PATCH("/users/update-account", h.UpdateAccount)
	r.PATCH("/users/avatar", h.UpdateAvatar)
	r.PATCH("/users/cover-image", h.UpdateCoverImage)
	r.DELETE("/users/me", h.DeleteAccount)
	return r
}

func multipartRequest(t *testing.T, path, field, contentType, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="pic.PNG"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPatch, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpdateAvatarStagesAndCleansUp(t *testing.T) {
	svc := &stubUserService{}
	r := newUserRouter(t, svc, 1024)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/users/avatar", "avatar", "image/png", "png-bytes"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "avatar", svc.kind)
	assert.Equal(t, "png-bytes", svc.stagedContent)
	assert.Contains(t, svc.stagedPath, ".png")
	_, err := os.Stat(svc.stagedPath)
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, rec.Body.String(), "http://media/a.png")
}

func TestUpdateCoverImageUsesCoverField(t *testing.T) {
	svc := &stubUserService{}
	r := newUserRouter(t, svc, 1024)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/users/cover-image", "avatar", "image/png", "png"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/users/cover-image", "coverImage", "image/png", "png"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cover", svc.kind)
}

func TestUpdateAvatarRejectsBadUploads(t *testing.T) {
	svc := &stubUserService{}
	r := newUserRouter(t, svc, 4)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/users/avatar", "avatar", "image/png", "too-large"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/users/avatar", "avatar", "text/plain", "hi"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.kind)
}

func TestUpdateAccount(t *testing.T) {
	svc := &stubUserService{}
	r := newUserRouter(t, svc, 0)

	rec := doJSON(r, http.MethodPatch, "/users/update-account", `{"fullName":"Alice L","email":"al@x.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fullName":"Alice L"`)

	svc.updateErr = appErrors.Clone(appErrors.ErrConflict, "email already in use")
	rec = doJSON(r, http.MethodPatch, "/users/update-account", `{"fullName":"Alice L","email":"b@x.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteAccountClearsCookies(t *testing.T) {
	svc := &stubUserService{}
	r := newUserRouter(t, svc, 0)

	rec := doJSON(r, http.MethodDelete, "/users/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", svc.deleted)
	cookie := cookieByName(rec, middleware.AccessTokenCookie)
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)
}
