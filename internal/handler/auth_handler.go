package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/videotube-api/internal/middleware"
	"github.com/noah-isme/videotube-api/internal/models"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
	"github.com/noah-isme/videotube-api/pkg/response"
)

type authService interface {
	Register(ctx context.Context, req models.RegisterRequest, meta models.RequestMeta) (*models.UserProfile, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error)
	Logout(ctx context.Context, userID string, meta models.RequestMeta) error
	ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest, meta models.RequestMeta) error
}

// AuthHandler wires HTTP endpoints to the session lifecycle.
type AuthHandler struct {
	service authService
	cookies CookieSettings
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, cookies CookieSettings) *AuthHandler {
	return &AuthHandler{service: svc, cookies: cookies}
}

// Register godoc
// @Summary Register user
// @Description Create an account from username, email, password and full name
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := bindJSON(c, &req, "invalid registration payload"); err != nil {
		response.Error(c, err)
		return
	}

	profile, err := h.service.Register(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, profile, "User registered successfully")
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by username or email; tokens are set as cookies and returned in the body
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := bindJSON(c, &req, "invalid login payload"); err != nil {
		response.Error(c, err)
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.setTokens(c, res.TokenPair)
	response.OK(c, res, "User logged in successfully")
}

// Refresh godoc
// @Summary Refresh tokens
// @Description Rotate the refresh token from the refreshToken cookie or body
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest false "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/refresh-token [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshTokenRequest
	if cookie, err := c.Cookie(middleware.RefreshTokenCookie); err == nil && cookie != "" {
		req.RefreshToken = cookie
	} else if hasBody(c) {
		if err := bindJSON(c, &req, "invalid refresh payload"); err != nil {
			response.Error(c, err)
			return
		}
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	pair, err := h.service.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.setTokens(c, *pair)
	response.OK(c, pair, "Access token refreshed")
}

// Logout godoc
// @Summary Logout
// @Description Clear the stored refresh token and both token cookies
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.service.Logout(c.Request.Context(), currentUserID(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.clearTokens(c)
	response.OK(c, gin.H{}, "User logged out")
}

// ChangePassword godoc
// @Summary Change password
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.ChangePasswordRequest true "Change password payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req models.ChangePasswordRequest
	if err := bindJSON(c, &req, "invalid change password payload"); err != nil {
		response.Error(c, err)
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), currentUserID(c), req, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{}, "Password changed successfully")
}

// CurrentUser godoc
// @Summary Current user
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/current-user [get]
func (h *AuthHandler) CurrentUser(c *gin.Context) {
	profile := currentProfile(c)
	if profile == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthenticated, ""))
		return
	}
	response.JSON(c, http.StatusOK, profile, "User fetched successfully")
}
