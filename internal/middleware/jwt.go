package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/videotube-api/internal/models"
	"github.com/noah-isme/videotube-api/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing the authenticated user's profile.
	ContextUserKey = "currentUser"
	// ContextUserIDKey stores the authenticated user's id.
	ContextUserIDKey = "currentUserID"

	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type accessVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*models.User, error)
}

// JWT protects routes by requiring a valid access token, read from the
// access cookie first and the bearer header second.
func JWT(verifier accessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.VerifyAccess(c.Request.Context(), AccessToken(c))
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Set(ContextUserKey, user.Profile())
		c.Set(ContextUserIDKey, user.ID)
		c.Next()
	}
}

// AccessToken extracts the access token from the request, or "" when absent.
func AccessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie)
	}

	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
