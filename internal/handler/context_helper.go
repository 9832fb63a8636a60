package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/noah-isme/videotube-api/internal/middleware"
	"github.com/noah-isme/videotube-api/internal/models"
	"github.com/noah-isme/videotube-api/pkg/config"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
)

func init() {
	// Payloads are explicit structs; unknown fields are a client error.
	binding.EnableDecoderDisallowUnknownFields = true
}

func currentUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}

func currentProfile(c *gin.Context) *models.UserProfile {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	profile, ok := value.(*models.UserProfile)
	if !ok {
		return nil
	}
	return profile
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// bindJSON decodes the body into dst, rejecting unknown fields and oversized bodies.
func bindJSON(c *gin.Context, dst interface{}, message string) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "request body too large")
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	return nil
}

// hasBody reports whether the request carries a body worth decoding.
func hasBody(c *gin.Context) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return false
	}
	return c.Request.ContentLength != 0
}

// CookieSettings controls the attributes of token cookies.
type CookieSettings struct {
	Secure        bool
	Domain        string
	SameSite      http.SameSite
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

// NewCookieSettings derives cookie attributes from configuration.
func NewCookieSettings(cookie config.CookieConfig, jwt config.JWTConfig) CookieSettings {
	return CookieSettings{
		Secure:        cookie.Secure,
		Domain:        cookie.Domain,
		SameSite:      parseSameSite(cookie.SameSite),
		AccessMaxAge:  jwt.AccessExpiry,
		RefreshMaxAge: jwt.RefreshExpiry,
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (s CookieSettings) setTokens(c *gin.Context, pair models.TokenPair) {
	c.SetSameSite(s.SameSite)
	c.SetCookie(middleware.AccessTokenCookie, pair.AccessToken, int(s.AccessMaxAge.Seconds()), "/", s.Domain, s.Secure, true)
	c.SetCookie(middleware.RefreshTokenCookie, pair.RefreshToken, int(s.RefreshMaxAge.Seconds()), "/", s.Domain, s.Secure, true)
}

func (s CookieSettings) clearTokens(c *gin.Context) {
	c.SetSameSite(s.SameSite)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", s.Domain, s.Secure, true)
	c.SetCookie(middleware.RefreshTokenCookie, "", -1, "/", s.Domain, s.Secure, true)
}
