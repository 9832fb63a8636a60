// Package router assembles the gin engine: ambient middleware, ops routes and
// the user API.
package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/videotube-api/api/swagger"
	"github.com/noah-isme/videotube-api/internal/handler"
	"github.com/noah-isme/videotube-api/internal/middleware"
	"github.com/noah-isme/videotube-api/internal/service"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
	"github.com/noah-isme/videotube-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/videotube-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/videotube-api/pkg/middleware/requestid"
	"github.com/noah-isme/videotube-api/pkg/response"
)

// Options tunes the engine.
type Options struct {
	APIPrefix      string
	AllowedOrigins []string
	BodyLimit      int64
	UploadLimit    int64
	// MediaDir is served under /media when non-empty.
	MediaDir string
	// PublicDir is served under /static when non-empty.
	PublicDir  string
	EnableDocs bool
}

// Handlers groups the HTTP handlers mounted by New.
type Handlers struct {
	Auth    *handler.AuthHandler
	Users   *handler.UserHandler
	Metrics *handler.MetricsHandler
}

// New returns the configured engine. gate guards every authenticated route.
func New(opts Options, h Handlers, gate gin.HandlerFunc, logr *zap.Logger, metrics *service.MetricsService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.BodyLimit(opts.BodyLimit, opts.UploadLimit))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if opts.MediaDir != "" {
		r.Static("/media", opts.MediaDir)
	}
	if opts.PublicDir != "" {
		r.StaticFS("/static", gin.Dir(opts.PublicDir, false))
	}
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	users := r.Group(opts.APIPrefix + "/users")
	users.POST("/register", h.Auth.Register)
	users.POST("/login", h.Auth.Login)
	users.POST("/refresh-token", h.Auth.Refresh)

	secured := users.Group("", gate)
	secured.POST("/logout", h.Auth.Logout)
	secured.POST("/change-password", h.Auth.ChangePassword)
	secured.GET("/current-user", h.Auth.CurrentUser)
	secured.PATCH("/update-account", h.Users.UpdateAccount)
	secured.PATCH("/avatar", h.Users.UpdateAvatar)
	secured.PATCH("/cover-image", h.Users.UpdateCoverImage)
	secured.DELETE("/me", h.Users.DeleteAccount)

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "route not found"))
	})

	return r
}
