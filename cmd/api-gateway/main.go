package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/videotube-api/internal/handler"
	"github.com/noah-isme/videotube-api/internal/middleware"
	"github.com/noah-isme/videotube-api/internal/repository"
	"github.com/noah-isme/videotube-api/internal/router"
	"github.com/noah-isme/videotube-api/internal/service"
	"github.com/noah-isme/videotube-api/pkg/cache"
	"github.com/noah-isme/videotube-api/pkg/config"
	"github.com/noah-isme/videotube-api/pkg/database"
	"github.com/noah-isme/videotube-api/pkg/jobs"
	"github.com/noah-isme/videotube-api/pkg/logger"
	"github.com/noah-isme/videotube-api/pkg/media"
	"github.com/noah-isme/videotube-api/pkg/security"
	"github.com/noah-isme/videotube-api/pkg/storage"
)

// @title VideoTube API
// @version 1.0.0
// @description Account and session service
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const stagedUploadTTL = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	deps := map[string]handler.Pinger{"postgres": db}

	hasher := security.NewBcryptHasher(0)
	users := repository.NewUserRepository(db, hasher)
	audits := repository.NewAuditRepository(db)

	var sessions service.SessionStore
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer client.Close() //nolint:errcheck
		sessions = repository.NewRedisSessionRepository(client, "session:refresh", cfg.JWT.RefreshExpiry)
		deps["redis"] = cache.Checker{Client: client}
	default:
		sessions = repository.NewSessionRepository(db)
	}

	tokens, err := service.NewTokenIssuer(cfg.JWT)
	if err != nil {
		logr.Fatal("failed to init token issuer", zap.Error(err))
	}

	mediaStore, err := media.New(ctx, cfg.Media)
	if err != nil {
		logr.Fatal("failed to init media storage", zap.Error(err))
	}

	staging, err := storage.NewLocalStorage(cfg.Upload.TempDir)
	if err != nil {
		logr.Fatal("failed to init upload staging", zap.Error(err))
	}
	if removed, err := staging.CleanupOlderThan(stagedUploadTTL); err != nil {
		logr.Warn("failed to clean staged uploads", zap.Error(err))
	} else if len(removed) > 0 {
		logr.Info("removed stale staged uploads", zap.Int("count", len(removed)))
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	authSvc := service.NewAuthService(users, sessions, audits, tokens, hasher, validate, logr, metrics, service.AuthConfig{
		ConcealUnknownAccount: cfg.Session.ConcealUnknownAccount,
	})
	janitor := service.NewMediaJanitor(mediaStore, jobs.Config{
		Workers:     cfg.Media.CleanupWorkers,
		MaxAttempts: cfg.Media.CleanupAttempts,
		Backoff:     cfg.Media.CleanupBackoff,
		Logger:      logr,
	})
	janitor.Start(context.WithoutCancel(ctx))
	userSvc := service.NewUserService(users, sessions, mediaStore, audits, validate, logr, metrics).WithJanitor(janitor)

	cookies := handler.NewCookieSettings(cfg.Cookie, cfg.JWT)
	opts := router.Options{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		BodyLimit:      cfg.HTTP.BodyLimitBytes,
		UploadLimit:    cfg.Upload.MaxFileSizeBytes + cfg.HTTP.BodyLimitBytes,
		PublicDir:      cfg.HTTP.PublicDir,
		EnableDocs:     cfg.Env != config.EnvProduction,
	}
	if cfg.Media.Driver == config.MediaDriverLocal {
		opts.MediaDir = cfg.Media.LocalDir
	}

	engine := router.New(opts, router.Handlers{
		Auth:    handler.NewAuthHandler(authSvc, cookies),
		Users:   handler.NewUserHandler(userSvc, staging, cfg.Upload.MaxFileSizeBytes, cookies, logr),
		Metrics: handler.NewMetricsHandler(metrics, deps),
	}, middleware.JWT(authSvc), logr, metrics)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "session_store", cfg.Session.Store, "media_driver", cfg.Media.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := janitor.Close(shutdownCtx); err != nil {
		logr.Warn("media cleanup did not drain", zap.Error(err))
	}
}
