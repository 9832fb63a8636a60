package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Session store backends.
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Media storage drivers.
const (
	MediaDriverLocal = "local"
	MediaDriverS3    = "s3"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Cookie   CookieConfig
	Session  SessionConfig
	CORS     CORSConfig
	Log      LogConfig
	HTTP     HTTPConfig
	Upload   UploadConfig
	Media    MediaConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the signing material for both token kinds. Keys are loaded once and never mutated.
type JWTConfig struct {
	AccessSecret  string
	AccessExpiry  time.Duration
	RefreshSecret string
	RefreshExpiry time.Duration
	Issuer        string
}

// CookieConfig controls how token cookies are written.
type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite string
}

// SessionConfig selects the refresh token store and login disclosure policy.
type SessionConfig struct {
	Store                 string
	ConcealUnknownAccount bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// HTTPConfig tunes request handling.
type HTTPConfig struct {
	BodyLimitBytes int64
	PublicDir      string
}

// UploadConfig configures multipart staging before media upload.
type UploadConfig struct {
	TempDir          string
	MaxFileSizeBytes int64
}

// MediaConfig selects and configures the media storage driver.
type MediaConfig struct {
	Driver        string
	LocalDir      string
	PublicBaseURL string
	S3Region      string
	S3Bucket      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3PathStyle   bool

	// Background deletion of replaced images.
	CleanupWorkers  int
	CleanupAttempts int
	CleanupBackoff  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	accessExpiry, err := parseDuration("ACCESS_TOKEN_EXPIRY", v.GetString("ACCESS_TOKEN_EXPIRY"))
	if err != nil {
		return nil, err
	}
	refreshExpiry, err := parseDuration("REFRESH_TOKEN_EXPIRY", v.GetString("REFRESH_TOKEN_EXPIRY"))
	if err != nil {
		return nil, err
	}
	cfg.JWT = JWTConfig{
		AccessSecret:  v.GetString("ACCESS_TOKEN_SECRET"),
		AccessExpiry:  accessExpiry,
		RefreshSecret: v.GetString("REFRESH_TOKEN_SECRET"),
		RefreshExpiry: refreshExpiry,
		Issuer:        v.GetString("JWT_ISSUER"),
	}

	cfg.Cookie = CookieConfig{
		Secure:   v.GetBool("COOKIE_SECURE"),
		Domain:   v.GetString("COOKIE_DOMAIN"),
		SameSite: strings.ToLower(v.GetString("COOKIE_SAME_SITE")),
	}

	cfg.Session = SessionConfig{
		Store:                 strings.ToLower(v.GetString("SESSION_STORE")),
		ConcealUnknownAccount: v.GetBool("AUTH_CONCEAL_UNKNOWN_ACCOUNT"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:      v.GetString("LOG_LEVEL"),
		Format:     v.GetString("LOG_FORMAT"),
		File:       v.GetString("LOG_FILE"),
		MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
		MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
	}

	cfg.HTTP = HTTPConfig{
		BodyLimitBytes: v.GetInt64("HTTP_BODY_LIMIT"),
		PublicDir:      v.GetString("PUBLIC_DIR"),
	}

	maxUpload := v.GetInt64("UPLOAD_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Upload = UploadConfig{
		TempDir:          v.GetString("UPLOAD_TEMP_DIR"),
		MaxFileSizeBytes: maxUpload,
	}

	cleanupBackoff, err := parseDuration("MEDIA_CLEANUP_BACKOFF", v.GetString("MEDIA_CLEANUP_BACKOFF"))
	if err != nil {
		return nil, err
	}
	cfg.Media = MediaConfig{
		Driver:        strings.ToLower(v.GetString("MEDIA_DRIVER")),
		LocalDir:      v.GetString("MEDIA_LOCAL_DIR"),
		PublicBaseURL: strings.TrimRight(v.GetString("MEDIA_PUBLIC_BASE_URL"), "/"),
		S3Region:      v.GetString("S3_REGION"),
		S3Bucket:      v.GetString("S3_BUCKET"),
		S3Endpoint:    v.GetString("S3_ENDPOINT"),
		S3AccessKey:   v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:   v.GetString("S3_SECRET_KEY"),
		S3PathStyle:   v.GetBool("S3_USE_PATH_STYLE"),

		CleanupWorkers:  v.GetInt("MEDIA_CLEANUP_WORKERS"),
		CleanupAttempts: v.GetInt("MEDIA_CLEANUP_ATTEMPTS"),
		CleanupBackoff:  cleanupBackoff,
	}

	return cfg, nil
}

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" {
		return errors.New("ACCESS_TOKEN_SECRET is required")
	}
	if c.JWT.RefreshSecret == "" {
		return errors.New("REFRESH_TOKEN_SECRET is required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.JWT.AccessExpiry <= 0 || c.JWT.RefreshExpiry <= 0 {
		return errors.New("token expiry must be positive")
	}
	if c.JWT.AccessExpiry >= c.JWT.RefreshExpiry {
		return errors.New("ACCESS_TOKEN_EXPIRY must be shorter than REFRESH_TOKEN_EXPIRY")
	}

	switch c.Session.Store {
	case SessionStorePostgres, SessionStoreRedis:
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.Session.Store)
	}

	switch c.Media.Driver {
	case MediaDriverLocal:
	case MediaDriverS3:
		if c.Media.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when MEDIA_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unsupported MEDIA_DRIVER %q", c.Media.Driver)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8000)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "videotube")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ACCESS_TOKEN_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_EXPIRY", "1d")
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("REFRESH_TOKEN_EXPIRY", "10d")
	v.SetDefault("JWT_ISSUER", "videotube-api")

	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_SAME_SITE", "lax")

	v.SetDefault("SESSION_STORE", SessionStorePostgres)
	v.SetDefault("AUTH_CONCEAL_UNKNOWN_ACCOUNT", true)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 3)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)

	v.SetDefault("HTTP_BODY_LIMIT", 16*1024)
	v.SetDefault("PUBLIC_DIR", "./public")

	v.SetDefault("UPLOAD_TEMP_DIR", "./public/temp")
	v.SetDefault("UPLOAD_MAX_FILE_SIZE", 5*1024*1024)

	v.SetDefault("MEDIA_DRIVER", MediaDriverLocal)
	v.SetDefault("MEDIA_LOCAL_DIR", "./public/media")
	v.SetDefault("MEDIA_PUBLIC_BASE_URL", "http://localhost:8000/media")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_USE_PATH_STYLE", true)
	v.SetDefault("MEDIA_CLEANUP_WORKERS", 2)
	v.SetDefault("MEDIA_CLEANUP_ATTEMPTS", 3)
	v.SetDefault("MEDIA_CLEANUP_BACKOFF", "2s")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// parseDuration reads a Go duration with an optional leading day count, such
// as "10d", "1d12h" or "15m". Anything else is an error naming key.
func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", key)
	}

	var days time.Duration
	if i := strings.IndexByte(raw, 'd'); i >= 0 {
		n, err := strconv.Atoi(raw[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: bad day count", key, raw)
		}
		days = time.Duration(n) * 24 * time.Hour
		raw = raw[i+1:]
		if raw == "" {
			return days, nil
		}
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return days + d, nil
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
