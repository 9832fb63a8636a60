// Package media stores user-facing images behind a public URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/videotube-api/pkg/config"
)

// ErrNotFound is returned by Delete when the URL does not reference a stored object.
var ErrNotFound = errors.New("media object not found")

// Storage uploads staged files and deletes them by public URL.
type Storage interface {
	// Upload moves the staged file at localPath to storage and returns its public URL.
	// The staged file is removed whether or not the upload succeeds.
	Upload(ctx context.Context, localPath string) (string, error)
	Delete(ctx context.Context, url string) error
}

// objectKey builds a date-partitioned key keeping the staged file's extension.
func objectKey(localPath string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	return fmt.Sprintf("images/%d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), uuid.NewString(), ext)
}

// keyFromURL strips the public base from url. It returns "" when url is not under base.
func keyFromURL(base, url string) string {
	base = strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(url, base) {
		return ""
	}
	key := strings.TrimPrefix(url, base)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key
}

func removeStaged(localPath string) {
	_ = os.Remove(localPath)
}

// New builds the driver selected by cfg.Driver.
func New(ctx context.Context, cfg config.MediaConfig) (Storage, error) {
	switch cfg.Driver {
	case config.MediaDriverS3:
		return NewS3Storage(ctx, cfg)
	case config.MediaDriverLocal, "":
		return NewLocalStorage(cfg.LocalDir, strings.TrimRight(cfg.PublicBaseURL, "/"))
	default:
		return nil, fmt.Errorf("unknown media driver %q", cfg.Driver)
	}
}
