package media

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/noah-isme/videotube-api/pkg/storage"
)

// LocalStorage keeps media on disk and serves it from a static route.
type LocalStorage struct {
	files   *storage.LocalStorage
	baseURL string
	now     func() time.Time
}

// NewLocalStorage returns a driver writing below dir and publishing under baseURL.
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	files, err := storage.NewLocalStorage(dir)
	if err != nil {
		return nil, err
	}
	return &LocalStorage{files: files, baseURL: baseURL, now: time.Now}, nil
}

// Upload implements Storage.
func (s *LocalStorage) Upload(ctx context.Context, localPath string) (string, error) {
	defer removeStaged(localPath)

	if localPath == "" {
		return "", fmt.Errorf("upload media: empty path")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer src.Close() //nolint:errcheck

	key := objectKey(localPath, s.now().UTC())
	if _, err := s.files.SaveStream(key, src); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// Delete implements Storage.
func (s *LocalStorage) Delete(ctx context.Context, url string) error {
	key := keyFromURL(s.baseURL, url)
	if key == "" || !s.files.Exists(key) {
		return ErrNotFound
	}
	if err := s.files.Delete(key); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}
