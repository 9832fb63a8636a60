package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/videotube-api/pkg/jobs"
	"github.com/noah-isme/videotube-api/pkg/media"
)

const taskMediaDelete = "media.delete"

// MediaJanitor deletes images that are no longer referenced by any user.
type MediaJanitor struct {
	store  media.Storage
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewMediaJanitor builds a janitor backed by a worker queue.
func NewMediaJanitor(store media.Storage, cfg jobs.Config) *MediaJanitor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	j := &MediaJanitor{store: store, logger: cfg.Logger}
	j.queue = jobs.NewQueue("media-janitor", j.handle, cfg)
	return j
}

// Start launches the workers.
func (j *MediaJanitor) Start(ctx context.Context) {
	j.queue.Start(ctx)
}

// Close drains pending deletions.
func (j *MediaJanitor) Close(ctx context.Context) error {
	return j.queue.Close(ctx)
}

// Discard schedules url for deletion and reports whether it was queued.
func (j *MediaJanitor) Discard(url string) bool {
	err := j.queue.Submit(jobs.Task{ID: uuid.NewString(), Kind: taskMediaDelete, Target: url})
	if err != nil {
		j.logger.Debug("media deletion not queued", zap.String("url", url), zap.Error(err))
		return false
	}
	return true
}

func (j *MediaJanitor) handle(ctx context.Context, task jobs.Task) error {
	err := j.store.Delete(ctx, task.Target)
	if err == nil || errors.Is(err, media.ErrNotFound) {
		return nil
	}
	return err
}
