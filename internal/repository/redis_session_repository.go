package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
)

const rotateRefreshScript = `
local current = redis.call("GET", KEYS[1])
if not current or current ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// RedisSessionRepository keeps the current refresh token under a per-user key
// that expires with the token. Redis has no view of the directory, so Set
// cannot report a missing user; the services check existence first.
type RedisSessionRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSessionRepository creates a Redis-backed session store.
func NewRedisSessionRepository(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSessionRepository {
	if prefix == "" {
		prefix = "session:refresh"
	}
	return &RedisSessionRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisSessionRepository) key(userID string) string {
	return r.prefix + ":" + userID
}

// SetRefreshToken overwrites the stored token.
func (r *RedisSessionRepository) SetRefreshToken(ctx context.Context, userID, token string) error {
	if err := r.client.Set(ctx, r.key(userID), token, r.ttl).Err(); err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns the stored token, or "" when none is held.
func (r *RedisSessionRepository) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	token, err := r.client.Get(ctx, r.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get refresh token: %w", err)
	}
	return token, nil
}

// ClearRefreshToken deletes the stored token. Deleting a missing key succeeds.
func (r *RedisSessionRepository) ClearRefreshToken(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken replaces expected with next atomically on the server.
func (r *RedisSessionRepository) RotateRefreshToken(ctx context.Context, userID, expected, next string) error {
	swapped, err := rotateRefreshLua.Run(ctx, r.client, []string{r.key(userID)}, expected, next, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if swapped == 0 {
		return appErrors.ErrRefreshTokenMismatch
	}
	return nil
}
