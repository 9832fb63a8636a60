package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
)

func newRedisSessions(t *testing.T) (*RedisSessionRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSessionRepository(client, "", time.Hour), mr
}

func TestRedisSessionSetGetClear(t *testing.T) {
	repo, mr := newRedisSessions(t)
	ctx := context.Background()

	token, err := repo.GetRefreshToken(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, repo.SetRefreshToken(ctx, "u1", "tok"))
	token, err = repo.GetRefreshToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, time.Hour, mr.TTL("session:refresh:u1"))

	require.NoError(t, repo.ClearRefreshToken(ctx, "u1"))
	require.NoError(t, repo.ClearRefreshToken(ctx, "u1"))
	assert.False(t, mr.Exists("session:refresh:u1"))
}

func TestRedisSessionExpires(t *testing.T) {
	repo, mr := newRedisSessions(t)
	ctx := context.Background()

	require.NoError(t, repo.SetRefreshToken(ctx, "u1", "tok"))
	mr.FastForward(2 * time.Hour)

	token, err := repo.GetRefreshToken(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestRedisSessionRotate(t *testing.T) {
	repo, _ := newRedisSessions(t)
	ctx := context.Background()

	require.NoError(t, repo.SetRefreshToken(ctx, "u1", "old"))
	require.NoError(t, repo.RotateRefreshToken(ctx, "u1", "old", "new"))

	err := repo.RotateRefreshToken(ctx, "u1", "old", "other")
	assert.ErrorIs(t, err, appErrors.ErrRefreshTokenMismatch)

	token, err := repo.GetRefreshToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", token)

	err = repo.RotateRefreshToken(ctx, "nobody", "old", "new")
	assert.ErrorIs(t, err, appErrors.ErrRefreshTokenMismatch)
}

func TestRedisSessionRotateRace(t *testing.T) {
	repo, _ := newRedisSessions(t)
	ctx := context.Background()
	require.NoError(t, repo.SetRefreshToken(ctx, "u1", "old"))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- repo.RotateRefreshToken(ctx, "u1", "old", "next-"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, appErrors.ErrRefreshTokenMismatch)
	}
	assert.Equal(t, 1, wins)
}
