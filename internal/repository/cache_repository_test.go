package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

func TestCacheRepositoryWithoutRedis(t *testing.T) {
	repo := NewCacheRepository(nil, "")
	var dest []string
	assert.ErrorIs(t, repo.Get(context.Background(), "courses", &dest), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(context.Background(), "courses", []string{"a"}, time.Minute))
	require.NoError(t, repo.Delete(context.Background(), "courses"))
}

func TestCacheRepositoryNamespacesKeys(t *testing.T) {
	assert.Equal(t, "signup:cache:courses:overview", NewCacheRepository(nil, "").key("courses:overview"))
	assert.Equal(t, "lc:cache:x", NewCacheRepository(nil, "lc").key("x"))
}

func TestRateLimitRepositoryWithoutRedisAllows(t *testing.T) {
	repo := NewRateLimitRepository(nil, "")
	for i := 0; i < 5; i++ {
		ok, retryAfter, err := repo.Allow(context.Background(), "ada@example.org", 1, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, retryAfter)
	}
}
