package redisdb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestCacheKey(t *testing.T) {
	c := NewEmbeddingCache(nil, "text-embedding-3-large")
	k1 := c.cacheKey("refund policy")

	assert.True(t, strings.HasPrefix(k1, "rag:emb:"))
	assert.Len(t, k1, len("rag:emb:")+32)
	assert.Equal(t, k1, c.cacheKey("refund policy"))
	assert.NotEqual(t, k1, c.cacheKey("refund policy "))
	assert.NotEqual(t, k1, NewEmbeddingCache(nil, "other-model").cacheKey("refund policy"))
}

func TestUnreachableRedisDegradesToMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	c := NewEmbeddingCache(rdb, "m")

	ctx := context.Background()
	c.Set(ctx, "q", []float32{1, 2}, time.Minute)
	vec, ok := c.Get(ctx, "q")
	assert.False(t, ok)
	assert.Nil(t, vec)
}
