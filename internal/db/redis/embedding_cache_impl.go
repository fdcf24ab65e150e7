package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ragworker/internal/domain/rag"
	applog "ragworker/internal/platform/log"
)

const embeddingPrefix = "rag:emb:"

// NewClient 按 REDIS_URL 创建客户端
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// EmbeddingCache 查询向量 Redis 缓存。读写失败只记日志，调用方退化为直接 embed。
type EmbeddingCache struct {
	redis  *redis.Client
	prefix string
	model  string
}

var _ rag.EmbeddingCache = (*EmbeddingCache)(nil)

// NewEmbeddingCache model 参与 key 计算，切换部署后旧向量自然失效
func NewEmbeddingCache(rdb *redis.Client, model string) *EmbeddingCache {
	return &EmbeddingCache{redis: rdb, prefix: embeddingPrefix, model: model}
}

func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	key := c.cacheKey(text)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			applog.Warn("[Embedder/Cache] Get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		applog.Warn("[Embedder/Cache] Failed to unmarshal cached vector", "key", key, "error", err)
		return nil, false
	}

	applog.Debug("[Embedder/Cache] Hit", "key", key)
	return vec, true
}

func (c *EmbeddingCache) Set(ctx context.Context, text string, vec []float32, ttl time.Duration) {
	key := c.cacheKey(text)
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		applog.Warn("[Embedder/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateAll 清除全部向量缓存
func (c *EmbeddingCache) InvalidateAll(ctx context.Context) (int, error) {
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan embedding cache: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("delete embedding cache: %w", err)
	}
	applog.Info("[Embedder/Cache] Invalidated", "keys_deleted", len(keys))
	return len(keys), nil
}

// cacheKey = prefix + hash(model + text)
func (c *EmbeddingCache) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(c.model + "|" + text))
	return c.prefix + fmt.Sprintf("%x", hash[:16])
}
