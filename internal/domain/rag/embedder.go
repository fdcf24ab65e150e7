package rag

import (
	"context"
	"time"

	applog "ragworker/internal/platform/log"
)

// CachingEmbedder 在 Embedder 前加一层 query 向量缓存。
// 缓存读写失败只记录日志，回落到直接调用。
type CachingEmbedder struct {
	inner Embedder
	cache EmbeddingCache
	ttl   time.Duration
}

// NewCachingEmbedder cache 为 nil 或 ttl <= 0 时直接返回 inner。
func NewCachingEmbedder(inner Embedder, cache EmbeddingCache, ttl time.Duration) Embedder {
	if cache == nil || ttl <= 0 {
		return inner
	}
	return &CachingEmbedder{inner: inner, cache: cache, ttl: ttl}
}

func (e *CachingEmbedder) Dims() int {
	return e.inner.Dims()
}

func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(ctx, text); ok && len(vec) == e.inner.Dims() {
		applog.Debug("[Embedder] Cache hit", "dims", len(vec))
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, text, vec, e.ttl)
	return vec, nil
}
