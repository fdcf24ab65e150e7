package rag

import "time"

// Config RAG 模块配置
type Config struct {
	// Chunker
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`

	// 检索
	DefaultTopK int `json:"default_top_k"`
	VectorSize  int `json:"vector_size"`

	// query 向量缓存 TTL（秒），0 = 禁用
	EmbeddingCacheTTL int `json:"embedding_cache_ttl"`
	// embed-doc 回填并发
	BackfillPoolSize int `json:"backfill_pool_size"`

	// 只接受的内容类型
	ContentTypes []string `json:"content_types"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:         DefaultChunkSize,
		ChunkOverlap:      DefaultChunkOverlap,
		DefaultTopK:       5,
		VectorSize:        3072,
		EmbeddingCacheTTL: 0,
		BackfillPoolSize:  4,
		ContentTypes:      []string{"text/plain"},
	}
}

// HasCache 是否启用 query 向量缓存
func (c *Config) HasCache() bool {
	return c.EmbeddingCacheTTL > 0
}

// CacheTTL 缓存 TTL
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.EmbeddingCacheTTL) * time.Second
}

// Validate 启动时校验分块参数。
func (c *Config) Validate() error {
	_, err := NewChunker(c.ChunkSize, c.ChunkOverlap)
	return err
}
