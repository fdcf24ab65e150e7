package rag

import (
	"context"
	"time"
)

// DocumentStore 文档状态存储（kb_document / kb_chunk）。
// 每个方法都是原子操作；存储层不做重试，错误直接返回给调用方。
type DocumentStore interface {
	// EnsureExists 不存在则插入 PENDING / chunk_count=0，已存在不做任何修改。
	EnsureExists(ctx context.Context, docID, tenantID, kbID string) error
	// MarkProcessing 条件更新 PENDING|ERROR -> PROCESSING，返回是否抢到。
	MarkProcessing(ctx context.Context, docID string) (bool, error)
	// MarkReady 无条件置 READY，写 chunk_count，清空 error_message。
	MarkReady(ctx context.Context, docID string, chunkCount int) error
	// MarkError 无条件置 ERROR 并记录原因。
	MarkError(ctx context.Context, docID, message string) error
	// ResetToPending 单事务内删除所有 chunk 并置 PENDING / 0。
	ResetToPending(ctx context.Context, docID string) error
	// UpsertChunks 单事务内冲突忽略写入 chunk，并置 READY / chunk_count。
	UpsertChunks(ctx context.Context, docID, tenantID, kbID string, chunks []Chunk) error

	FetchDocument(ctx context.Context, docID string) (*Document, error)
	FetchChunks(ctx context.Context, docID string) ([]Chunk, error)
	HasChunks(ctx context.Context, docID string) (bool, error)
}

// VectorPoint 写入向量库的点
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// VectorIndex 向量库（Qdrant）。Search 在集合不存在时返回 ErrCollectionNotFound。
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string, dims int) error
	Upsert(ctx context.Context, collection string, points []VectorPoint) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchHit, error)
}

// Embedder 文本向量化。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string
	Content string
}

// ChatClient 对话补全。
type ChatClient interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// ObjectStore 对象存储（MinIO / S3）。
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// EmbeddingCache query 向量缓存（可选）。
type EmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool)
	Set(ctx context.Context, text string, vector []float32, ttl time.Duration)
}
