package openai

import (
	"context"
	"encoding/json"
	"errors"

	"ragworker/internal/domain/rag"
)

// EmbeddingClient Azure embeddings 端点，实现 rag.Embedder
type EmbeddingClient struct {
	caller *caller
	dims   int
}

var _ rag.Embedder = (*EmbeddingClient)(nil)

// NewEmbeddingClient 创建 embedding 客户端
func NewEmbeddingClient(cfg Config) (*EmbeddingClient, error) {
	cfg = cfg.withDefaults()
	if cfg.EmbeddingURL == "" {
		return nil, errors.New("missing Azure embedding configuration (endpoint/deployment/version)")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("missing AZURE_OPENAI_API_KEY")
	}
	return &EmbeddingClient{
		caller: newCaller(rag.ServiceEmbedding, cfg.EmbeddingURL, cfg.EmbeddingTimeout, cfg),
		dims:   cfg.Dims,
	}, nil
}

func (e *EmbeddingClient) Dims() int { return e.dims }

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed 返回长度恰为 Dims() 的向量；长度不符视为畸形响应，不重试
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := e.caller.post(ctx, map[string]string{"input": text})
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed(rag.ServiceEmbedding, "failed to parse embedding response: %v", err)
	}
	if len(resp.Data) == 0 {
		return nil, malformed(rag.ServiceEmbedding, "azure embedding response missing data")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != e.dims {
		return nil, malformed(rag.ServiceEmbedding, "embedding dimension mismatch: got %d, want %d", len(vec), e.dims)
	}
	return vec, nil
}
