package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	applog "ragworker/internal/platform/log"
)

// Retriever 语义检索：embed query -> 向量库 top-k
type Retriever struct {
	index    VectorIndex
	embedder Embedder
	config   *Config
}

// NewRetriever 创建检索服务
func NewRetriever(index VectorIndex, embedder Embedder, config *Config) *Retriever {
	if config == nil {
		config = DefaultConfig()
	}
	return &Retriever{
		index:    index,
		embedder: embedder,
		config:   config,
	}
}

// DefaultTopK 未指定 topk 时使用的值
func (r *Retriever) DefaultTopK() int {
	if r.config.DefaultTopK > 0 {
		return r.config.DefaultTopK
	}
	return 5
}

// Search 在 tenant/kb 的集合中检索与 query 最相近的 topK 个分块。
func (r *Retriever) Search(ctx context.Context, tenantID, kbID, query string, topK int) (*SearchResult, error) {
	if err := validateScope(tenantID, kbID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topk must be > 0", ErrInvalidRequest)
	}

	start := time.Now()
	collection := Namespace(tenantID, kbID)

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, collection, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search %s: %w", collection, err)
	}
	if hits == nil {
		hits = make([]SearchHit, 0)
	}

	trace := TraceFrom(ctx)
	applog.Info("[Search] Done",
		"request_id", trace.RequestID,
		"trace_id", trace.TraceID,
		"collection", collection,
		"topk", topK,
		"hits", len(hits),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &SearchResult{
		Collection: collection,
		TopK:       topK,
		Hits:       hits,
	}, nil
}

// Answerer 基于检索结果的问答
type Answerer struct {
	retriever *Retriever
	chat      ChatClient
}

// NewAnswerer 创建问答服务
func NewAnswerer(retriever *Retriever, chat ChatClient) *Answerer {
	return &Answerer{retriever: retriever, chat: chat}
}

// Retriever 返回底层检索服务
func (a *Answerer) Retriever() *Retriever {
	return a.retriever
}

// Answer 检索后拼接上下文调用 chat；没有命中时直接返回固定回答，不调用 chat。
func (a *Answerer) Answer(ctx context.Context, tenantID, kbID, question string, topK int) (*AnswerResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}

	res, err := a.retriever.Search(ctx, tenantID, kbID, question, topK)
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 {
		return &AnswerResult{Answer: NoAnswer, Sources: make([]AnswerSource, 0)}, nil
	}

	messages := []ChatMessage{
		{Role: "system", Content: AnswerSystemPrompt},
		{Role: "user", Content: BuildUserPrompt(res.Hits, question)},
	}
	answer, err := a.chat.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	sources := make([]AnswerSource, 0, len(res.Hits))
	for _, h := range res.Hits {
		sources = append(sources, AnswerSource{DocID: h.DocID, SeqNo: h.SeqNo, Score: h.Score})
	}
	return &AnswerResult{Answer: answer, Sources: sources}, nil
}

func validateScope(tenantID, kbID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(kbID) == "" {
		return fmt.Errorf("%w: kb_id is required", ErrInvalidRequest)
	}
	return nil
}
