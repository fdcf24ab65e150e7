package rag

import (
	"encoding/json"
	"fmt"
	"time"
)

// DocumentStatus 文档状态机：PENDING -> PROCESSING -> READY | ERROR。
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusReady      DocumentStatus = "READY"
	StatusError      DocumentStatus = "ERROR"
)

// Document 文档记录（kb_document）
type Document struct {
	ID           string         `json:"doc_id"`
	TenantID     string         `json:"tenant_id"`
	KBID         string         `json:"kb_id"`
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunk_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Chunk 文档分块（kb_chunk），写入后不可变
type Chunk struct {
	SeqNo         int    `json:"seq_no"`
	Content       string `json:"content"`
	ContentDigest string `json:"content_sha256"`
}

// IngestEvent 文档入库事件（doc_ingest topic）
type IngestEvent struct {
	TenantID    string `json:"tenant_id"`
	KBID        string `json:"kb_id"`
	DocID       string `json:"doc_id"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
	TraceID     string `json:"trace_id"`
	RequestedAt string `json:"requested_at"`
}

// TaskType 请求类型（闭集）
type TaskType string

const (
	TaskSearch TaskType = "SEARCH"
	TaskAnswer TaskType = "ANSWER"
)

// TaskRequest search/answer 请求事件。
// TopK 为指针以区分“未提供”（默认值）与显式 0（非法）。
type TaskRequest struct {
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id"`
	TenantID  string `json:"tenant_id"`
	KBID      string `json:"kb_id"`
	Query     string `json:"query,omitempty"`
	Question  string `json:"question,omitempty"`
	TopK      *int   `json:"topk,omitempty"`
}

// Text 返回 search 的 query 或 answer 的 question。
func (r *TaskRequest) Text(t TaskType) string {
	if t == TaskAnswer {
		return r.Question
	}
	return r.Query
}

// SearchHit 单条向量检索命中
type SearchHit struct {
	Score   float64 `json:"score"`
	DocID   string  `json:"doc_id"`
	SeqNo   int     `json:"seq_no"`
	Content string  `json:"content"`
}

// SearchResult search 结果
type SearchResult struct {
	Collection string      `json:"collection"`
	TopK       int         `json:"topk"`
	Hits       []SearchHit `json:"hits"`
}

// AnswerSource answer 引用来源
type AnswerSource struct {
	DocID string  `json:"doc_id"`
	SeqNo int     `json:"seq_no"`
	Score float64 `json:"score"`
}

// AnswerResult answer 结果
type AnswerResult struct {
	Answer  string         `json:"answer"`
	Sources []AnswerSource `json:"sources"`
}

// ── 对外事件 / HTTP 结构 ─────────────────────────────────────

// RankedHit 结果事件中的单条命中（rank 从 1 开始）
type RankedHit struct {
	Rank    int     `json:"rank"`
	Score   float64 `json:"score"`
	DocID   string  `json:"doc_id"`
	SeqNo   int     `json:"seq_no"`
	Content string  `json:"content"`
}

// SearchResultEvent rag_search_result 事件 / POST /search 响应
type SearchResultEvent struct {
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id"`
	Status     string      `json:"status"`
	Collection string      `json:"collection,omitempty"`
	TopK       int         `json:"topk,omitempty"`
	Results    []RankedHit `json:"results"`
}

// AnswerResultEvent rag_answer_result 事件 / POST /answer 响应
type AnswerResultEvent struct {
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id"`
	Status    string         `json:"status"`
	Answer    string         `json:"answer"`
	Sources   []AnswerSource `json:"sources"`
}

// ErrorBody 错误体 {code, message}
type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// FailureEvent rag_failed 事件
type FailureEvent struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	Type      TaskType  `json:"type"`
	Error     ErrorBody `json:"error"`
}

const statusOK = "OK"

// NewSearchResultEvent 将检索结果转为事件结构（rank 从 1 开始）。
func NewSearchResultEvent(requestID, traceID string, res *SearchResult) *SearchResultEvent {
	ev := &SearchResultEvent{
		RequestID: requestID,
		TraceID:   traceID,
		Status:    statusOK,
		Results:   make([]RankedHit, 0),
	}
	if res == nil {
		return ev
	}
	ev.Collection = res.Collection
	ev.TopK = res.TopK
	for i, h := range res.Hits {
		ev.Results = append(ev.Results, RankedHit{
			Rank:    i + 1,
			Score:   h.Score,
			DocID:   h.DocID,
			SeqNo:   h.SeqNo,
			Content: h.Content,
		})
	}
	return ev
}

// NewAnswerResultEvent 将回答结果转为事件结构。
func NewAnswerResultEvent(requestID, traceID string, res *AnswerResult) *AnswerResultEvent {
	ev := &AnswerResultEvent{
		RequestID: requestID,
		TraceID:   traceID,
		Status:    statusOK,
		Sources:   make([]AnswerSource, 0),
	}
	if res == nil {
		return ev
	}
	ev.Answer = res.Answer
	if res.Sources != nil {
		ev.Sources = res.Sources
	}
	return ev
}

// DecodeTaskRequest 解析请求事件。非 JSON 对象返回 ErrInvalidJSON。
func DecodeTaskRequest(payload []byte) (*TaskRequest, error) {
	var req TaskRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &req, nil
}
