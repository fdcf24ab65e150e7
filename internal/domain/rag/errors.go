package rag

import (
	"errors"
	"fmt"
)

// 下层只返回类型化错误；分类与状态决策只在 pipeline / worker / api 层进行。
var (
	ErrInvalidJSON            = errors.New("invalid json")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrCollectionNotFound     = errors.New("collection not found")
	ErrUnauthorized           = errors.New("upstream unauthorized")
	ErrRateLimited            = errors.New("upstream rate limited")
	ErrTransient              = errors.New("upstream transient failure")
	ErrMalformedResponse      = errors.New("malformed upstream response")
	ErrRetriesExhausted       = errors.New("failed after retries")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrDocumentNotFound       = errors.New("document not found")
	ErrInvalidChunkConfig     = errors.New("invalid chunk config")
)

// Service 下游服务标识
type Service string

const (
	ServiceEmbedding   Service = "embedding"
	ServiceChat        Service = "chat"
	ServiceVectorIndex Service = "vector_index"
	ServiceObjectStore Service = "object_store"
)

// UpstreamError 下游调用失败。Err 为上面的哨兵错误之一（或网络错误），
// 便于 errors.Is 判断是否可重试以及归类。
type UpstreamError struct {
	Service Service
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Service, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError 根据 HTTP 状态码构造下游错误：
// 401/403 -> ErrUnauthorized，429 -> ErrRateLimited，5xx -> ErrTransient，其余 -> ErrMalformedResponse。
func NewUpstreamError(svc Service, status int, message string) *UpstreamError {
	var kind error
	switch {
	case status == 401 || status == 403:
		kind = ErrUnauthorized
	case status == 429:
		kind = ErrRateLimited
	case status >= 500:
		kind = ErrTransient
	default:
		kind = ErrMalformedResponse
	}
	return &UpstreamError{Service: svc, Status: status, Message: truncate(message, 512), Err: kind}
}

// exhaustedError 重试耗尽：同时匹配 ErrRetriesExhausted 与最后一次失败。
type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%s (%d attempts): %v", ErrRetriesExhausted, e.attempts, e.last)
}

func (e *exhaustedError) Unwrap() []error { return []error{ErrRetriesExhausted, e.last} }

// RetriesExhausted 包装最后一次错误，保留其分类信号（如 429）。
func RetriesExhausted(attempts int, last error) error {
	return &exhaustedError{attempts: attempts, last: last}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
