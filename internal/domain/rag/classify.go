package rag

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
)

// ErrorCode 对外错误码，HTTP 与异步事件共用。
type ErrorCode string

const (
	CodeInvalidJSON         ErrorCode = "INVALID_JSON"
	CodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	CodeCollectionNotFound  ErrorCode = "COLLECTION_NOT_FOUND"
	CodeQdrantError         ErrorCode = "QDRANT_ERROR"
	CodeAzureUnauthorized   ErrorCode = "AZURE_UNAUTHORIZED"
	CodeAzureRateLimit      ErrorCode = "AZURE_RATE_LIMIT"
	CodeAzureError          ErrorCode = "AZURE_ERROR"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
	CodeUnsupportedContent  ErrorCode = "UNSUPPORTED_CONTENT_TYPE"
	CodeDocumentNotFound    ErrorCode = "DOCUMENT_NOT_FOUND"
	CodeForbiddenScope      ErrorCode = "FORBIDDEN_SCOPE"
	CodeUnauthorizedRequest ErrorCode = "UNAUTHORIZED"
)

// Classify 按固定优先级归类错误：
// JSON/请求形状 -> 内容类型/文档缺失 -> 向量库 -> 上游模型（鉴权、限流、其它） -> 内部错误。
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return CodeInvalidJSON
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrUnsupportedContentType):
		return CodeUnsupportedContent
	case errors.Is(err, ErrDocumentNotFound):
		return CodeDocumentNotFound
	case errors.Is(err, ErrCollectionNotFound):
		return CodeCollectionNotFound
	case isService(err, ServiceVectorIndex):
		return CodeQdrantError
	case errors.Is(err, ErrUnauthorized):
		return CodeAzureUnauthorized
	case errors.Is(err, ErrRateLimited):
		return CodeAzureRateLimit
	case isService(err, ServiceEmbedding), isService(err, ServiceChat):
		return CodeAzureError
	default:
		return CodeInternalError
	}
}

// HTTPStatus 错误码对应的 HTTP 状态码。
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeInvalidJSON, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnsupportedContent:
		return http.StatusUnsupportedMediaType
	case CodeCollectionNotFound, CodeDocumentNotFound:
		return http.StatusNotFound
	case CodeQdrantError, CodeAzureUnauthorized, CodeAzureError:
		return http.StatusBadGateway
	case CodeAzureRateLimit:
		return http.StatusServiceUnavailable
	case CodeUnauthorizedRequest:
		return http.StatusUnauthorized
	case CodeForbiddenScope:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable 只有限流与瞬时错误（含超时）可以重试。
// 鉴权失败、校验失败、集合不存在永不重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidJSON) || errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrUnsupportedContentType) || errors.Is(err, ErrDocumentNotFound) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isService(err error, svc Service) bool {
	var up *UpstreamError
	if !errors.As(err, &up) {
		return false
	}
	return up.Service == svc
}
