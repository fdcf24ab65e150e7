package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPriority(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"json", fmt.Errorf("%w: eof", ErrInvalidJSON), CodeInvalidJSON},
		{"request", fmt.Errorf("%w: topk", ErrInvalidRequest), CodeInvalidRequest},
		{"content type", fmt.Errorf("%w: \"image/png\"", ErrUnsupportedContentType), CodeUnsupportedContent},
		{"document", fmt.Errorf("%w: doc-9", ErrDocumentNotFound), CodeDocumentNotFound},
		{"collection", fmt.Errorf("search: %w", ErrCollectionNotFound), CodeCollectionNotFound},
		{"qdrant 500", NewUpstreamError(ServiceVectorIndex, 500, "oops"), CodeQdrantError},
		{"qdrant 401 stays index error", NewUpstreamError(ServiceVectorIndex, 401, "denied"), CodeQdrantError},
		{"embedding 403", NewUpstreamError(ServiceEmbedding, 403, "forbidden"), CodeAzureUnauthorized},
		{"chat 429", NewUpstreamError(ServiceChat, 429, "slow down"), CodeAzureRateLimit},
		{"exhausted keeps 429", RetriesExhausted(3, NewUpstreamError(ServiceEmbedding, 429, "slow")), CodeAzureRateLimit},
		{"embedding 500", NewUpstreamError(ServiceEmbedding, 502, "bad gateway"), CodeAzureError},
		{"chat malformed", &UpstreamError{Service: ServiceChat, Message: "no choices", Err: ErrMalformedResponse}, CodeAzureError},
		{"other", errors.New("disk full"), CodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, Classify(tc.err))
		})
	}
	assert.Equal(t, ErrorCode(""), Classify(nil))
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, CodeInvalidJSON.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, CodeInvalidRequest.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, CodeCollectionNotFound.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, CodeDocumentNotFound.HTTPStatus())
	assert.Equal(t, http.StatusUnsupportedMediaType, CodeUnsupportedContent.HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, CodeQdrantError.HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, CodeAzureError.HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, CodeAzureUnauthorized.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, CodeAzureRateLimit.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, CodeInternalError.HTTPStatus())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewUpstreamError(ServiceChat, 429, "")))
	assert.True(t, IsRetryable(NewUpstreamError(ServiceEmbedding, 503, "")))
	assert.True(t, IsRetryable(RetriesExhausted(3, NewUpstreamError(ServiceEmbedding, 429, ""))))
	assert.True(t, IsRetryable(fmt.Errorf("call: %w", context.DeadlineExceeded)))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(NewUpstreamError(ServiceChat, 403, "")))
	assert.False(t, IsRetryable(NewUpstreamError(ServiceChat, 400, "")))
	assert.False(t, IsRetryable(ErrInvalidRequest))
	assert.False(t, IsRetryable(ErrCollectionNotFound))
	assert.False(t, IsRetryable(ErrUnsupportedContentType))
	assert.False(t, IsRetryable(ErrDocumentNotFound))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestRetriesExhaustedMessage(t *testing.T) {
	err := RetriesExhausted(3, NewUpstreamError(ServiceEmbedding, 500, "down"))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "failed after retries")
}
