package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"ragworker/internal/domain/rag"
	applog "ragworker/internal/platform/log"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// TraceHeader 调用方可通过该请求头传入 trace id，响应中回写
const TraceHeader = "X-Trace-Id"

// RAGHandler 同步 search / answer，与异步 worker 共用同一错误码体系
type RAGHandler struct {
	answerer *rag.Answerer
}

// NewRAGHandler 创建处理器
func NewRAGHandler(answerer *rag.Answerer) *RAGHandler {
	return &RAGHandler{answerer: answerer}
}

// RegisterRoutes 注册路由
func (h *RAGHandler) RegisterRoutes(r chi.Router) {
	r.Post("/search", h.Search)
	r.Post("/answer", h.Answer)
}

// Search POST /search
func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, rag.TaskSearch, func(ctx context.Context, req *rag.TaskRequest, topK int) (any, error) {
		res, err := h.answerer.Retriever().Search(ctx, req.TenantID, req.KBID, req.Query, topK)
		if err != nil {
			return nil, err
		}
		return rag.NewSearchResultEvent(req.RequestID, rag.TraceFrom(ctx).TraceID, res), nil
	})
}

// Answer POST /answer
func (h *RAGHandler) Answer(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, rag.TaskAnswer, func(ctx context.Context, req *rag.TaskRequest, topK int) (any, error) {
		res, err := h.answerer.Answer(ctx, req.TenantID, req.KBID, req.Question, topK)
		if err != nil {
			return nil, err
		}
		return rag.NewAnswerResultEvent(req.RequestID, rag.TraceFrom(ctx).TraceID, res), nil
	})
}

type execFunc func(ctx context.Context, req *rag.TaskRequest, topK int) (any, error)

// serve 解析请求、校验作用域、执行并写出响应；每个请求结束打一行完成日志
func (h *RAGHandler) serve(w http.ResponseWriter, r *http.Request, task rag.TaskType, exec execFunc) {
	start := time.Now()
	traceID := strings.TrimSpace(r.Header.Get(TraceHeader))
	if traceID == "" {
		traceID = uuid.NewString()
	}
	w.Header().Set(TraceHeader, traceID)

	var (
		req    *rag.TaskRequest
		status int
	)
	defer func() {
		args := []any{
			"type", task,
			"trace_id", traceID,
			"http_request_id", middleware.GetReqID(r.Context()),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if req != nil {
			args = append(args, "tenant_id", req.TenantID, "kb_id", req.KBID)
		}
		applog.Info("[API] Request completed", args...)
	}()

	if h.answerer == nil {
		status = writeClassified(w, fmt.Errorf("%s service not configured", strings.ToLower(string(task))))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		status = writeClassified(w, fmt.Errorf("%w: read body: %v", rag.ErrInvalidRequest, err))
		return
	}
	req, err = rag.DecodeTaskRequest(body)
	if err != nil {
		status = writeClassified(w, err)
		return
	}

	if scope := ScopeFrom(r.Context()); !scope.allows(req.TenantID) {
		writeError(w, rag.CodeForbiddenScope, "tenant_id does not match token scope")
		status = rag.CodeForbiddenScope.HTTPStatus()
		return
	}

	topK := h.answerer.Retriever().DefaultTopK()
	if req.TopK != nil {
		topK = *req.TopK
	}

	ctx := rag.WithTrace(r.Context(), &rag.TraceInfo{RequestID: req.RequestID, TraceID: traceID})
	result, err := exec(ctx, req, topK)
	if err != nil {
		applog.Error("[API] Request failed", "type", task, "trace_id", traceID, "error", err)
		status = writeClassified(w, err)
		return
	}

	status = http.StatusOK
	writeJSON(w, status, result)
}
