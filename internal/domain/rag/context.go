package rag

import (
	"context"
	"strconv"
	"strings"
)

// NamespaceSeparator tenant 与 kb 之间的分隔符
const NamespaceSeparator = "__"

// Namespace 向量库集合名 = tenant + "__" + kb
func Namespace(tenantID, kbID string) string {
	return tenantID + NamespaceSeparator + kbID
}

// ── trace 注入（日志关联用）──────────────────────────────────

// TraceInfo 请求关联信息
type TraceInfo struct {
	RequestID string
	TraceID   string
}

type traceContextKey struct{}

// WithTrace 注入 TraceInfo 到 context
func WithTrace(ctx context.Context, t *TraceInfo) context.Context {
	return context.WithValue(ctx, traceContextKey{}, t)
}

// TraceFrom 从 context 提取 TraceInfo，不存在时返回空结构
func TraceFrom(ctx context.Context) *TraceInfo {
	if t, ok := ctx.Value(traceContextKey{}).(*TraceInfo); ok && t != nil {
		return t
	}
	return &TraceInfo{}
}

// ── answer prompt ────────────────────────────────────────────

// AnswerSystemPrompt 限定模型只根据上下文作答
const AnswerSystemPrompt = `You are a retrieval-augmented assistant.
Answer the question ONLY using the provided context.
If the answer is not contained in the context, say "I don't know based on the provided documents."
Do NOT use any outside knowledge.
Cite sources using the provided document identifiers.`

// NoAnswer 没有任何命中时的固定回答
const NoAnswer = "I don't know based on the provided documents."

// FormatContext 按命中顺序拼接上下文块：
//
//	[doc_id=X seq_no=N score=S]
//	content
//
// 块之间空一行。
func FormatContext(hits []SearchHit) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[doc_id=")
		b.WriteString(h.DocID)
		b.WriteString(" seq_no=")
		b.WriteString(strconv.Itoa(h.SeqNo))
		b.WriteString(" score=")
		b.WriteString(strconv.FormatFloat(h.Score, 'g', 6, 64))
		b.WriteString("]\n")
		b.WriteString(h.Content)
	}
	return b.String()
}

// BuildUserPrompt 上下文块 + 问题
func BuildUserPrompt(hits []SearchHit, question string) string {
	block := FormatContext(hits)
	if block != "" {
		block += "\n\n"
	}
	return block + "Question:\n" + question
}
