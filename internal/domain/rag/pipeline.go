package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	applog "ragworker/internal/platform/log"
)

// IngestOutcome 单条入库事件的处理结果
type IngestOutcome string

const (
	OutcomeIngested IngestOutcome = "INGESTED" // 本次完成分块写入
	OutcomeSkipped  IngestOutcome = "SKIPPED"  // READY / PROCESSING / 抢占失败
	OutcomeRejected IngestOutcome = "REJECTED" // 事件不合法，未抢占
	OutcomeFailed   IngestOutcome = "FAILED"   // 处理失败（抢占后已标记 ERROR，或抢占前存储异常）
)

// Pipeline 文档入库：确保存在 -> 自愈 -> 条件抢占 -> 拉取内容 -> 分块 -> 原子写入。
// 并发安全只依赖 MarkProcessing 的条件更新，进程内不加锁、不缓存状态。
type Pipeline struct {
	store   DocumentStore
	objects ObjectStore
	chunker *Chunker
	parsers *ParserRegistry
	now     func() time.Time
}

// NewPipeline 创建入库 Pipeline
func NewPipeline(store DocumentStore, objects ObjectStore, chunker *Chunker, parsers *ParserRegistry) *Pipeline {
	if parsers == nil {
		parsers = NewParserRegistry()
	}
	return &Pipeline{
		store:   store,
		objects: objects,
		chunker: chunker,
		parsers: parsers,
		now:     time.Now,
	}
}

// DecodeIngestEvent 解析入库事件，所有字段必填（requested_at 除外）。
func DecodeIngestEvent(payload []byte) (*IngestEvent, error) {
	var ev IngestEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	required := []struct{ name, value string }{
		{"tenant_id", ev.TenantID},
		{"kb_id", ev.KBID},
		{"doc_id", ev.DocID},
		{"object_key", ev.ObjectKey},
		{"trace_id", ev.TraceID},
		{"content_type", ev.ContentType},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, fmt.Errorf("%w: missing field %s", ErrInvalidRequest, f.name)
		}
	}
	return &ev, nil
}

// Handle 处理一条原始消息。无论结果如何调用方都应提交（fail forward）。
func (p *Pipeline) Handle(ctx context.Context, payload []byte) (IngestOutcome, error) {
	ev, err := DecodeIngestEvent(payload)
	if err != nil {
		applog.Warn("[Ingest] Invalid message", "error", err)
		return OutcomeRejected, err
	}
	return p.Ingest(ctx, ev)
}

// Ingest 处理一条已解析的入库事件。
func (p *Pipeline) Ingest(ctx context.Context, ev *IngestEvent) (IngestOutcome, error) {
	start := p.now()
	log := applog.With("doc_id", ev.DocID, "tenant_id", ev.TenantID, "kb_id", ev.KBID, "trace_id", ev.TraceID)

	claimed, outcome, err := p.claim(ctx, ev)
	if err != nil {
		log.Error("[Ingest] Failed before claim", "error", err)
		return OutcomeFailed, err
	}
	if !claimed {
		return outcome, nil
	}

	count, err := p.process(ctx, ev)
	if err != nil {
		log.Error("[Ingest] Processing failed, marking ERROR", "error", err)
		if markErr := p.store.MarkError(ctx, ev.DocID, err.Error()); markErr != nil {
			log.Error("[Ingest] Mark error failed", "error", markErr)
			return OutcomeFailed, errors.Join(err, fmt.Errorf("mark error: %w", markErr))
		}
		return OutcomeFailed, err
	}

	log.Info("[Ingest] Completed",
		"chunk_count", count,
		"latency_ms", p.now().Sub(start).Milliseconds(),
	)
	return OutcomeIngested, nil
}

// claim 返回是否抢到处理权；未抢到时给出跳过原因。
func (p *Pipeline) claim(ctx context.Context, ev *IngestEvent) (bool, IngestOutcome, error) {
	if err := p.store.EnsureExists(ctx, ev.DocID, ev.TenantID, ev.KBID); err != nil {
		return false, OutcomeFailed, fmt.Errorf("ensure document: %w", err)
	}

	doc, err := p.store.FetchDocument(ctx, ev.DocID)
	if err != nil {
		return false, OutcomeFailed, fmt.Errorf("fetch document: %w", err)
	}
	if doc == nil {
		return false, OutcomeFailed, fmt.Errorf("%w: %s missing after ensure", ErrDocumentNotFound, ev.DocID)
	}

	status := doc.Status
	if status == StatusReady {
		has, err := p.store.HasChunks(ctx, ev.DocID)
		if err != nil {
			return false, OutcomeFailed, fmt.Errorf("check chunks: %w", err)
		}
		if !has {
			applog.Warn("[Ingest] READY without chunk rows, resetting to PENDING", "doc_id", ev.DocID)
			if err := p.store.ResetToPending(ctx, ev.DocID); err != nil {
				return false, OutcomeFailed, fmt.Errorf("reset to pending: %w", err)
			}
			status = StatusPending
		}
	}

	switch status {
	case StatusReady:
		applog.Info("[Ingest] Already READY, skip", "doc_id", ev.DocID)
		return false, OutcomeSkipped, nil
	case StatusProcessing:
		applog.Info("[Ingest] Already PROCESSING, skip", "doc_id", ev.DocID)
		return false, OutcomeSkipped, nil
	}

	ok, err := p.store.MarkProcessing(ctx, ev.DocID)
	if err != nil {
		return false, OutcomeFailed, fmt.Errorf("mark processing: %w", err)
	}
	if !ok {
		applog.Info("[Ingest] Lost claim, skip", "doc_id", ev.DocID)
		return false, OutcomeSkipped, nil
	}
	applog.Info("[Ingest] Claimed (PENDING/ERROR -> PROCESSING)", "doc_id", ev.DocID)
	return true, "", nil
}

func (p *Pipeline) process(ctx context.Context, ev *IngestEvent) (int, error) {
	parser, err := p.parsers.Get(ev.ContentType)
	if err != nil {
		return 0, err
	}

	data, err := p.objects.Get(ctx, ev.ObjectKey)
	if err != nil {
		return 0, fmt.Errorf("fetch object %s: %w", ev.ObjectKey, err)
	}

	text, err := parser.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("parse object %s: %w", ev.ObjectKey, err)
	}

	chunks := p.chunker.Chunk(text)
	if err := p.store.UpsertChunks(ctx, ev.DocID, ev.TenantID, ev.KBID, chunks); err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}
	return len(chunks), nil
}
